package embedded

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FS is the filesystem exposed to the program as the fs global.
type FS interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, mode uint32) error
	Remove(name string) error
	Exists(name string) bool
	List(dir string) ([]string, error)
}

// Config configures one process instance.
type Config struct {
	Env    map[string]string
	FS     FS
	Logger *zap.Logger
	// QueueSize bounds jobs waiting for the event loop.
	QueueSize int
}

// Process is one running instance of the embedded server. The VM is only
// touched from the event-loop goroutine; every other goroutine posts jobs.
type Process struct {
	id     string
	vm     *goja.Runtime
	cfg    Config
	logger *zap.Logger

	jobs     chan func()
	done     chan struct{}
	loopDone chan struct{}
	ready    atomic.Bool

	exitOnce sync.Once
	exitErr  error

	mu      sync.Mutex
	closed  bool
	closers []io.Closer
	timers  *timers
}

// Start creates a process and runs prog on its event loop. It returns as
// soon as the program is scheduled; readiness is reported by Ready.
func Start(prog *Program, cfg Config) (*Process, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	id := uuid.NewString()
	p := &Process{
		id:       id,
		vm:       goja.New(),
		cfg:      cfg,
		logger:   cfg.Logger.With(zap.String("process", id)),
		jobs:     make(chan func(), cfg.QueueSize),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	p.timers = newTimers(p)

	if err := p.setupGlobals(); err != nil {
		return nil, fmt.Errorf("setup globals: %w", err)
	}

	go p.loop()

	if !p.post(func() {
		if _, err := p.vm.RunProgram(prog.prog); err != nil {
			p.exit(&CrashError{Where: prog.Name(), Err: jsError(err)})
		}
	}) {
		return nil, ErrExited
	}

	return p, nil
}

// ID returns the unique instance identifier.
func (p *Process) ID() string { return p.id }

// Ready reports whether the program has raised its readiness signal.
func (p *Process) Ready() bool { return p.ready.Load() }

// Done is closed when the process terminates for any reason.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns the exit reason once Done is closed.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

// Attach registers a resource owned by this process. Attached resources are
// closed, newest first, when the process is closed. Attaching to a closed
// process closes the resource immediately.
func (p *Process) Attach(c io.Closer) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		c.Close()
		return
	}
	p.closers = append(p.closers, c)
	p.mu.Unlock()
}

// Call hands requestText to the program's server.fetch and returns its
// result text. Abandoning ctx stops the wait; the call itself still runs.
func (p *Process) Call(ctx context.Context, requestText string) (string, error) {
	type reply struct {
		out string
		err error
	}
	replies := make(chan reply, 1)
	deliver := func(out string, err error) {
		select {
		case replies <- reply{out, err}:
		default:
		}
	}

	job := func() { p.invokeFetch(requestText, deliver) }

	select {
	case p.jobs <- job:
	case <-p.done:
		return "", ErrExited
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case r := <-replies:
		return r.out, r.err
	case <-p.done:
		return "", ErrExited
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close kills the process, tears down attached resources and waits for the
// event loop to stop. Safe to call more than once.
func (p *Process) Close() error {
	p.exit(ErrKilled)
	<-p.loopDone

	p.mu.Lock()
	p.closed = true
	closers := p.closers
	p.closers = nil
	p.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Process) loop() {
	defer close(p.loopDone)
	for {
		select {
		case <-p.done:
			return
		case job := <-p.jobs:
			p.run(job)
		}
	}
}

func (p *Process) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.exit(&CrashError{Where: "event loop", Err: fmt.Errorf("panic: %v", r)})
		}
	}()
	select {
	case <-p.done:
		return
	default:
	}
	job()
}

// post queues a job for the event loop. It reports false once the process
// has exited.
func (p *Process) post(job func()) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.jobs <- job:
		return true
	case <-p.done:
		return false
	}
}

func (p *Process) exit(reason error) {
	p.exitOnce.Do(func() {
		p.exitErr = reason
		p.ready.Store(false)
		close(p.done)
		p.timers.stopAll()
		p.vm.Interrupt(reason)

		if errors.Is(reason, ErrKilled) {
			p.logger.Debug("Embedded process stopped")
		} else {
			p.logger.Warn("Embedded process exited", zap.Error(reason))
		}
	})
}

// invokeFetch runs on the event loop.
func (p *Process) invokeFetch(text string, deliver func(string, error)) {
	server := p.vm.Get("server")
	if server == nil || goja.IsUndefined(server) || goja.IsNull(server) {
		deliver("", ErrCallUnavailable)
		return
	}
	obj := server.ToObject(p.vm)
	fetch, ok := goja.AssertFunction(obj.Get("fetch"))
	if !ok {
		deliver("", ErrCallUnavailable)
		return
	}

	v, err := fetch(obj, p.vm.ToValue(text))
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			deliver("", ErrExited)
			return
		}
		deliver("", &ProcessError{Message: jsError(err).Error()})
		return
	}

	promise, isPromise := v.Export().(*goja.Promise)
	if !isPromise {
		deliver(p.settle(v))
		return
	}

	switch promise.State() {
	case goja.PromiseStateFulfilled:
		deliver(p.settle(promise.Result()))
	case goja.PromiseStateRejected:
		deliver("", &ProcessError{Message: promise.Result().String()})
	default:
		pobj := v.ToObject(p.vm)
		then, ok := goja.AssertFunction(pobj.Get("then"))
		if !ok {
			deliver("", &ProcessError{Message: "fetch returned a promise without then"})
			return
		}
		onFulfilled := p.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			deliver(p.settle(call.Argument(0)))
			return goja.Undefined()
		})
		onRejected := p.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			deliver("", &ProcessError{Message: call.Argument(0).String()})
			return goja.Undefined()
		})
		if _, err := then(pobj, onFulfilled, onRejected); err != nil {
			deliver("", &ProcessError{Message: jsError(err).Error()})
		}
	}
}

// settle turns a fetch reply object into its result text.
func (p *Process) settle(v goja.Value) (string, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", &ProcessError{Message: "fetch returned no reply"}
	}
	obj := v.ToObject(p.vm)
	if e := obj.Get("error"); e != nil && !goja.IsUndefined(e) && !goja.IsNull(e) {
		return "", &ProcessError{Message: e.String()}
	}
	r := obj.Get("result")
	if r == nil || goja.IsUndefined(r) || goja.IsNull(r) {
		return "", &ProcessError{Message: "fetch reply has neither result nor error"}
	}
	return r.String(), nil
}

// jsError extracts the thrown value from a goja exception.
func jsError(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if v := ex.Value(); v != nil {
			return errors.New(v.String())
		}
	}
	return err
}
