package embedded

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// setupGlobals installs the host surface the program runs against.
func (p *Process) setupGlobals() error {
	vm := p.vm

	// No module loader inside the process.
	vm.Set("require", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())

	console := vm.NewObject()
	console.Set("log", p.consoleFunc(zapcore.InfoLevel))
	console.Set("info", p.consoleFunc(zapcore.InfoLevel))
	console.Set("debug", p.consoleFunc(zapcore.DebugLevel))
	console.Set("warn", p.consoleFunc(zapcore.WarnLevel))
	console.Set("error", p.consoleFunc(zapcore.ErrorLevel))
	if err := vm.Set("console", console); err != nil {
		return err
	}

	vm.Set("setTimeout", p.timers.set(false))
	vm.Set("setInterval", p.timers.set(true))
	vm.Set("clearTimeout", p.timers.clear)
	vm.Set("clearInterval", p.timers.clear)

	if err := vm.Set("process", p.processObject()); err != nil {
		return err
	}
	if p.cfg.FS != nil {
		if err := vm.Set("fs", p.fsObject()); err != nil {
			return err
		}
	}

	server := vm.NewObject()
	server.Set("ready", func(goja.FunctionCall) goja.Value {
		select {
		case <-p.done:
		default:
			if !p.ready.Swap(true) {
				p.logger.Info("Embedded process ready")
			}
		}
		return goja.Undefined()
	})
	server.Set("restart", func(goja.FunctionCall) goja.Value {
		p.exit(ErrRestartRequested)
		return goja.Undefined()
	})
	return vm.Set("server", server)
}

// consoleFunc forwards console output to the service log.
func (p *Process) consoleFunc(level zapcore.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = fmt.Sprint(arg.Export())
		}
		if ce := p.logger.Check(level, strings.Join(parts, " ")); ce != nil {
			ce.Write(zap.String("source", "console"))
		}
		return goja.Undefined()
	}
}

func (p *Process) processObject() *goja.Object {
	vm := p.vm
	proc := vm.NewObject()
	proc.Set("pid", 1)
	proc.Set("platform", "embedded")

	env := vm.NewObject()
	for k, v := range p.cfg.Env {
		env.Set(k, v)
	}
	proc.Set("env", env)

	proc.Set("exit", func(call goja.FunctionCall) goja.Value {
		code := 0
		if arg := call.Argument(0); !goja.IsUndefined(arg) {
			code = int(arg.ToInteger())
		}
		p.exit(&ExitError{Code: code})
		return goja.Undefined()
	})
	return proc
}

// fsError is thrown into the program with a node-style code property.
func (p *Process) fsError(err error) *goja.Object {
	e := p.vm.NewGoError(err)
	code := "EIO"
	switch {
	case errors.Is(err, fs.ErrNotExist):
		code = "ENOENT"
	case errors.Is(err, fs.ErrInvalid):
		code = "EINVAL"
	}
	e.Set("code", code)
	return e
}

func (p *Process) fsObject() *goja.Object {
	vm := p.vm
	fsys := p.cfg.FS
	obj := vm.NewObject()

	obj.Set("readFile", func(call goja.FunctionCall) goja.Value {
		data, err := fsys.ReadFile(call.Argument(0).String())
		if err != nil {
			panic(p.fsError(err))
		}
		if enc := call.Argument(1); !goja.IsUndefined(enc) && !goja.IsNull(enc) {
			return vm.ToValue(string(data))
		}
		return vm.ToValue(vm.NewArrayBuffer(data))
	})

	obj.Set("writeFile", func(call goja.FunctionCall) goja.Value {
		var mode uint32
		if m := call.Argument(2); !goja.IsUndefined(m) {
			mode = uint32(m.ToInteger())
		}
		if err := fsys.WriteFile(call.Argument(0).String(), bytesOf(call.Argument(1)), mode); err != nil {
			panic(p.fsError(err))
		}
		return goja.Undefined()
	})

	obj.Set("unlink", func(call goja.FunctionCall) goja.Value {
		if err := fsys.Remove(call.Argument(0).String()); err != nil {
			panic(p.fsError(err))
		}
		return goja.Undefined()
	})

	obj.Set("exists", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(fsys.Exists(call.Argument(0).String()))
	})

	obj.Set("readdir", func(call goja.FunctionCall) goja.Value {
		names, err := fsys.List(call.Argument(0).String())
		if err != nil {
			panic(p.fsError(err))
		}
		out := make([]interface{}, len(names))
		for i, n := range names {
			out[i] = n
		}
		return vm.ToValue(out)
	})

	// The mounted volume has no inode metadata to offer.
	obj.Set("stat", func(call goja.FunctionCall) goja.Value {
		panic(p.fsError(fs.ErrInvalid))
	})

	return obj
}

func bytesOf(v goja.Value) []byte {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	switch x := v.Export().(type) {
	case string:
		return []byte(x)
	case []byte:
		return x
	case goja.ArrayBuffer:
		return x.Bytes()
	default:
		return []byte(v.String())
	}
}

// timers implements setTimeout and setInterval on top of the event loop.
type timers struct {
	p      *Process
	mu     sync.Mutex
	next   int64
	active map[int64]*time.Timer
}

func newTimers(p *Process) *timers {
	return &timers{p: p, active: make(map[int64]*time.Timer)}
}

func (t *timers) set(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(t.p.vm.NewTypeError("callback must be a function"))
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		if delay < 0 {
			delay = 0
		}
		args := append([]goja.Value(nil), call.Arguments[min(len(call.Arguments), 2):]...)

		t.mu.Lock()
		t.next++
		id := t.next
		t.mu.Unlock()

		var fire func()
		fire = func() {
			t.p.post(func() {
				if !t.live(id) {
					return
				}
				if !repeat {
					t.remove(id)
				}
				if _, err := fn(goja.Undefined(), args...); err != nil {
					var interrupted *goja.InterruptedError
					if errors.As(err, &interrupted) {
						return
					}
					t.p.exit(&CrashError{Where: "timer", Err: jsError(err)})
					return
				}
				if repeat && t.live(id) {
					t.arm(id, delay, fire)
				}
			})
		}
		t.arm(id, delay, fire)
		return t.p.vm.ToValue(id)
	}
}

func (t *timers) arm(id int64, delay time.Duration, fire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return
	}
	t.active[id] = time.AfterFunc(delay, fire)
}

func (t *timers) clear(call goja.FunctionCall) goja.Value {
	t.remove(call.Argument(0).ToInteger())
	return goja.Undefined()
}

func (t *timers) live(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[id]
	return ok
}

func (t *timers) remove(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm, ok := t.active[id]; ok {
		tm.Stop()
		delete(t.active, id)
	}
}

// stopAll cancels every pending timer. No timer can be armed afterwards.
func (t *timers) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tm := range t.active {
		tm.Stop()
	}
	t.active = nil
}
