package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/meshbridge/internal/domain/persistence"
	"github.com/GriffinCanCode/meshbridge/internal/infrastructure/resilience"
)

// Process is one running instance of the embedded server.
type Process interface {
	Ready() bool
	Call(ctx context.Context, requestText string) (string, error)
	Done() <-chan struct{}
	Err() error
	Attach(c io.Closer)
	Close() error
}

// Starter starts a process against the mounted volume. It must not block
// until the process is ready.
type Starter func(ctx context.Context, vol *persistence.Volume) (Process, error)

// Persistence is the part of the persistence manager the boot sequence uses.
type Persistence interface {
	Version() persistence.Version
	Claim(ctx context.Context) error
	Prepare(ctx context.Context) (bool, error)
	Mount(ctx context.Context) (*persistence.Volume, error)
	Commit(ctx context.Context) error
	Flush(ctx context.Context, vol *persistence.Volume) error
	StartFlush(vol *persistence.Volume, generation uint64) *persistence.FlushLoop
}

// Config configures the supervisor.
type Config struct {
	ReadyAttempts          int
	ReadyInterval          time.Duration
	MaxConsecutiveFailures uint32
	RestartCooldown        time.Duration
}

// DefaultConfig polls 30 times at 100ms.
func DefaultConfig() Config {
	return Config{
		ReadyAttempts:          30,
		ReadyInterval:          100 * time.Millisecond,
		MaxConsecutiveFailures: 5,
		RestartCooldown:        30 * time.Second,
	}
}

type bootOp struct {
	done  chan struct{}
	token Token
	err   error
}

// Supervisor owns the embedded process lifecycle as a state machine:
// Idle -> Booting -> Ready -> Crashed -> Booting ..., with Failed after a
// failed boot and Stopped after Close.
type Supervisor struct {
	cfg      Config
	persist  Persistence
	start    Starter
	logger   *zap.Logger
	observer Observer
	guard    *resilience.Breaker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      State
	since      time.Time
	generation uint64
	proc       Process
	vol        *persistence.Volume
	boot       *bootOp
	lastErr    error
	subs       map[int]chan Event
	nextSub    int
}

// New creates a supervisor in the Idle state.
func New(cfg Config, persist Persistence, start Starter, logger *zap.Logger) *Supervisor {
	def := DefaultConfig()
	if cfg.ReadyAttempts <= 0 {
		cfg.ReadyAttempts = def.ReadyAttempts
	}
	if cfg.ReadyInterval <= 0 {
		cfg.ReadyInterval = def.ReadyInterval
	}
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if cfg.RestartCooldown <= 0 {
		cfg.RestartCooldown = def.RestartCooldown
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:      cfg,
		persist:  persist,
		start:    start,
		logger:   logger,
		observer: nopObserver{},
		ctx:      ctx,
		cancel:   cancel,
		state:    StateIdle,
		since:    time.Now(),
		subs:     make(map[int]chan Event),
	}
	s.guard = resilience.New("boot", resilience.Settings{
		Threshold: cfg.MaxConsecutiveFailures,
		Cooldown:  cfg.RestartCooldown,
		OnStateChange: func(_ string, from, to resilience.State) {
			s.logger.Info("Boot guard state changed",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return s
}

// WithObserver attaches a metrics observer.
func (s *Supervisor) WithObserver(o Observer) *Supervisor {
	if o != nil {
		s.observer = o
	}
	return s
}

// Install takes ownership of the durable store from any superseded instance.
func (s *Supervisor) Install(ctx context.Context) error {
	s.logger.Info("Installing", zap.Stringer("version", s.persist.Version()))
	return s.persist.Claim(ctx)
}

// Activate boots the embedded process and returns once it is ready, or
// with the boot error. A failed activation leaves no bridged traffic
// possible until the next boot succeeds.
func (s *Supervisor) Activate(ctx context.Context) error {
	s.logger.Info("Activating", zap.Stringer("version", s.persist.Version()))
	if _, err := s.EnsureReady(ctx); err != nil {
		return fmt.Errorf("activation failed: %w", err)
	}
	return nil
}

// EnsureReady returns a token for the ready process. Concurrent callers
// during a boot all wait for that one boot. ctx only bounds the wait.
func (s *Supervisor) EnsureReady(ctx context.Context) (Token, error) {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return Token{}, ErrStopped
	}
	if s.state == StateReady && s.proc != nil {
		tok := Token{s: s, Generation: s.generation}
		s.mu.Unlock()
		return tok, nil
	}
	op := s.boot
	if op == nil {
		op = s.startBootLocked()
	}
	s.mu.Unlock()

	select {
	case <-op.done:
		return op.token, op.err
	case <-ctx.Done():
		return Token{}, ctx.Err()
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation returns the current generation.
func (s *Supervisor) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Status returns a snapshot for health reporting.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:      s.state,
		Generation: s.generation,
		Version:    s.persist.Version().String(),
		Since:      s.since,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Subscribe returns a channel of state transitions and a function that ends
// the subscription. Events are dropped for subscribers that fall behind.
func (s *Supervisor) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close stops the process and performs a final write sync of its volume.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	proc, vol := s.proc, s.vol
	s.proc, s.vol = nil, nil
	s.setStateLocked(StateStopped, nil)
	s.cancel()
	s.mu.Unlock()

	var errs []error
	if proc != nil {
		if err := proc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close process: %w", err))
		}
	}
	if vol != nil {
		if err := s.persist.Flush(ctx, vol); err != nil && !errors.Is(err, persistence.ErrSuperseded) {
			errs = append(errs, fmt.Errorf("final sync: %w", err))
		}
	}

	s.wg.Wait()

	s.mu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()

	s.logger.Info("Supervisor stopped")
	return errors.Join(errs...)
}

// process returns the running process if generation is still current.
func (s *Supervisor) process(generation uint64) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady || s.proc == nil || s.generation != generation {
		return nil, fmt.Errorf("%w: generation %d, current %d", ErrStaleToken, generation, s.generation)
	}
	return s.proc, nil
}

func (s *Supervisor) startBootLocked() *bootOp {
	op := &bootOp{done: make(chan struct{})}
	s.boot = op
	s.generation++
	gen := s.generation
	s.setStateLocked(StateBooting, nil)

	s.wg.Add(1)
	go s.runBoot(op, gen)
	return op
}

func (s *Supervisor) runBoot(op *bootOp, gen uint64) {
	defer s.wg.Done()
	defer close(op.done)

	var (
		proc Process
		vol  *persistence.Volume
		err  error
	)
	started := time.Now()
	if guardErr := s.guard.Allow(); guardErr != nil {
		err = fmt.Errorf("%w: %d consecutive failures", ErrRestartCooling, s.guard.Failures())
	} else {
		proc, vol, err = s.bootSequence(s.ctx, gen)
		s.guard.Record(err)
		s.observer.ObserveBoot(time.Since(started), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.boot = nil

	if s.state == StateStopped {
		if proc != nil {
			proc.Close()
		}
		op.err = ErrStopped
		return
	}

	if err != nil {
		s.logger.Error("Boot failed", zap.Uint64("generation", gen), zap.Error(err))
		s.setStateLocked(StateFailed, err)
		op.err = err
		return
	}

	s.proc, s.vol = proc, vol
	s.setStateLocked(StateReady, nil)
	s.logger.Info("Embedded server ready",
		zap.Uint64("generation", gen),
		zap.Duration("boot_time", time.Since(started)),
	)
	op.token = Token{s: s, Generation: gen}

	s.wg.Add(1)
	go s.watch(proc, gen)
}

// bootSequence runs one full boot. The version tag is committed only after
// the process has signalled readiness.
func (s *Supervisor) bootSequence(ctx context.Context, gen uint64) (Process, *persistence.Volume, error) {
	s.logger.Info("Booting embedded server", zap.Uint64("generation", gen))

	if _, err := s.persist.Prepare(ctx); err != nil {
		return nil, nil, err
	}
	vol, err := s.persist.Mount(ctx)
	if err != nil {
		return nil, nil, err
	}

	proc, err := s.start(ctx, vol)
	if err != nil {
		return nil, nil, fmt.Errorf("start process: %w", err)
	}

	if err := s.awaitReady(ctx, proc); err != nil {
		proc.Close()
		return nil, nil, err
	}
	if err := s.persist.Commit(ctx); err != nil {
		proc.Close()
		return nil, nil, err
	}

	proc.Attach(s.persist.StartFlush(vol, gen))
	return proc, vol, nil
}

// awaitReady polls the readiness signal a bounded number of times.
func (s *Supervisor) awaitReady(ctx context.Context, proc Process) error {
	ticker := time.NewTicker(s.cfg.ReadyInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < s.cfg.ReadyAttempts; attempt++ {
		if proc.Ready() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-proc.Done():
			return fmt.Errorf("process exited during boot: %w", proc.Err())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if proc.Ready() {
		return nil
	}
	return fmt.Errorf("%w after %d attempts at %s", ErrSupervisorTimeout, s.cfg.ReadyAttempts, s.cfg.ReadyInterval)
}

// watch waits for the generation's process to terminate, tears it down and
// boots the next generation.
func (s *Supervisor) watch(proc Process, gen uint64) {
	defer s.wg.Done()

	select {
	case <-proc.Done():
	case <-s.ctx.Done():
		return
	}

	reason := proc.Err()
	if err := proc.Close(); err != nil {
		s.logger.Warn("Process teardown failed", zap.Uint64("generation", gen), zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped || s.generation != gen {
		return
	}

	s.logger.Warn("Embedded server terminated, restarting",
		zap.Uint64("generation", gen),
		zap.Error(reason),
	)
	s.proc, s.vol = nil, nil
	s.setStateLocked(StateCrashed, reason)
	s.startBootLocked()
}

func (s *Supervisor) setStateLocked(to State, err error) {
	from := s.state
	s.state = to
	s.since = time.Now()
	if err != nil {
		s.lastErr = err
	} else if to == StateReady {
		s.lastErr = nil
	}
	s.observer.ObserveTransition(from, to)

	ev := Event{State: to, Generation: s.generation, Time: s.since}
	if err != nil {
		ev.Error = err.Error()
	}
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
