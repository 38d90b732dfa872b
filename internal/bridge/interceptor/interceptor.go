// Package interceptor is the entry point for every request the page sends.
// Requests under the bridged prefix are encoded, handed to the embedded
// server and answered from its reply; everything else passes through.
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/meshbridge/internal/bridge/wire"
	"github.com/GriffinCanCode/meshbridge/internal/domain/supervisor"
)

// DefaultPrefix is the bridged API path prefix.
const DefaultPrefix = "/_matrix/client"

var errHijackUnsupported = errors.New("response writer cannot be hijacked")

// Decision is the classification of one request.
type Decision int

const (
	PassThrough Decision = iota
	Bridge
)

func (d Decision) String() string {
	if d == Bridge {
		return "bridge"
	}
	return "passthrough"
}

// Kind is the terminal state of one interception.
type Kind string

const (
	KindPassThrough Kind = "passthrough"
	KindBridged     Kind = "bridged"
	KindBridgeError Kind = "bridge_error"
)

// Stage names where a bridged request failed.
type Stage string

const (
	StageRead   Stage = "read"
	StageGate   Stage = "gate"
	StageCall   Stage = "call"
	StageDecode Stage = "decode"
)

// Outcome is the result of Intercept.
type Outcome struct {
	Kind       Kind
	Response   *wire.Response
	Stage      Stage
	Err        error
	Generation uint64
}

// Caller hands encoded request text to the embedded server.
type Caller interface {
	Call(ctx context.Context, requestText string) (string, error)
}

// Gate waits until the embedded server can take calls.
type Gate interface {
	Acquire(ctx context.Context) (Caller, uint64, error)
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context) (Caller, uint64, error)

func (f GateFunc) Acquire(ctx context.Context) (Caller, uint64, error) { return f(ctx) }

// SupervisorGate gates on a supervisor's readiness.
func SupervisorGate(s *supervisor.Supervisor) Gate {
	return GateFunc(func(ctx context.Context) (Caller, uint64, error) {
		tok, err := s.EnsureReady(ctx)
		if err != nil {
			return nil, 0, err
		}
		return tok, tok.Generation, nil
	})
}

// Observer receives interception outcomes for metrics.
type Observer interface {
	ObserveOutcome(kind Kind, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveOutcome(Kind, time.Duration) {}

// Config configures the interceptor.
type Config struct {
	Prefix string
	// CallTimeout bounds the wait for one bridged reply. Zero means no bound.
	CallTimeout time.Duration
}

// Interceptor routes requests between the embedded server and the upstream.
type Interceptor struct {
	cfg         Config
	gate        Gate
	passthrough http.Handler
	logger      *zap.Logger
	observer    Observer
}

// New creates an interceptor. passthrough handles every request outside the
// bridged prefix.
func New(cfg Config, gate Gate, passthrough http.Handler, logger *zap.Logger) *Interceptor {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if passthrough == nil {
		passthrough = http.NotFoundHandler()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interceptor{
		cfg:         cfg,
		gate:        gate,
		passthrough: passthrough,
		logger:      logger,
		observer:    nopObserver{},
	}
}

// WithObserver attaches a metrics observer.
func (i *Interceptor) WithObserver(o Observer) *Interceptor {
	if o != nil {
		i.observer = o
	}
	return i
}

// Classify decides whether a path is bridged. The prefix matches whole
// path segments only. It never consults readiness.
func (i *Interceptor) Classify(path string) Decision {
	prefix := strings.TrimSuffix(i.cfg.Prefix, "/")
	if path == prefix || strings.HasPrefix(path, prefix+"/") {
		return Bridge
	}
	return PassThrough
}

// Intercept runs one request through classification, the readiness gate,
// encoding, the call and decoding. It does not write a response.
func (i *Interceptor) Intercept(ctx context.Context, r *http.Request) Outcome {
	if i.Classify(r.URL.Path) == PassThrough {
		return Outcome{Kind: KindPassThrough}
	}

	req, err := wire.FromHTTP(r)
	if err != nil {
		return failed(StageRead, 0, err)
	}

	caller, gen, err := i.gate.Acquire(ctx)
	if err != nil {
		return failed(StageGate, gen, err)
	}

	callCtx := ctx
	if i.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, i.cfg.CallTimeout)
		defer cancel()
	}

	raw, err := caller.Call(callCtx, wire.Encode(req))
	if err != nil {
		return failed(StageCall, gen, err)
	}

	resp, err := wire.Decode(raw, func(line string) {
		i.logger.Debug("Skipping malformed header line",
			zap.String("line", line),
			zap.String("url", req.URL),
		)
	})
	if err != nil {
		return failed(StageDecode, gen, err)
	}

	return Outcome{Kind: KindBridged, Response: resp, Generation: gen}
}

// Handler serves every request. A bridge error answers with no response:
// the connection is closed so the client's own network-error path runs.
func (i *Interceptor) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		out := i.Intercept(c.Request.Context(), c.Request)

		switch out.Kind {
		case KindPassThrough:
			i.passthrough.ServeHTTP(c.Writer, c.Request)

		case KindBridged:
			if err := out.Response.WriteTo(c.Writer); err != nil {
				i.logger.Debug("Writing bridged response failed", zap.Error(err))
			}

		case KindBridgeError:
			i.logger.Warn("Bridge error",
				zap.String("method", c.Request.Method),
				zap.String("url", c.Request.URL.String()),
				zap.String("stage", string(out.Stage)),
				zap.Uint64("generation", out.Generation),
				zap.Error(out.Err),
			)
			if err := abandon(c); err != nil {
				c.AbortWithStatus(http.StatusBadGateway)
			}
		}

		i.observer.ObserveOutcome(out.Kind, time.Since(start))
		c.Abort()
	}
}

func failed(stage Stage, gen uint64, err error) Outcome {
	return Outcome{
		Kind:       KindBridgeError,
		Stage:      stage,
		Err:        fmt.Errorf("%s: %w", stage, err),
		Generation: gen,
	}
}

// abandon closes the client connection without writing a response.
func abandon(c *gin.Context) error {
	// Only HTTP/1.x connections served by net/http can be hijacked; gin
	// panics on any other writer.
	if c.Request.ProtoMajor != 1 || c.Request.Context().Value(http.ServerContextKey) == nil {
		return errHijackUnsupported
	}
	conn, _, err := c.Writer.Hijack()
	if err != nil {
		return err
	}
	return conn.Close()
}
