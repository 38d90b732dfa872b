package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FlushLoop periodically writes one generation's volume to durable storage.
type FlushLoop struct {
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
	once       sync.Once
}

func startFlushLoop(m *Manager, vol *Volume, generation uint64) *FlushLoop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &FlushLoop{
		generation: generation,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	logger := m.logger.With(zap.Uint64("generation", generation))
	go l.run(ctx, m, vol, logger)

	logger.Debug("Flush loop started", zap.Duration("interval", m.cfg.FlushInterval))
	return l
}

func (l *FlushLoop) run(ctx context.Context, m *Manager, vol *Volume, logger *zap.Logger) {
	defer close(l.done)

	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := m.Flush(ctx, vol)
		switch {
		case err == nil:
		case errors.Is(err, ErrSuperseded):
			logger.Warn("Durable store superseded, flush loop stopping", zap.Error(err))
			return
		case ctx.Err() != nil:
			return
		default:
			// Retried on the next tick.
			logger.Warn("Periodic sync failed", zap.Error(err))
		}
	}
}

// Generation returns the process generation this loop belongs to.
func (l *FlushLoop) Generation() uint64 { return l.generation }

// Done is closed once the loop has exited.
func (l *FlushLoop) Done() <-chan struct{} { return l.done }

// Close stops the loop and waits for it. Safe to call more than once.
func (l *FlushLoop) Close() error {
	l.once.Do(l.cancel)
	<-l.done
	return nil
}

func (l *FlushLoop) stopped() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
