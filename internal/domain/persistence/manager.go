package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/meshbridge/internal/infrastructure/store"
)

// ErrSuperseded is returned once another instance has claimed the store.
var ErrSuperseded = errors.New("durable store claimed by another instance")

const ownerKey = "owner"

// Durable is the durable storage the manager works against.
type Durable interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	DeleteStore(ctx context.Context, name string) error
	LoadImage(ctx context.Context, name string) (map[string]store.File, error)
	SaveImage(ctx context.Context, name string, files map[string]store.File) error
}

// Observer receives persistence events for metrics.
type Observer interface {
	ObserveSync(kind string, err error)
	ObservePurge(store string)
}

type nopObserver struct{}

func (nopObserver) ObserveSync(string, error) {}
func (nopObserver) ObservePurge(string)       {}

// Config configures a Manager.
type Config struct {
	Store         string
	Version       Version
	FlushInterval time.Duration
	// InstanceID identifies this service instance as the store owner.
	// Empty disables the ownership check.
	InstanceID string
}

// Manager decides on every boot whether the durable image is reusable,
// mounts it, and keeps it flushed.
type Manager struct {
	durable  Durable
	cfg      Config
	logger   *zap.Logger
	observer Observer

	mu   sync.Mutex
	loop *FlushLoop
}

// NewManager creates a persistence manager.
func NewManager(durable Durable, cfg Config, logger *zap.Logger) *Manager {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		durable:  durable,
		cfg:      cfg,
		logger:   logger.With(zap.String("store", cfg.Store)),
		observer: nopObserver{},
	}
}

// WithObserver attaches a metrics observer.
func (m *Manager) WithObserver(o Observer) *Manager {
	if o != nil {
		m.observer = o
	}
	return m
}

// Version returns the version tag of the running build.
func (m *Manager) Version() Version { return m.cfg.Version }

func (m *Manager) versionKey() string { return m.cfg.Store + "/version" }

// Prepare applies the version gate: an image written by an incompatible
// build is deleted before anything mounts it.
func (m *Manager) Prepare(ctx context.Context) (purged bool, err error) {
	stored, _, err := m.durable.Get(ctx, m.versionKey())
	if err != nil {
		return false, fmt.Errorf("read version tag: %w", err)
	}
	if Compatible(stored, m.cfg.Version) {
		m.logger.Debug("Durable image compatible",
			zap.String("stored", stored),
			zap.Stringer("current", m.cfg.Version),
		)
		return false, nil
	}

	m.logger.Info("Purging incompatible durable image",
		zap.String("stored", stored),
		zap.Stringer("current", m.cfg.Version),
	)
	if err := m.durable.DeleteStore(ctx, m.cfg.Store); err != nil {
		return false, fmt.Errorf("purge %s: %w", m.cfg.Store, err)
	}
	m.observer.ObservePurge(m.cfg.Store)
	return true, nil
}

// Mount creates the volume for the store and loads the durable image into
// it. The load must finish before the embedded process starts.
func (m *Manager) Mount(ctx context.Context) (*Volume, error) {
	vol := newVolume(m.durable, m.cfg.Store)
	err := vol.Sync(ctx, true)
	m.observer.ObserveSync("load", err)
	if err != nil {
		return nil, fmt.Errorf("startup sync: %w", err)
	}
	return vol, nil
}

// Commit records the running version tag. Call only after a full boot.
func (m *Manager) Commit(ctx context.Context) error {
	if err := m.durable.Set(ctx, m.versionKey(), m.cfg.Version.String()); err != nil {
		return fmt.Errorf("write version tag: %w", err)
	}
	return nil
}

// Claim makes this instance the owner of the durable store. A previous
// owner stops writing on its next flush.
func (m *Manager) Claim(ctx context.Context) error {
	if m.cfg.InstanceID == "" {
		return nil
	}
	if err := m.durable.Set(ctx, ownerKey, m.cfg.InstanceID); err != nil {
		return fmt.Errorf("claim store: %w", err)
	}
	m.logger.Info("Claimed durable store", zap.String("instance", m.cfg.InstanceID))
	return nil
}

func (m *Manager) checkOwner(ctx context.Context) error {
	if m.cfg.InstanceID == "" {
		return nil
	}
	owner, found, err := m.durable.Get(ctx, ownerKey)
	if err != nil {
		return fmt.Errorf("read owner: %w", err)
	}
	if found && owner != m.cfg.InstanceID {
		return fmt.Errorf("%w: %s", ErrSuperseded, owner)
	}
	return nil
}

// Flush performs one write sync of vol, unless the store has been claimed
// by another instance.
func (m *Manager) Flush(ctx context.Context, vol *Volume) error {
	if err := m.checkOwner(ctx); err != nil {
		return err
	}
	err := vol.Sync(ctx, false)
	m.observer.ObserveSync("write", err)
	return err
}

// StartFlush starts the periodic write sync for one process generation.
// Any loop still running for an earlier generation is stopped first.
func (m *Manager) StartFlush(vol *Volume, generation uint64) *FlushLoop {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loop != nil {
		m.loop.Close()
	}
	m.loop = startFlushLoop(m, vol, generation)
	return m.loop
}

// ActiveFlush returns the running loop, if any.
func (m *Manager) ActiveFlush() *FlushLoop {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loop == nil || m.loop.stopped() {
		return nil
	}
	return m.loop
}
