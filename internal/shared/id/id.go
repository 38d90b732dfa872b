// Package id generates the ULID identifiers used in logs and trace headers.
//
// IDs are prefixed by kind (trc_, span_, evt_) so a log line tells what it
// names, and they sort by creation time.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// TraceID identifies one request across the bridge.
type TraceID string

// SpanID identifies one operation within a trace.
type SpanID string

// EventID identifies one published supervisor event.
type EventID string

const (
	TracePrefix = "trc"
	SpanPrefix  = "span"
	EventPrefix = "evt"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator with monotonic entropy, so IDs made
// in the same millisecond still sort in creation order.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(ulid.Monotonic(rand.Reader, 0))
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// WithPrefix creates a prefixed ULID string
func (g *Generator) WithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate())
}

func NewTraceID() TraceID { return TraceID(Default().WithPrefix(TracePrefix)) }
func NewSpanID() SpanID   { return SpanID(Default().WithPrefix(SpanPrefix)) }
func NewEventID() EventID { return EventID(Default().WithPrefix(EventPrefix)) }

func (id TraceID) String() string { return string(id) }
func (id SpanID) String() string  { return string(id) }
func (id EventID) String() string { return string(id) }

// IsValid reports whether s is a ULID, with or without a kind prefix.
func IsValid(s string) bool {
	_, err := ulid.Parse(strip(s))
	return err == nil
}

// Timestamp extracts the creation time from a ULID, with or without prefix.
func Timestamp(s string) (time.Time, error) {
	parsed, err := ulid.Parse(strip(s))
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

func strip(s string) string {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		return s[i+1:]
	}
	return s
}
