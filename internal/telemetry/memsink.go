package telemetry

import (
	"context"
	"sync"
)

// MemorySink records samples in memory. Err, when set, is returned from
// every Send after the sample is recorded.
type MemorySink struct {
	mu      sync.Mutex
	name    string
	samples [][]byte
	Err     error
}

// NewMemorySink returns an empty sink reporting name.
func NewMemorySink(name string) *MemorySink {
	return &MemorySink{name: name}
}

func (s *MemorySink) Name() string { return s.name }

func (s *MemorySink) Send(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, append([]byte(nil), payload...))
	return s.Err
}

func (s *MemorySink) Close() error { return nil }

// Samples returns copies of the recorded samples.
func (s *MemorySink) Samples() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.samples))
	for i, p := range s.samples {
		out[i] = string(p)
	}
	return out
}
