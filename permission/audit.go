package permission

import (
	"bufio"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// AuditEventType tags what happened, matching the engine's six-step audit
// trail (§4.6): a request, its outcome, and (when applicable) the
// escalation that triggered it.
type AuditEventType string

const (
	EventPermissionRequested AuditEventType = "permission_requested"
	EventPermissionGranted   AuditEventType = "permission_granted"
	EventPermissionDenied    AuditEventType = "permission_denied"
	EventEscalationDetected  AuditEventType = "escalation_detected"
)

// AuditEvent is one entry in the permission audit trail.
type AuditEvent struct {
	Timestamp        time.Time      `yaml:"timestamp"`
	Type             AuditEventType `yaml:"type"`
	Plugin           string         `yaml:"plugin"`
	Command          string         `yaml:"command,omitempty"`
	TrustLevel       string         `yaml:"trust_level,omitempty"`
	Reason           string         `yaml:"reason,omitempty"`
	CapabilitiesHash string         `yaml:"capabilities_hash,omitempty"`
	OldHash          string         `yaml:"old_hash,omitempty"`
	NewHash          string         `yaml:"new_hash,omitempty"`
}

// Sink is where audit events go. A sink's health is surfaced by IsHealthy
// so callers can decide whether audit failures should block execution.
type Sink interface {
	Record(event AuditEvent) error
	Flush() error
	IsHealthy() bool
}

// NullSink discards every event. It is always healthy.
type NullSink struct{}

func (NullSink) Record(AuditEvent) error { return nil }
func (NullSink) Flush() error            { return nil }
func (NullSink) IsHealthy() bool         { return true }

// MemorySink accumulates events in-process, for tests and for short-lived
// CLI invocations that just want to inspect what happened.
type MemorySink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Record(event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemorySink) Flush() error    { return nil }
func (s *MemorySink) IsHealthy() bool { return true }

func (s *MemorySink) Events() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}

// FileSink appends one YAML document per event to a log file, flushing
// after every write so a crash doesn't lose the trail.
type FileSink struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	healthy bool
}

// NewFileSink opens (creating if necessary) path for appending.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f, writer: bufio.NewWriter(f), healthy: true}, nil
}

func (s *FileSink) Record(event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(event)
	if err != nil {
		s.healthy = false
		return err
	}
	if _, err := s.writer.WriteString("---\n"); err != nil {
		s.healthy = false
		return err
	}
	if _, err := s.writer.Write(data); err != nil {
		s.healthy = false
		return err
	}
	if err := s.writer.Flush(); err != nil {
		s.healthy = false
		return err
	}
	return nil
}

func (s *FileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Flush()
}

func (s *FileSink) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.writer.Flush()
	return s.file.Close()
}
