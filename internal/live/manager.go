package live

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"tandem/api/internal/realtime"
)

// BindState is the subscription manager's lifecycle state.
type BindState int

const (
	StateIdle BindState = iota
	StateBinding
	StateBound
	StateErrored
)

func (s BindState) String() string {
	switch s {
	case StateBinding:
		return "binding"
	case StateBound:
		return "bound"
	case StateErrored:
		return "errored"
	default:
		return "idle"
	}
}

// ErrBindInProgress is returned when a Rebind overlaps another. The
// manager never queues binds; the caller retries on its next key change.
var ErrBindInProgress = errors.New("bind already in progress")

// Handle is one live push registration.
type Handle interface {
	Name() string
	Events() <-chan realtime.Event
	Close() error
}

// Source opens handles for conversation keys.
type Source interface {
	Open(ctx context.Context, key Key) (Handle, error)
}

// Manager owns at most one live handle, rebinding cleanly on key change.
// The old handle is always torn down, and the settle delay elapsed,
// before the replacement is created: the transport misbehaves when two
// handles with overlapping filters are briefly concurrent.
type Manager struct {
	source Source
	settle time.Duration

	mu     sync.Mutex
	state  BindState
	key    Key
	handle Handle
}

func NewManager(source Source, settle time.Duration) *Manager {
	if settle <= 0 {
		settle = DefaultWindows().Settle
	}
	return &Manager{source: source, settle: settle}
}

// Rebind moves the manager to key. Binding to the currently bound key is
// a no-op. A failed open leaves the manager in StateErrored with no live
// handle; the guard is cleared, so the caller's next Rebind proceeds.
// The manager does not retry on its own.
func (m *Manager) Rebind(ctx context.Context, key Key) error {
	m.mu.Lock()
	if m.state == StateBinding {
		m.mu.Unlock()
		return ErrBindInProgress
	}
	if m.state == StateBound && m.key == key && m.handle != nil {
		m.mu.Unlock()
		return nil
	}
	old := m.handle
	m.handle = nil
	m.state = StateBinding
	m.key = key
	m.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			log.Printf("sync: close handle %s: %v", old.Name(), err)
		}
		time.Sleep(m.settle)
	}

	if key.IsZero() {
		m.mu.Lock()
		m.state = StateIdle
		m.mu.Unlock()
		return nil
	}

	handle, err := m.source.Open(ctx, key)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateErrored
		return err
	}
	if m.key != key {
		// Unbound while the open was in flight; the handle is stale.
		_ = handle.Close()
		m.state = StateIdle
		return nil
	}
	m.handle = handle
	m.state = StateBound
	return nil
}

// Unbind tears down the current handle unconditionally.
func (m *Manager) Unbind() {
	m.mu.Lock()
	old := m.handle
	m.handle = nil
	m.key = Key{}
	if m.state != StateBinding {
		m.state = StateIdle
	}
	m.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			log.Printf("sync: close handle %s: %v", old.Name(), err)
		}
	}
}

func (m *Manager) State() BindState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Key() Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.key
}

// Handle returns the live handle, or nil when none is bound.
func (m *Manager) Handle() Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}
