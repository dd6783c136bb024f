package live

import (
	"encoding/json"
	"sync"

	"tandem/api/internal/realtime"
)

// Demux fans one per-conversation feed subscription out to per-message
// listeners. The original design held one live subscription per message
// on screen; consolidating to a single handle per conversation keeps the
// handle count constant while views still observe only their own entity.
type Demux struct {
	mu        sync.Mutex
	listeners map[string]map[chan realtime.Event]struct{}
}

func NewDemux() *Demux {
	return &Demux{listeners: make(map[string]map[chan realtime.Event]struct{})}
}

// Subscribe registers a listener for events whose row references
// messageID. The returned cancel func must be called when the view
// unmounts; the channel is closed by it.
func (d *Demux) Subscribe(messageID string) (<-chan realtime.Event, func()) {
	ch := make(chan realtime.Event, 8)

	d.mu.Lock()
	set, ok := d.listeners[messageID]
	if !ok {
		set = make(map[chan realtime.Event]struct{})
		d.listeners[messageID] = set
	}
	set[ch] = struct{}{}
	d.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.mu.Lock()
			if set, ok := d.listeners[messageID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(d.listeners, messageID)
				}
			}
			d.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Dispatch routes an event to the listeners of the message it
// references. Events without a parseable message_id are dropped.
func (d *Demux) Dispatch(ev realtime.Event) {
	var row struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(ev.Row, &row); err != nil || row.MessageID == "" {
		return
	}

	d.mu.Lock()
	set := d.listeners[row.MessageID]
	targets := make([]chan realtime.Event, 0, len(set))
	for ch := range set {
		targets = append(targets, ch)
	}
	d.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
			// listener stalled; per-entity state is refetched on the
			// next event anyway
		}
	}
}

// Close detaches all listeners. Channels are closed by their own cancel
// funcs, not here, so a late cancel stays safe.
func (d *Demux) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = make(map[string]map[chan realtime.Event]struct{})
}
