package lifecycle

import "time"

// Event names external listeners match on. ConnectionExpired and Disconnected
// are part of the compatibility contract with callers and must not change.
const (
	EventConnected         = "Connected"
	EventRefreshed         = "Refreshed"
	EventConnectionExpired = "ConnectionExpired"
	EventDisconnected      = "Disconnected"
)

// Event is one lifecycle notification for a provider connection.
type Event struct {
	Name       string    `json:"name"`
	ProviderID string    `json:"provider_id"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// Listener receives lifecycle events. Implementations must not block: events
// are delivered synchronously from the manager.
type Listener interface {
	HandleConnectionEvent(Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Event)

func (f ListenerFunc) HandleConnectionEvent(e Event) { f(e) }

// ChannelListener buffers events onto a channel for callers that prefer
// message passing over callbacks. Events are dropped when the buffer is full
// rather than blocking the manager.
type ChannelListener struct {
	ch chan Event
}

func NewChannelListener(buffer int) *ChannelListener {
	return &ChannelListener{ch: make(chan Event, buffer)}
}

func (l *ChannelListener) HandleConnectionEvent(e Event) {
	select {
	case l.ch <- e:
	default:
	}
}

// Events returns the receive side of the listener.
func (l *ChannelListener) Events() <-chan Event { return l.ch }
