package throttle

import "sync"

// Destination identifies where an operation applies: a channel plus the
// platform message id. The id is empty until the platform assigns one via a
// successful create; identity is the pointer, so an unassigned destination
// is addressable before the platform names it.
type Destination struct {
	channel string

	mu        sync.RWMutex
	messageID string
}

// NewDestination returns a destination with no message id yet; the first
// successful create assigns one.
func NewDestination(channel string) *Destination {
	return &Destination{channel: channel}
}

// NewAssignedDestination wraps a pre-existing platform message.
func NewAssignedDestination(channel, messageID string) *Destination {
	return &Destination{channel: channel, messageID: messageID}
}

// Channel returns the destination's channel.
func (d *Destination) Channel() string {
	return d.channel
}

// MessageID returns the platform message id, or empty if none has been
// assigned yet.
func (d *Destination) MessageID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.messageID
}

// Assigned reports whether the platform has named this destination.
func (d *Destination) Assigned() bool {
	return d.MessageID() != ""
}

func (d *Destination) setMessageID(messageID string) {
	d.mu.Lock()
	d.messageID = messageID
	d.mu.Unlock()
}
