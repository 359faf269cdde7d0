package proxy

// Listener receives lifecycle events from a Manager. Events of one profile
// are delivered in order from that profile's runner goroutine; events of
// different profiles may interleave. Implementations must return quickly.
type Listener interface {
	// OnRegister is called when a profile is opened.
	OnRegister(name string)
	// OnConnect is called when a session starts forwarding.
	OnConnect(name string)
	// OnDisconnect is called after every session or dial attempt ends.
	OnDisconnect(name string, reconnect bool)
	// OnShutdown is called once all sessions are closed after Shutdown.
	OnShutdown()
}

// NopListener ignores all events.
type NopListener struct{}

func (NopListener) OnRegister(string)         {}
func (NopListener) OnConnect(string)          {}
func (NopListener) OnDisconnect(string, bool) {}
func (NopListener) OnShutdown()               {}

var _ Listener = NopListener{}
