// Package keepalive tracks backend liveness through the handshake and
// two-line probe protocol spoken by the backend.
//
// The machine is driven by its owner: OnFrame for every inbound backend
// frame and OnIdle whenever the inbound silence window elapses. It does not
// start timers or touch sockets itself and is not safe for concurrent use.
package keepalive

import (
	"strings"
	"time"

	"github.com/sahmadiut/dapnet-proxy/internal/constants"
)

// State is the keepalive state of one backend connection.
type State int

const (
	Handshake        State = iota // Waiting for the first "2:" frame
	AwaitingIdle                  // Ready to probe on the next idle window
	ProbeSent                     // "2:PING" sent, waiting for its echo
	ProbeUnconfirmed              // Echo received, waiting for "+"
	Closed                        // Terminal
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case Handshake:
		return "HANDSHAKE"
	case AwaitingIdle:
		return "AWAITING_IDLE"
	case ProbeSent:
		return "PROBE_SENT"
	case ProbeUnconfirmed:
		return "PROBE_UNCONFIRMED"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Action is what the owner must do after an idle window elapsed.
type Action int

const (
	None      Action = iota // Keep waiting
	SendProbe               // Write constants.KeepAliveRequest to the backend
	Close                   // Tear the session down
)

// String returns a string representation of the action.
func (a Action) String() string {
	switch a {
	case None:
		return "none"
	case SendProbe:
		return "send_probe"
	case Close:
		return "close"
	default:
		return "unknown"
	}
}

// Stats summarizes probe activity on one connection.
type Stats struct {
	ProbesSent      int
	ProbesConfirmed int
	LastProbeTime   time.Time
	LastConfirmTime time.Time
	Latency         time.Duration
}

// Machine is the keepalive state machine of one backend connection.
type Machine struct {
	state State
	now   func() time.Time
	stats Stats
}

// New creates a machine in the Handshake state.
func New() *Machine {
	return &Machine{state: Handshake, now: time.Now}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Stats returns a snapshot of the probe statistics.
func (m *Machine) Stats() Stats {
	return m.stats
}

// OnFrame feeds an inbound backend frame to the machine and reports whether
// the frame must be forwarded to the frontend. Only the two lines answering
// a probe are suppressed.
func (m *Machine) OnFrame(frame string) bool {
	switch m.state {
	case Handshake:
		if strings.HasPrefix(frame, constants.HandshakePrefix) {
			m.state = AwaitingIdle
		}
	case ProbeSent:
		if strings.HasPrefix(frame, constants.KeepAliveRequest) {
			m.state = ProbeUnconfirmed
			return false
		}
	case ProbeUnconfirmed:
		if frame == constants.KeepAliveConfirm {
			m.state = AwaitingIdle
			now := m.now()
			m.stats.ProbesConfirmed++
			m.stats.LastConfirmTime = now
			m.stats.Latency = now.Sub(m.stats.LastProbeTime)
			return false
		}
	}
	return true
}

// OnIdle tells the machine that no inbound frame arrived for a full idle
// window and returns the action the owner must take.
func (m *Machine) OnIdle() Action {
	switch m.state {
	case AwaitingIdle:
		m.state = ProbeSent
		m.stats.ProbesSent++
		m.stats.LastProbeTime = m.now()
		return SendProbe
	case ProbeSent, ProbeUnconfirmed:
		m.state = Closed
		return Close
	default:
		// No probing before the handshake completes.
		return None
	}
}

// OnClose moves the machine to its terminal state.
func (m *Machine) OnClose() {
	m.state = Closed
}
