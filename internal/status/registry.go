// Package status tracks the connection state of every profile and serves it
// over HTTP.
package status

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	dperrors "github.com/sahmadiut/dapnet-proxy/internal/errors"
	"github.com/sahmadiut/dapnet-proxy/internal/health"
	"github.com/sahmadiut/dapnet-proxy/internal/proxy"
)

// ErrProfileNotFound is returned by Get for unknown profiles.
var ErrProfileNotFound = dperrors.ErrProfileNotFound

// State is the externally visible state of a profile.
type State string

const (
	StateConnecting State = "CONNECTING"
	StateOnline     State = "ONLINE"
	StateOffline    State = "OFFLINE"
)

// ConnectionStatus is a snapshot of one profile.
type ConnectionStatus struct {
	ProfileName    string     `json:"profileName"`
	State          State      `json:"state"`
	LastUpdate     time.Time  `json:"lastUpdate"`
	ConnectedSince *time.Time `json:"connectedSince"`
}

// subscriberBuffer is the number of updates a slow watcher may lag behind
// before updates to it are dropped.
const subscriberBuffer = 16

// Registry holds the latest status of every registered profile. It is a
// proxy.Listener; callbacks only update the map under the lock and never
// block on subscribers.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]ConnectionStatus
	subs     map[<-chan ConnectionStatus]chan ConnectionStatus
	now      func() time.Time
}

var _ proxy.Listener = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		profiles: make(map[string]ConnectionStatus),
		subs:     make(map[<-chan ConnectionStatus]chan ConnectionStatus),
		now:      time.Now,
	}
}

// OnRegister records a new profile as CONNECTING.
func (r *Registry) OnRegister(name string) {
	r.set(name, StateConnecting, false)
}

// OnConnect marks the profile ONLINE and stamps connectedSince.
func (r *Registry) OnConnect(name string) {
	r.set(name, StateOnline, true)
}

// OnDisconnect marks the profile CONNECTING when a reconnect is scheduled and
// OFFLINE otherwise.
func (r *Registry) OnDisconnect(name string, reconnect bool) {
	if reconnect {
		r.set(name, StateConnecting, false)
	} else {
		r.set(name, StateOffline, false)
	}
}

// OnShutdown marks every profile OFFLINE.
func (r *Registry) OnShutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for name, st := range r.profiles {
		if st.State == StateOffline {
			continue
		}
		st.State = StateOffline
		st.LastUpdate = now
		st.ConnectedSince = nil
		r.profiles[name] = st
		r.publish(st)
	}
}

func (r *Registry) set(name string, state State, connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	st := ConnectionStatus{
		ProfileName: name,
		State:       state,
		LastUpdate:  now,
	}
	if connected {
		st.ConnectedSince = &now
	}
	r.profiles[name] = st
	r.publish(st)
}

// publish must be called with r.mu held.
func (r *Registry) publish(st ConnectionStatus) {
	for _, ch := range r.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

// List returns all snapshots sorted by profile name.
func (r *Registry) List() []ConnectionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]ConnectionStatus, 0, len(r.profiles))
	for _, st := range r.profiles {
		list = append(list, st)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ProfileName < list[j].ProfileName
	})
	return list
}

// Get returns the snapshot of one profile.
func (r *Registry) Get(name string) (ConnectionStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.profiles[name]
	if !ok {
		return ConnectionStatus{}, dperrors.WrapProfile("status", name, ErrProfileNotFound, nil)
	}
	return st, nil
}

// Subscribe returns a channel receiving every subsequent status change.
// Updates are dropped when the channel is full.
func (r *Registry) Subscribe() <-chan ConnectionStatus {
	ch := make(chan ConnectionStatus, subscriberBuffer)

	r.mu.Lock()
	r.subs[ch] = ch
	r.mu.Unlock()
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func (r *Registry) Unsubscribe(ch <-chan ConnectionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.subs[ch]; ok {
		delete(r.subs, ch)
		close(c)
	}
}

// Ready reports whether at least one profile is ONLINE.
func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, st := range r.profiles {
		if st.State == StateOnline {
			return true
		}
	}
	return false
}

// Check is a readiness check: unhealthy when no profile is ONLINE and
// degraded when only some are.
func (r *Registry) Check(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	online := 0
	for _, st := range r.profiles {
		if st.State == StateOnline {
			online++
		}
	}

	switch {
	case len(r.profiles) == 0:
		return fmt.Errorf("no profiles registered")
	case online == 0:
		return fmt.Errorf("none of %d profiles online", len(r.profiles))
	case online < len(r.profiles):
		return fmt.Errorf("%d of %d profiles online: %w", online, len(r.profiles), health.ErrDegraded)
	}
	return nil
}
