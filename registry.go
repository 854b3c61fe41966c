package ssebridge

import "sync"

// registry maps client ids to the single active channel for each id. It is
// owned by a Server; its lifecycle is tied to that server instance.
type registry struct {
	mu    sync.Mutex
	chans map[string]*Channel
}

func newRegistry() *registry {
	return &registry{chans: make(map[string]*Channel)}
}

// displace removes and returns the channel currently registered for clientID,
// if any. The caller is responsible for tearing the displaced channel down
// before installing its successor.
func (r *registry) displace(clientID string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.chans[clientID]
	delete(r.chans, clientID)
	return old
}

// install registers c as the active channel for its client id.
func (r *registry) install(c *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chans[c.clientID] = c
}

// lookup returns the active channel for clientID.
func (r *registry) lookup(clientID string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chans[clientID]
	return c, ok
}

// drop removes c's entry, but only while the entry still points at that exact
// instance. A stale closed hook from a just-displaced channel must not delete
// its successor.
func (r *registry) drop(c *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.chans[c.clientID]; ok && cur == c {
		delete(r.chans, c.clientID)
	}
}

// snapshot returns all active channels.
func (r *registry) snapshot() []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Channel, 0, len(r.chans))
	for _, c := range r.chans {
		out = append(out, c)
	}
	return out
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chans)
}
