package session

import "sync"

// sessionNotifier publishes the terminal session-expired condition. A single
// expiry episode produces exactly one broadcast no matter how many concurrent
// requests fail together; installing a fresh credential pair re-arms it.
type sessionNotifier struct {
	mu    sync.Mutex
	ended bool
	subs  []chan struct{}
}

// begin marks the start of an expiry episode. It returns false when the
// episode has already begun, so only one caller performs the terminal side
// effects (clearing credentials, notifying logout, broadcasting).
func (n *sessionNotifier) begin() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ended {
		return false
	}
	n.ended = true
	return true
}

// reset re-arms the notifier after a new credential pair is installed.
func (n *sessionNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended = false
}

// subscribe returns a channel that receives one value per expiry episode.
func (n *sessionNotifier) subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, ch)
	return ch
}

// broadcast delivers the expiry event to every subscriber without blocking.
func (n *sessionNotifier) broadcast() {
	n.mu.Lock()
	subs := make([]chan struct{}, len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
