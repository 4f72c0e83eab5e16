package session

import "sync"

const frameBuffer = 8

// Broadcaster fans analysis frames out to any number of listeners. A slow
// listener misses frames instead of holding up the poll loop.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

type Listener struct {
	C    chan Frame
	done chan struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[*Listener]struct{})}
}

func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan Frame, frameBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	_, ok := b.listeners[l]
	delete(b.listeners, l)
	b.mu.Unlock()

	if ok {
		close(l.done)
	}
}

// Done is closed once the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish returns the number of listeners that dropped the frame.
func (b *Broadcaster) Publish(frame Frame) int {
	dropped := 0

	b.mu.RLock()
	for l := range b.listeners {
		select {
		case l.C <- frame:
		default:
			dropped++
		}
	}
	b.mu.RUnlock()

	return dropped
}
