package router

import (
	"context"
	"sync"

	"otterbot/internal/transport"
)

type waitKey struct{ messageID, userID string }

// Waiters lets a handler block until a given user reacts to a given message.
// Reactions are delivered by the router before the event table runs.
type Waiters struct {
	mu   sync.Mutex
	wait map[waitKey][]chan transport.Reaction
}

func NewWaiters() *Waiters {
	return &Waiters{wait: map[waitKey][]chan transport.Reaction{}}
}

// Await returns the first reaction userID adds to messageID, or ctx.Err().
func (w *Waiters) Await(ctx context.Context, messageID, userID string) (transport.Reaction, error) {
	ch := make(chan transport.Reaction, 1)
	k := waitKey{messageID, userID}
	w.mu.Lock()
	w.wait[k] = append(w.wait[k], ch)
	w.mu.Unlock()

	defer w.remove(k, ch)
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return transport.Reaction{}, ctx.Err()
	}
}

// Deliver hands r to every waiter registered for it and reports whether
// anyone was waiting.
func (w *Waiters) Deliver(r transport.Reaction) bool {
	k := waitKey{r.MessageID, r.UserID}
	w.mu.Lock()
	chs := w.wait[k]
	delete(w.wait, k)
	w.mu.Unlock()
	for _, ch := range chs {
		ch <- r
	}
	return len(chs) > 0
}

// Pending reports the number of active waits.
func (w *Waiters) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, chs := range w.wait {
		n += len(chs)
	}
	return n
}

func (w *Waiters) remove(k waitKey, ch chan transport.Reaction) {
	w.mu.Lock()
	defer w.mu.Unlock()
	chs := w.wait[k]
	for i, c := range chs {
		if c == ch {
			chs = append(chs[:i], chs[i+1:]...)
			break
		}
	}
	if len(chs) == 0 {
		delete(w.wait, k)
	} else {
		w.wait[k] = chs
	}
}
