package evaluator

import "github.com/puzpuzpuz/xsync/v3"

var closed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// turns orders work per key by the time the turn was taken rather than by
// when a goroutine gets scheduled. Each turn waits for the one before it.
type turns struct {
	tails *xsync.MapOf[string, chan struct{}]
}

func newTurns() *turns {
	return &turns{tails: xsync.NewMapOf[string, chan struct{}]()}
}

// take reserves the next turn for key. wait is closed once every earlier
// turn is done; done must be called exactly once, after wait.
func (t *turns) take(key string) (wait <-chan struct{}, done func()) {
	mine := make(chan struct{})
	prev := closed
	t.tails.Compute(key, func(tail chan struct{}, loaded bool) (chan struct{}, bool) {
		if loaded {
			prev = tail
		}
		return mine, false
	})
	return prev, func() {
		close(mine)
		t.tails.Compute(key, func(tail chan struct{}, loaded bool) (chan struct{}, bool) {
			return tail, !loaded || tail == mine
		})
	}
}

