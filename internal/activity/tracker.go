package activity

import (
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Tracker is the arena of windows keyed by guild and user. Work on one key is
// serialized; distinct keys proceed in parallel.
type Tracker struct {
	windows *xsync.MapOf[string, *Window]
}

type ScoreEntry struct {
	UserID string
	Score  float64
}

func NewTracker() *Tracker {
	return &Tracker{windows: xsync.NewMapOf[string, *Window]()}
}

func Key(guildID, userID string) string {
	return guildID + ":" + userID
}

// Do runs fn with exclusive access to the user's window, creating it if
// needed.
func (t *Tracker) Do(guildID, userID string, fn func(w *Window)) {
	key := Key(guildID, userID)
	for {
		w, _ := t.windows.LoadOrCompute(key, func() *Window {
			return newWindow(guildID, userID)
		})
		w.mu.Lock()
		if w.evicted {
			// swept while we waited, start over with a fresh window
			w.mu.Unlock()
			continue
		}
		fn(w)
		w.mu.Unlock()
		return
	}
}

// Peek runs fn on an existing window without creating one. It reports
// whether the window exists.
func (t *Tracker) Peek(guildID, userID string, fn func(w *Window)) bool {
	w, ok := t.windows.Load(Key(guildID, userID))
	if !ok {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.evicted {
		return false
	}
	fn(w)
	return true
}

// Forget drops a user's history and score.
func (t *Tracker) Forget(guildID, userID string) bool {
	key := Key(guildID, userID)
	w, ok := t.windows.Load(key)
	if !ok {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return t.evictLocked(key, w)
}

func (t *Tracker) Len() int {
	return t.windows.Size()
}

// Sweep evicts windows idle for longer than the horizon of their guild and
// returns how many were removed. Windows busy in Do are skipped.
func (t *Tracker) Sweep(now time.Time, horizon func(guildID string) time.Duration) int {
	removed := 0
	t.windows.Range(func(key string, w *Window) bool {
		if !w.mu.TryLock() {
			return true
		}
		if !w.lastSeen.IsZero() && now.Sub(w.lastSeen) > horizon(w.guildID) {
			if t.evictLocked(key, w) {
				removed++
			}
		}
		w.mu.Unlock()
		return true
	})
	return removed
}

// Top returns the highest current scores of a guild, decayed to now.
func (t *Tracker) Top(guildID string, now time.Time, perSecond func(guildID string) float64, limit int) []ScoreEntry {
	if limit <= 0 {
		return nil
	}
	rate := perSecond(guildID)
	var entries []ScoreEntry
	t.windows.Range(func(_ string, w *Window) bool {
		if w.guildID != guildID {
			return true
		}
		w.mu.Lock()
		if !w.evicted {
			if score := w.ScoreAt(now, rate); score > 0 {
				entries = append(entries, ScoreEntry{UserID: w.userID, Score: score})
			}
		}
		w.mu.Unlock()
		return true
	})

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func (t *Tracker) evictLocked(key string, w *Window) bool {
	if w.evicted {
		return false
	}
	w.evicted = true
	t.windows.Compute(key, func(current *Window, loaded bool) (*Window, bool) {
		return current, !loaded || current == w
	})
	return true
}
