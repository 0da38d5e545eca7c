// Package activity keeps the rolling per-user message history that the
// spam signals are computed from.
package activity

import (
	"sync"
	"time"

	"spamguard/internal/fingerprint"
)

// Observation is what a single message contributes to a window.
type Observation struct {
	At          time.Time
	Fingerprint uint64
	URLs        []string
	Mentions    int
}

// Limits are the retention windows of the individual buffers.
type Limits struct {
	Rapid     time.Duration
	Duplicate time.Duration
	URLRepeat time.Duration
}

// Signals are the raw counts produced by recording one message.
type Signals struct {
	// Rapid is the number of messages in the rapid window, this one included.
	Rapid int
	// Duplicate is the number of messages in the duplicate window sharing
	// this message's fingerprint, this one included. Zero for empty text.
	Duplicate int
	URLs      int
	// URLRepeat is the highest number of times any URL of this message was
	// posted within the URL repeat window.
	URLRepeat int
	Mentions  int
}

type printStamp struct {
	hash uint64
	at   time.Time
}

type urlStamp struct {
	url string
	at  time.Time
}

// Window is the history of one user in one guild. It is not safe for
// concurrent use on its own; Tracker.Do serializes access per key.
type Window struct {
	mu      sync.Mutex
	evicted bool

	guildID string
	userID  string

	messages []time.Time
	prints   []printStamp
	urls     []urlStamp
	offenses []time.Time

	score     float64
	lastDecay time.Time
	lastSeen  time.Time
}

func newWindow(guildID, userID string) *Window {
	return &Window{guildID: guildID, userID: userID}
}

func (w *Window) GuildID() string { return w.guildID }

func (w *Window) UserID() string { return w.userID }

// Clamp keeps history monotonic: a timestamp older than the latest one
// recorded is moved forward to it.
func (w *Window) Clamp(at time.Time) time.Time {
	if at.Before(w.lastSeen) {
		return w.lastSeen
	}
	return at
}

// Record appends the observation, prunes every buffer to its window and
// returns the counts for this message.
func (w *Window) Record(obs Observation, limits Limits) Signals {
	now := w.Clamp(obs.At)
	w.lastSeen = now
	if w.lastDecay.IsZero() {
		w.lastDecay = now
	}

	w.messages = append(pruneTimes(w.messages, now, limits.Rapid), now)

	w.prints = prunePrints(w.prints, now, limits.Duplicate)
	duplicates := 0
	if obs.Fingerprint != fingerprint.Empty {
		w.prints = append(w.prints, printStamp{hash: obs.Fingerprint, at: now})
		for _, p := range w.prints {
			if p.hash == obs.Fingerprint {
				duplicates++
			}
		}
	}

	w.urls = pruneURLs(w.urls, now, limits.URLRepeat)
	for _, u := range obs.URLs {
		w.urls = append(w.urls, urlStamp{url: u, at: now})
	}
	repeat := 0
	for _, u := range obs.URLs {
		n := 0
		for _, seen := range w.urls {
			if seen.url == u {
				n++
			}
		}
		if n > repeat {
			repeat = n
		}
	}

	return Signals{
		Rapid:     len(w.messages),
		Duplicate: duplicates,
		URLs:      len(obs.URLs),
		URLRepeat: repeat,
		Mentions:  obs.Mentions,
	}
}

// Decay lowers the score linearly for the time elapsed since the last decay,
// never below zero, and returns the new score.
func (w *Window) Decay(now time.Time, perSecond float64) float64 {
	if w.lastDecay.IsZero() {
		w.lastDecay = now
		return w.score
	}
	if !now.After(w.lastDecay) {
		return w.score
	}
	w.score = w.ScoreAt(now, perSecond)
	w.lastDecay = now
	return w.score
}

// ScoreAt is the score Decay would produce at now, without applying it.
func (w *Window) ScoreAt(now time.Time, perSecond float64) float64 {
	if w.lastDecay.IsZero() || !now.After(w.lastDecay) {
		return w.score
	}
	decayed := w.score - now.Sub(w.lastDecay).Seconds()*perSecond
	if decayed < 0 {
		return 0
	}
	return decayed
}

func (w *Window) Score() float64 { return w.score }

func (w *Window) AddScore(delta float64) float64 {
	w.score += delta
	if w.score < 0 {
		w.score = 0
	}
	return w.score
}

// Reduce subtracts amount from the score, flooring at zero.
func (w *Window) Reduce(amount float64) float64 {
	return w.AddScore(-amount)
}

func (w *Window) Reset() {
	w.score = 0
}

// RecordOffense notes a flag at now and returns the number of flags within
// window, this one included.
func (w *Window) RecordOffense(now time.Time, window time.Duration) int {
	w.offenses = append(pruneTimes(w.offenses, now, window), now)
	return len(w.offenses)
}

func (w *Window) LastSeen() time.Time { return w.lastSeen }

// pruneTimes drops entries older than window; entries exactly window old are
// kept.
func pruneTimes(entries []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	idx := 0
	for _, at := range entries {
		if !at.Before(cutoff) {
			break
		}
		idx++
	}
	return entries[idx:]
}

func prunePrints(entries []printStamp, now time.Time, window time.Duration) []printStamp {
	cutoff := now.Add(-window)
	idx := 0
	for _, p := range entries {
		if !p.at.Before(cutoff) {
			break
		}
		idx++
	}
	return entries[idx:]
}

func pruneURLs(entries []urlStamp, now time.Time, window time.Duration) []urlStamp {
	cutoff := now.Add(-window)
	idx := 0
	for _, u := range entries {
		if !u.at.Before(cutoff) {
			break
		}
		idx++
	}
	return entries[idx:]
}
