package activity

import (
	"sync"
	"testing"
	"time"
)

var testLimits = Limits{
	Rapid:     10 * time.Second,
	Duplicate: 60 * time.Second,
	URLRepeat: 60 * time.Second,
}

func TestRecordRapidCountsAndPrunes(t *testing.T) {
	w := newWindow("g1", "u1")
	base := time.Unix(1_700_000_000, 0)

	var sig Signals
	for i := 0; i < 4; i++ {
		sig = w.Record(Observation{At: base.Add(time.Duration(i) * time.Second)}, testLimits)
	}
	if sig.Rapid != 4 {
		t.Fatalf("expected 4 messages in window, got %d", sig.Rapid)
	}

	// base is exactly 10s old here and stays in the window
	sig = w.Record(Observation{At: base.Add(10 * time.Second)}, testLimits)
	if sig.Rapid != 5 {
		t.Fatalf("expected boundary entry to be kept, got %d", sig.Rapid)
	}

	sig = w.Record(Observation{At: base.Add(12 * time.Second)}, testLimits)
	if sig.Rapid != 4 {
		t.Fatalf("expected entries older than the window pruned, got %d", sig.Rapid)
	}
}

func TestRecordDuplicateWindow(t *testing.T) {
	w := newWindow("g1", "u1")
	base := time.Unix(1_700_000_000, 0)

	if sig := w.Record(Observation{At: base, Fingerprint: 42}, testLimits); sig.Duplicate != 1 {
		t.Fatalf("first message should count itself, got %d", sig.Duplicate)
	}
	if sig := w.Record(Observation{At: base.Add(30 * time.Second), Fingerprint: 42}, testLimits); sig.Duplicate != 2 {
		t.Fatalf("expected duplicate inside window, got %d", sig.Duplicate)
	}
	if sig := w.Record(Observation{At: base.Add(31 * time.Second), Fingerprint: 7}, testLimits); sig.Duplicate != 1 {
		t.Fatalf("different text must not count as duplicate, got %d", sig.Duplicate)
	}
	if sig := w.Record(Observation{At: base.Add(100 * time.Second), Fingerprint: 42}, testLimits); sig.Duplicate != 2 {
		t.Fatalf("expected the first copy to have expired, got %d", sig.Duplicate)
	}
}

func TestRecordEmptyFingerprintNeverDuplicates(t *testing.T) {
	w := newWindow("g1", "u1")
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 5; i++ {
		sig := w.Record(Observation{At: base.Add(time.Duration(i) * time.Second)}, testLimits)
		if sig.Duplicate != 0 {
			t.Fatalf("empty text counted as duplicate: %d", sig.Duplicate)
		}
	}
}

func TestRecordURLRepeat(t *testing.T) {
	w := newWindow("g1", "u1")
	base := time.Unix(1_700_000_000, 0)
	link := "https://spam.example/win"

	w.Record(Observation{At: base, URLs: []string{link}}, testLimits)
	w.Record(Observation{At: base.Add(time.Second), URLs: []string{"https://other.example/"}}, testLimits)
	sig := w.Record(Observation{At: base.Add(2 * time.Second), URLs: []string{"https://fresh.example/", link}}, testLimits)
	if sig.URLRepeat != 2 {
		t.Fatalf("expected repeat count 2, got %d", sig.URLRepeat)
	}
	if sig.URLs != 2 {
		t.Fatalf("expected 2 urls in message, got %d", sig.URLs)
	}

	sig = w.Record(Observation{At: base.Add(2 * time.Minute), URLs: []string{link}}, testLimits)
	if sig.URLRepeat != 1 {
		t.Fatalf("expected earlier posts expired, got %d", sig.URLRepeat)
	}
}

func TestClampKeepsHistoryMonotonic(t *testing.T) {
	w := newWindow("g1", "u1")
	base := time.Unix(1_700_000_000, 0)
	w.Record(Observation{At: base}, testLimits)

	w.Record(Observation{At: base.Add(-time.Hour)}, testLimits)
	if !w.LastSeen().Equal(base) {
		t.Fatalf("expected last seen to stay at %v, got %v", base, w.LastSeen())
	}
	if got := w.Clamp(base.Add(time.Second)); !got.Equal(base.Add(time.Second)) {
		t.Fatalf("later timestamps must pass through, got %v", got)
	}
}

func TestDecayDecreasesAndFloors(t *testing.T) {
	w := newWindow("g1", "u1")
	base := time.Unix(1_700_000_000, 0)
	w.Record(Observation{At: base}, testLimits)
	w.AddScore(5)

	prev := w.Score()
	for i := 1; i <= 5; i++ {
		got := w.Decay(base.Add(time.Duration(i)*time.Second), 0.5)
		if got >= prev {
			t.Fatalf("expected score to decrease, got %f after %f", got, prev)
		}
		prev = got
	}
	if prev != 2.5 {
		t.Fatalf("expected 2.5 after 5s at 0.5/s, got %f", prev)
	}

	if got := w.Decay(base.Add(time.Hour), 0.5); got != 0 {
		t.Fatalf("expected score floored at zero, got %f", got)
	}
	if got := w.Decay(base.Add(time.Minute), 0.5); got != 0 {
		t.Fatalf("going back in time must not raise the score, got %f", got)
	}
}

func TestScoreAtDoesNotApply(t *testing.T) {
	w := newWindow("g1", "u1")
	base := time.Unix(1_700_000_000, 0)
	w.Record(Observation{At: base}, testLimits)
	w.AddScore(4)

	if got := w.ScoreAt(base.Add(4*time.Second), 0.5); got != 2 {
		t.Fatalf("expected 2, got %f", got)
	}
	if w.Score() != 4 {
		t.Fatalf("ScoreAt must not change the stored score, got %f", w.Score())
	}
}

func TestReduceFloorsAtZero(t *testing.T) {
	w := newWindow("g1", "u1")
	w.AddScore(3)
	if got := w.Reduce(10); got != 0 {
		t.Fatalf("expected 0, got %f", got)
	}
	w.AddScore(7)
	w.Reset()
	if w.Score() != 0 {
		t.Fatalf("expected reset score 0, got %f", w.Score())
	}
}

func TestRecordOffense(t *testing.T) {
	w := newWindow("g1", "u1")
	base := time.Unix(1_700_000_000, 0)
	if n := w.RecordOffense(base, time.Hour); n != 1 {
		t.Fatalf("expected 1 offense, got %d", n)
	}
	if n := w.RecordOffense(base.Add(30*time.Minute), time.Hour); n != 2 {
		t.Fatalf("expected 2 offenses, got %d", n)
	}
	if n := w.RecordOffense(base.Add(2*time.Hour), time.Hour); n != 1 {
		t.Fatalf("expected old offenses pruned, got %d", n)
	}
}

func TestTrackerDoAndPeek(t *testing.T) {
	tr := NewTracker()
	base := time.Unix(1_700_000_000, 0)

	if tr.Peek("g1", "u1", func(*Window) {}) {
		t.Fatalf("peek must not create a window")
	}
	if tr.Len() != 0 {
		t.Fatalf("expected empty tracker, got %d", tr.Len())
	}

	tr.Do("g1", "u1", func(w *Window) {
		w.Record(Observation{At: base}, testLimits)
		w.AddScore(2)
	})
	var score float64
	if !tr.Peek("g1", "u1", func(w *Window) { score = w.Score() }) {
		t.Fatalf("expected window to exist")
	}
	if score != 2 {
		t.Fatalf("expected score 2, got %f", score)
	}

	// same user in another guild is a separate window
	tr.Do("g2", "u1", func(w *Window) {
		if w.Score() != 0 {
			t.Fatalf("windows must be per guild")
		}
	})
	if tr.Len() != 2 {
		t.Fatalf("expected 2 windows, got %d", tr.Len())
	}
}

func TestTrackerSerializesPerKey(t *testing.T) {
	tr := NewTracker()
	base := time.Unix(1_700_000_000, 0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Do("g1", "u1", func(w *Window) {
				w.Record(Observation{At: base}, testLimits)
				w.AddScore(1)
			})
		}()
	}
	wg.Wait()

	tr.Peek("g1", "u1", func(w *Window) {
		if w.Score() != 50 {
			t.Fatalf("expected 50 serialized updates, got %f", w.Score())
		}
		if len(w.messages) != 50 {
			t.Fatalf("expected 50 recorded messages, got %d", len(w.messages))
		}
	})
}

func TestTrackerSweepAndForget(t *testing.T) {
	tr := NewTracker()
	base := time.Unix(1_700_000_000, 0)
	horizon := func(string) time.Duration { return time.Minute }

	tr.Do("g1", "idle", func(w *Window) { w.Record(Observation{At: base}, testLimits) })
	tr.Do("g1", "busy", func(w *Window) { w.Record(Observation{At: base.Add(50 * time.Second)}, testLimits) })

	if n := tr.Sweep(base.Add(90*time.Second), horizon); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if tr.Peek("g1", "idle", func(*Window) {}) {
		t.Fatalf("idle window should be gone")
	}
	if !tr.Peek("g1", "busy", func(*Window) {}) {
		t.Fatalf("recent window should survive")
	}

	if !tr.Forget("g1", "busy") {
		t.Fatalf("expected forget to remove the window")
	}
	if tr.Forget("g1", "busy") {
		t.Fatalf("forgetting twice should report nothing removed")
	}
	if tr.Len() != 0 {
		t.Fatalf("expected empty tracker, got %d", tr.Len())
	}

	// a forgotten user starts over with a fresh window
	tr.Do("g1", "busy", func(w *Window) {
		if w.Score() != 0 || !w.LastSeen().IsZero() {
			t.Fatalf("expected fresh window")
		}
	})
}

func TestTrackerTop(t *testing.T) {
	tr := NewTracker()
	base := time.Unix(1_700_000_000, 0)
	scores := map[string]float64{"a": 3, "b": 9, "c": 6, "d": 0}
	for user, s := range scores {
		tr.Do("g1", user, func(w *Window) {
			w.Record(Observation{At: base}, testLimits)
			w.AddScore(s)
		})
	}
	tr.Do("g2", "x", func(w *Window) {
		w.Record(Observation{At: base}, testLimits)
		w.AddScore(100)
	})

	rate := func(string) float64 { return 1 }
	top := tr.Top("g1", base.Add(2*time.Second), rate, 2)
	if len(top) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(top))
	}
	if top[0].UserID != "b" || top[0].Score != 7 || top[1].UserID != "c" || top[1].Score != 4 {
		t.Fatalf("unexpected ranking: %+v", top)
	}

	all := tr.Top("g1", base.Add(2*time.Second), rate, 10)
	if len(all) != 3 {
		t.Fatalf("expected zero scores omitted, got %+v", all)
	}
	tr.Peek("g1", "b", func(w *Window) {
		if w.Score() != 9 {
			t.Fatalf("Top must not apply decay, got %f", w.Score())
		}
	})
}
