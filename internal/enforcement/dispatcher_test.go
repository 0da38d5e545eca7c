package enforcement

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"spamguard/internal/config"
	"spamguard/internal/policy"
)

type fakeExecutor struct {
	mu         sync.Mutex
	deleteErr  error
	timeoutErr error
	logErr     error
	deletes    int
	timeouts   []time.Time
	logs       []LogEntry
}

func (f *fakeExecutor) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return f.deleteErr
}

func (f *fakeExecutor) TimeoutMember(ctx context.Context, guildID, userID string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts = append(f.timeouts, until)
	return f.timeoutErr
}

func (f *fakeExecutor) PostLog(ctx context.Context, channelID string, entry LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logErr != nil {
		return f.logErr
	}
	f.logs = append(f.logs, entry)
	return nil
}

type fakeAuditor struct {
	events []string
}

func (f *fakeAuditor) Log(ctx context.Context, level, guildID, userID, event, details string) {
	f.events = append(f.events, event)
}

type fakeRecorder struct {
	calls       int
	lastAction  string
	expireAfter time.Duration
}

func (f *fakeRecorder) IncrementInfraction(ctx context.Context, guildID, userID, category, lastAction string, expireAfter time.Duration) (int, error) {
	f.calls++
	f.lastAction = lastAction
	f.expireAfter = expireAfter
	return f.calls, nil
}

func testDecision() Decision {
	return Decision{
		ID:        "SEC-20240101000000-abcdef",
		GuildID:   "g1",
		ChannelID: "c1",
		UserID:    "u1",
		MessageID: "m1",
		Score:     12,
		Triggered: []policy.Rule{policy.RuleRapid},
		Actions:   Actions{Delete: true, Log: true, LogChannelID: "log1"},
		Offenses:  1,
		Text:      "buy now",
	}
}

func newTestDispatcher(exec Executor) *Dispatcher {
	return NewDispatcher(exec, Options{BreakerFailures: 3, BreakerCooldown: time.Minute}, nil)
}

func TestExecuteAllActions(t *testing.T) {
	exec := &fakeExecutor{}
	d := newTestDispatcher(exec)
	now := time.Unix(1_700_000_000, 0)
	d.WithClock(func() time.Time { return now })
	auditor := &fakeAuditor{}
	recorder := &fakeRecorder{}
	d.SetAuditor(auditor)
	d.SetRecorder(recorder)

	dec := testDecision()
	dec.Actions.Timeout = true
	dec.Actions.TimeoutFor = 10 * time.Minute

	report := d.Execute(context.Background(), dec)
	if report.Failed() {
		t.Fatalf("unexpected failures: %v", report.Failures)
	}
	if report.Delete != StatusOK || report.Timeout != StatusOK || report.Log != StatusOK {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(exec.timeouts) != 1 || !exec.timeouts[0].Equal(now.Add(10*time.Minute)) {
		t.Fatalf("unexpected timeout deadline: %v", exec.timeouts)
	}
	if len(exec.logs) != 1 || exec.logs[0].DeleteStatus != StatusOK || exec.logs[0].Reasons[0] != "rapid" {
		t.Fatalf("unexpected log entry: %+v", exec.logs)
	}
	if recorder.calls != 1 || recorder.lastAction != ActionTimeout {
		t.Fatalf("expected a timeout strike recorded, got %+v", recorder)
	}
	if report.Strikes != 1 || exec.logs[0].Strikes != 1 {
		t.Fatalf("expected the strike count in the report and log entry, got %d and %d", report.Strikes, exec.logs[0].Strikes)
	}
	if exec.logs[0].Action != "delete + timeout 10m0s" {
		t.Fatalf("unexpected action label %q", exec.logs[0].Action)
	}
	if len(auditor.events) != 1 || auditor.events[0] != "spam_flagged" {
		t.Fatalf("unexpected audit events: %v", auditor.events)
	}
}

func TestForbiddenDeleteStillLogs(t *testing.T) {
	exec := &fakeExecutor{deleteErr: ErrForbidden}
	d := newTestDispatcher(exec)
	auditor := &fakeAuditor{}
	d.SetAuditor(auditor)

	report := d.Execute(context.Background(), testDecision())
	if report.Delete != StatusForbidden {
		t.Fatalf("expected forbidden, got %s", report.Delete)
	}
	if len(report.Failures) != 1 {
		t.Fatalf("expected one failure, got %v", report.Failures)
	}
	var failure *Failure
	if !errors.As(report.Failures[0], &failure) || failure.Action != ActionDelete || !errors.Is(failure, ErrForbidden) {
		t.Fatalf("unexpected failure: %v", report.Failures[0])
	}
	if report.Log != StatusOK || len(exec.logs) != 1 || exec.logs[0].DeleteStatus != StatusForbidden {
		t.Fatalf("log entry should carry the delete outcome: %+v", exec.logs)
	}
	if len(auditor.events) != 2 || auditor.events[1] != "enforcement_failed" {
		t.Fatalf("expected failure audited, got %v", auditor.events)
	}
}

func TestForbiddenDoesNotTripBreaker(t *testing.T) {
	exec := &fakeExecutor{deleteErr: ErrForbidden}
	d := newTestDispatcher(exec)
	dec := testDecision()
	dec.Actions.Log = false

	for i := 0; i < 10; i++ {
		if report := d.Execute(context.Background(), dec); report.Delete != StatusForbidden {
			t.Fatalf("attempt %d: expected forbidden, got %s", i, report.Delete)
		}
	}
	if exec.deletes != 10 {
		t.Fatalf("expected every delete attempted, got %d", exec.deletes)
	}
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	exec := &fakeExecutor{deleteErr: errors.New("502 bad gateway")}
	d := newTestDispatcher(exec)
	dec := testDecision()
	dec.Actions.Log = false

	for i := 0; i < 3; i++ {
		if report := d.Execute(context.Background(), dec); report.Delete != StatusHTTPError {
			t.Fatalf("attempt %d: expected http_error, got %s", i, report.Delete)
		}
	}
	report := d.Execute(context.Background(), dec)
	if report.Delete != StatusBreakerOpen {
		t.Fatalf("expected breaker_open, got %s", report.Delete)
	}
	if exec.deletes != 3 {
		t.Fatalf("open breaker must not reach the executor, got %d calls", exec.deletes)
	}
}

func TestLogFailureIsDropped(t *testing.T) {
	exec := &fakeExecutor{logErr: errors.New("channel gone")}
	d := newTestDispatcher(exec)

	report := d.Execute(context.Background(), testDecision())
	if report.Delete != StatusOK {
		t.Fatalf("delete should succeed, got %s", report.Delete)
	}
	if report.Log != StatusHTTPError || len(report.Failures) != 1 || report.Failures[0].Action != ActionLog {
		t.Fatalf("expected log failure reported, got %+v", report)
	}
}

func TestDryRunSkipsModeration(t *testing.T) {
	exec := &fakeExecutor{}
	d := NewDispatcher(exec, Options{DryRun: true}, nil)
	dec := testDecision()
	dec.Actions.Timeout = true
	dec.Actions.TimeoutFor = time.Minute

	report := d.Execute(context.Background(), dec)
	if report.Delete != StatusDryRun || report.Timeout != StatusDryRun {
		t.Fatalf("expected dry run statuses, got %+v", report)
	}
	if exec.deletes != 0 || len(exec.timeouts) != 0 {
		t.Fatalf("dry run must not moderate")
	}
	if len(exec.logs) != 1 {
		t.Fatalf("dry run should still post the log entry")
	}
}

func TestNoLogChannelNotAttempted(t *testing.T) {
	exec := &fakeExecutor{}
	d := newTestDispatcher(exec)
	dec := testDecision()
	dec.Actions.Log = false
	dec.Actions.LogChannelID = ""

	if report := d.Execute(context.Background(), dec); report.Log != StatusNotAttempted {
		t.Fatalf("expected not_attempted, got %s", report.Log)
	}
}

func TestActionFollowsDecision(t *testing.T) {
	exec := &fakeExecutor{}
	d := newTestDispatcher(exec)
	recorder := &fakeRecorder{}
	d.SetRecorder(recorder)

	dec := testDecision()
	dec.Actions.Delete = false
	report := d.Execute(context.Background(), dec)
	if exec.deletes != 0 || report.Delete != StatusNotAttempted {
		t.Fatalf("delete was not requested, got %s with %d calls", report.Delete, exec.deletes)
	}
	if len(exec.logs) != 1 || exec.logs[0].Action != "log only" {
		t.Fatalf("expected a log only entry, got %+v", exec.logs)
	}
	if recorder.lastAction != ActionLog {
		t.Fatalf("expected the strike stored as %s, got %q", ActionLog, recorder.lastAction)
	}

	dec.Actions.Timeout = true
	dec.Actions.TimeoutFor = 5 * time.Minute
	d.Execute(context.Background(), dec)
	if got := exec.logs[1].Action; got != "timeout 5m0s" {
		t.Fatalf("unexpected action label %q", got)
	}
	if recorder.lastAction != ActionTimeout {
		t.Fatalf("expected a timeout strike, got %q", recorder.lastAction)
	}
}

func TestStrikeExpiryFromConfig(t *testing.T) {
	exec := &fakeExecutor{}
	cfg := config.DefaultConfig().Enforcement
	cfg.StrikeExpiryDays = 7
	d := NewDispatcher(exec, OptionsFromConfig(cfg, false), nil)
	recorder := &fakeRecorder{}
	d.SetRecorder(recorder)

	d.Execute(context.Background(), testDecision())
	if recorder.expireAfter != 7*24*time.Hour {
		t.Fatalf("expected a 7 day expiry, got %s", recorder.expireAfter)
	}

	cfg.StrikeExpiryDays = 1 << 40
	if got := OptionsFromConfig(cfg, false).StrikeExpiry; got != maxStrikeExpiryDays*24*time.Hour {
		t.Fatalf("expected the expiry capped, got %s", got)
	}
}

func TestExcerptLengthFromOptions(t *testing.T) {
	exec := &fakeExecutor{}
	d := NewDispatcher(exec, Options{ExcerptChars: 500}, nil)
	dec := testDecision()
	dec.Text = strings.Repeat("a", 450)

	d.Execute(context.Background(), dec)
	if len(exec.logs) != 1 {
		t.Fatalf("expected one log entry, got %d", len(exec.logs))
	}
	if got := exec.logs[0].Excerpt; got != dec.Text {
		t.Fatalf("a 450 character message fits a 500 character excerpt, got %d characters", len(got))
	}

	d = NewDispatcher(exec, Options{ExcerptChars: 10}, nil)
	d.Execute(context.Background(), dec)
	if got := exec.logs[1].Excerpt; got != strings.Repeat("a", 10)+"..." {
		t.Fatalf("unexpected short excerpt %q", got)
	}
}

func TestNewEventID(t *testing.T) {
	at := time.Date(2024, 3, 5, 7, 9, 11, 0, time.UTC)
	id := NewEventID(at)
	if !regexp.MustCompile(`^SEC-20240305070911-[0-9a-f]{6}$`).MatchString(id) {
		t.Fatalf("unexpected event id %q", id)
	}
	if NewEventID(at) == id {
		t.Fatalf("expected unique suffixes")
	}
}

func TestExcerpt(t *testing.T) {
	if got := Excerpt("   ", 10); got != "(no text)" {
		t.Fatalf("unexpected empty excerpt %q", got)
	}
	if got := Excerpt("short", 10); got != "short" {
		t.Fatalf("unexpected excerpt %q", got)
	}
	long := strings.Repeat("é", 20)
	got := Excerpt(long, 5)
	if got != strings.Repeat("é", 5)+"..." {
		t.Fatalf("expected rune-safe cut, got %q", got)
	}
}
