package enforcement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrForbidden is returned by an Executor when the bot lacks the permission
// for an action.
var ErrForbidden = errors.New("forbidden")

// Executor performs moderation actions on the chat platform.
type Executor interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	TimeoutMember(ctx context.Context, guildID, userID string, until time.Time) error
	PostLog(ctx context.Context, channelID string, entry LogEntry) error
}

const (
	ActionDelete  = "delete"
	ActionTimeout = "timeout"
	ActionLog     = "log"
)

// Failure is one action that did not go through.
type Failure struct {
	Action string
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failed: %v", f.Action, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

type Status string

const (
	StatusOK           Status = "ok"
	StatusForbidden    Status = "forbidden"
	StatusHTTPError    Status = "http_error"
	StatusBreakerOpen  Status = "breaker_open"
	StatusNotAttempted Status = "not_attempted"
	StatusDryRun       Status = "dry_run"
)

// StatusOf classifies an executor error.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrForbidden):
		return StatusForbidden
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return StatusBreakerOpen
	default:
		return StatusHTTPError
	}
}

// LogEntry is the security event posted to a guild's log channel.
type LogEntry struct {
	EventID       string
	GuildID       string
	ChannelID     string
	UserID        string
	MessageID     string
	Score         float64
	Offenses      int
	// Strikes is the user's stored strike count including this event.
	Strikes int
	Reasons       []string
	Action        string
	Excerpt       string
	DeleteStatus  Status
	TimeoutStatus Status
	TimeoutFor    time.Duration
	At            time.Time
}

// Report is the outcome of dispatching one decision.
type Report struct {
	DecisionID string
	Delete     Status
	Timeout    Status
	Log        Status
	// Strikes is the user's stored strike count after this decision, 0 when
	// no recorder is set or recording failed.
	Strikes  int
	Failures []*Failure
}

func (r Report) Failed() bool { return len(r.Failures) > 0 }
