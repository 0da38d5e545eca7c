package analytics

import (
	"context"
	"sort"
	"time"

	"spamguard/internal/storage"
)

type Source interface {
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error)
}

type Service struct {
	store Source
}

func New(store Source) *Service {
	return &Service{store: store}
}

type UserCount struct {
	UserID string
	Count  int
}

// Report summarizes a guild's audit trail since a point in time.
type Report struct {
	Since   time.Time
	Total   int
	ByLevel map[string]int
	ByEvent map[string]int
	// TopUsers are the most flagged users, most first.
	TopUsers []UserCount
}

const topUsers = 5

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{Since: since, ByLevel: make(map[string]int), ByEvent: make(map[string]int)}
	flagged := make(map[string]int)
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
		if log.Event == "spam_flagged" && log.UserID != "" {
			flagged[log.UserID]++
		}
	}

	for user, count := range flagged {
		report.TopUsers = append(report.TopUsers, UserCount{UserID: user, Count: count})
	}
	sort.Slice(report.TopUsers, func(i, j int) bool {
		if report.TopUsers[i].Count != report.TopUsers[j].Count {
			return report.TopUsers[i].Count > report.TopUsers[j].Count
		}
		return report.TopUsers[i].UserID < report.TopUsers[j].UserID
	})
	if len(report.TopUsers) > topUsers {
		report.TopUsers = report.TopUsers[:topUsers]
	}
	return report, nil
}
