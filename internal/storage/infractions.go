package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Infraction is a user's durable strike count in one category. It outlives
// the in-memory score and restarts.
type Infraction struct {
	GuildID    string
	UserID     string
	Category   string
	Strikes    int
	LastAction string
	LastAt     time.Time
	// ExpiresAt is when the strikes lapse. Zero means never.
	ExpiresAt time.Time
}

// Expired reports whether the strikes have lapsed by now.
func (i Infraction) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInfraction(row rowScanner) (Infraction, error) {
	var inf Infraction
	var lastAt, expiresAt int64
	if err := row.Scan(&inf.GuildID, &inf.UserID, &inf.Category, &inf.Strikes, &inf.LastAction, &lastAt, &expiresAt); err != nil {
		return Infraction{}, err
	}
	inf.LastAt = time.Unix(lastAt, 0)
	if expiresAt > 0 {
		inf.ExpiresAt = time.Unix(expiresAt, 0)
	}
	return inf, nil
}

// Infraction returns the user's live strikes in a category. A missing or
// lapsed record reports zero strikes.
func (s *Store) Infraction(ctx context.Context, guildID, userID, category string) (Infraction, error) {
	inf, err := scanInfraction(s.db.QueryRowContext(ctx, s.rebind(`
		SELECT guild_id, user_id, category, strikes, last_action, last_at, expires_at
		FROM infractions
		WHERE guild_id = ? AND user_id = ? AND category = ?
	`), guildID, userID, category))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Infraction{GuildID: guildID, UserID: userID, Category: category}, nil
	case err != nil:
		return Infraction{}, err
	}
	if inf.Expired(s.now()) {
		inf.Strikes = 0
	}
	return inf, nil
}

// IncrementInfraction adds a strike and returns the live total. Lapsed
// strikes are dropped before counting. A positive expireAfter moves the
// expiry to now+expireAfter; zero keeps the strikes forever.
func (s *Store) IncrementInfraction(ctx context.Context, guildID, userID, category, lastAction string, expireAfter time.Duration) (int, error) {
	now := s.now().Unix()
	var expiresAt int64
	if expireAfter > 0 {
		expiresAt = now + int64(expireAfter/time.Second)
	}

	var strikes int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO infractions (guild_id, user_id, category, strikes, last_action, last_at, expires_at)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(guild_id, user_id, category) DO UPDATE SET
			strikes = CASE
				WHEN infractions.expires_at > 0 AND infractions.expires_at <= ? THEN 1
				ELSE infractions.strikes + 1
			END,
			last_action = excluded.last_action,
			last_at = excluded.last_at,
			expires_at = excluded.expires_at
		RETURNING strikes
	`), guildID, userID, category, lastAction, now, expiresAt, now).Scan(&strikes)
	return strikes, err
}

// TopInfractions lists the users with the most live strikes in a guild,
// most recent first among ties.
func (s *Store) TopInfractions(ctx context.Context, guildID, category string, limit int) ([]Infraction, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT guild_id, user_id, category, strikes, last_action, last_at, expires_at
		FROM infractions
		WHERE guild_id = ? AND category = ? AND (expires_at = 0 OR expires_at > ?)
		ORDER BY strikes DESC, last_at DESC
		LIMIT ?
	`), guildID, category, s.now().Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Infraction
	for rows.Next() {
		inf, err := scanInfraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inf)
	}
	return out, rows.Err()
}

// ClearInfractions removes every category for the user and returns how many
// live strikes were dropped.
func (s *Store) ClearInfractions(ctx context.Context, guildID, userID string) (int, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		DELETE FROM infractions
		WHERE guild_id = ? AND user_id = ?
		RETURNING strikes, expires_at
	`), guildID, userID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	now := s.now().Unix()
	cleared := 0
	for rows.Next() {
		var strikes int
		var expiresAt int64
		if err := rows.Scan(&strikes, &expiresAt); err != nil {
			return 0, err
		}
		if expiresAt == 0 || expiresAt > now {
			cleared += strikes
		}
	}
	return cleared, rows.Err()
}
