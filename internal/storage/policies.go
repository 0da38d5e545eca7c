package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"spamguard/internal/policy"
)

// SavePolicy upserts the guild's policy. It satisfies policy.Saver.
func (s *Store) SavePolicy(ctx context.Context, p policy.GuildPolicy) error {
	payload, err := json.Marshal(p.Document())
	if err != nil {
		return fmt.Errorf("encode policy %s: %w", p.GuildID, err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO guild_policies (guild_id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`), p.GuildID, string(payload), s.now().Unix())
	return err
}

// LoadPolicies returns every stored policy. Rows that fail to decode or
// validate are skipped and reported together in the returned error.
func (s *Store) LoadPolicies(ctx context.Context) ([]policy.GuildPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id, payload FROM guild_policies ORDER BY guild_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []policy.GuildPolicy
	var bad []error
	for rows.Next() {
		var guildID, payload string
		if err := rows.Scan(&guildID, &payload); err != nil {
			return nil, err
		}
		var doc policy.Document
		if err := json.Unmarshal([]byte(payload), &doc); err != nil {
			bad = append(bad, fmt.Errorf("guild %s: %w", guildID, err))
			continue
		}
		doc.GuildID = guildID
		p, err := doc.Policy()
		if err != nil {
			bad = append(bad, err)
			continue
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return policies, errors.Join(bad...)
}

func (s *Store) DeletePolicy(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM guild_policies WHERE guild_id = ?`), guildID)
	return err
}
