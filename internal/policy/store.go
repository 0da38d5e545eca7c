package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"spamguard/internal/config"

	"go.uber.org/zap"
)

// Saver persists a policy after every successful update.
type Saver interface {
	SavePolicy(ctx context.Context, p GuildPolicy) error
}

// TargetKind says what an ignore entry refers to.
type TargetKind string

const (
	TargetRole    TargetKind = "role"
	TargetChannel TargetKind = "channel"
	TargetUser    TargetKind = "user"
)

type Target struct {
	Kind TargetKind
	ID   string
}

// Store owns every guild policy. Published policies are never mutated in
// place: updates build a new copy and swap it in, so a reader sees either the
// old or the new policy in full.
type Store struct {
	mu       sync.RWMutex
	writeMu  sync.Mutex
	defaults config.PolicyConfig
	policies map[string]*GuildPolicy
	saver    Saver
	logger   *zap.Logger
}

func NewStore(defaults config.PolicyConfig, saver Saver, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		defaults: defaults,
		policies: make(map[string]*GuildPolicy),
		saver:    saver,
		logger:   logger,
	}
}

// Load replaces the in-memory policies, typically at startup. Invalid records
// are skipped and reported.
func (s *Store) Load(policies []GuildPolicy) error {
	loaded := make(map[string]*GuildPolicy, len(policies))
	var firstErr error
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			s.logger.Warn("skipping invalid stored policy", zap.String("guild_id", p.GuildID), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("guild %s: %w", p.GuildID, err)
			}
			continue
		}
		clone := p.Clone()
		loaded[p.GuildID] = &clone
	}

	s.mu.Lock()
	s.policies = loaded
	s.mu.Unlock()
	return firstErr
}

// Get returns a snapshot of the guild's policy, creating the default one on
// first access.
func (s *Store) Get(guildID string) GuildPolicy {
	s.mu.RLock()
	current := s.policies[guildID]
	s.mu.RUnlock()
	if current != nil {
		return current.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current = s.policies[guildID]
	if current == nil {
		created := Defaults(guildID, s.defaults)
		current = &created
		s.policies[guildID] = current
	}
	return current.Clone()
}

// All returns a snapshot of every known policy ordered by guild ID.
func (s *Store) All() []GuildPolicy {
	s.mu.RLock()
	out := make([]GuildPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out
}

// Update applies mutate to a copy of the guild's policy, validates the result
// and publishes it. A mutate or validation error leaves the policy unchanged.
func (s *Store) Update(ctx context.Context, guildID string, mutate func(*GuildPolicy) error) (GuildPolicy, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.Get(guildID)
	if err := mutate(&next); err != nil {
		return s.Get(guildID), err
	}
	next.GuildID = guildID
	if err := next.Validate(); err != nil {
		return s.Get(guildID), err
	}

	published := next.Clone()
	s.mu.Lock()
	s.policies[guildID] = &published
	s.mu.Unlock()

	if s.saver != nil {
		if err := s.saver.SavePolicy(ctx, next.Clone()); err != nil {
			s.logger.Error("policy save failed", zap.String("guild_id", guildID), zap.Error(err))
			return next, fmt.Errorf("%w: %v", ErrNotPersisted, err)
		}
	}
	return next, nil
}

// SetRule assigns one named parameter, e.g. "flag_threshold" = "8".
func (s *Store) SetRule(ctx context.Context, guildID, name, raw string) (GuildPolicy, error) {
	return s.Update(ctx, guildID, func(p *GuildPolicy) error {
		return SetParameter(p, name, raw)
	})
}

func (s *Store) SetRuleEnabled(ctx context.Context, guildID string, rule Rule, on bool) (GuildPolicy, error) {
	return s.Update(ctx, guildID, func(p *GuildPolicy) error {
		return p.Rules.Set(rule, on)
	})
}

// SetLogChannel binds the log channel; an empty channelID unbinds it.
func (s *Store) SetLogChannel(ctx context.Context, guildID, channelID string) (GuildPolicy, error) {
	return s.Update(ctx, guildID, func(p *GuildPolicy) error {
		p.LogChannelID = strings.TrimSpace(channelID)
		return nil
	})
}

// IgnoreAdd exempts a role or channel. Adding an existing entry is a no-op.
func (s *Store) IgnoreAdd(ctx context.Context, guildID string, target Target) (GuildPolicy, error) {
	return s.Update(ctx, guildID, func(p *GuildPolicy) error {
		set, err := p.ignoreSet(target)
		if err != nil {
			return err
		}
		set[target.ID] = struct{}{}
		return nil
	})
}

// IgnoreRemove drops an exemption. Removing an absent entry is a no-op.
func (s *Store) IgnoreRemove(ctx context.Context, guildID string, target Target) (GuildPolicy, error) {
	return s.Update(ctx, guildID, func(p *GuildPolicy) error {
		set, err := p.ignoreSet(target)
		if err != nil {
			return err
		}
		delete(set, target.ID)
		return nil
	})
}

// Reset restores the configured defaults for the guild.
func (s *Store) Reset(ctx context.Context, guildID string) (GuildPolicy, error) {
	return s.Update(ctx, guildID, func(p *GuildPolicy) error {
		*p = Defaults(guildID, s.defaults)
		return nil
	})
}

func (p *GuildPolicy) ignoreSet(target Target) (map[string]struct{}, error) {
	if strings.TrimSpace(target.ID) == "" {
		return nil, invalid("target", "id is required")
	}
	switch target.Kind {
	case TargetRole:
		if p.IgnoredRoleIDs == nil {
			p.IgnoredRoleIDs = make(map[string]struct{})
		}
		return p.IgnoredRoleIDs, nil
	case TargetChannel:
		if p.IgnoredChannelIDs == nil {
			p.IgnoredChannelIDs = make(map[string]struct{})
		}
		return p.IgnoredChannelIDs, nil
	case TargetUser:
		if p.IgnoredUserIDs == nil {
			p.IgnoredUserIDs = make(map[string]struct{})
		}
		return p.IgnoredUserIDs, nil
	default:
		return nil, invalid("target", fmt.Sprintf("unknown kind %q", target.Kind))
	}
}

// Status summarizes the guild's policy for the status command.
func (s *Store) Status(guildID string) []Field {
	return s.Get(guildID).Fields()
}
