package scoring

import (
	"reflect"
	"testing"
	"time"

	"spamguard/internal/activity"
	"spamguard/internal/config"
	"spamguard/internal/policy"
)

func testPolicy() policy.GuildPolicy {
	p := policy.Defaults("g1", config.DefaultConfig().Policy)
	p.RapidMaxMessages = 5
	p.RapidScoreWeight = 2
	p.DuplicateScoreWeight = 3
	p.URLMaxBeforePenalty = 1
	p.URLScoreWeight = 3
	p.URLRepeatMax = 2
	p.URLRepeatScoreWeight = 3
	p.MentionMax = 3
	p.MentionScoreWeight = 3
	p.NewAccountBonusDays = 1
	p.NewAccountScoreWeight = 1
	return p
}

func TestCombineSignals(t *testing.T) {
	p := testPolicy()
	cases := []struct {
		name      string
		in        Input
		delta     float64
		triggered []policy.Rule
	}{
		{"quiet", Input{Signals: activity.Signals{Rapid: 1, Duplicate: 1}}, 0, nil},
		{"rapid", Input{Signals: activity.Signals{Rapid: 8}}, 6, []policy.Rule{policy.RuleRapid}},
		{"rapid at limit", Input{Signals: activity.Signals{Rapid: 5}}, 0, nil},
		{"duplicate", Input{Signals: activity.Signals{Duplicate: 3}}, 6, []policy.Rule{policy.RuleDuplicate}},
		{"urls", Input{Signals: activity.Signals{URLs: 3}}, 6, []policy.Rule{policy.RuleURL}},
		{"url repeat", Input{Signals: activity.Signals{URLRepeat: 3}}, 3, []policy.Rule{policy.RuleURLRepeat}},
		{"mentions", Input{Signals: activity.Signals{Mentions: 5}}, 6, []policy.Rule{policy.RuleMention}},
		{"new account", Input{AccountAge: time.Hour, AccountAgeKnown: true}, 1, []policy.Rule{policy.RuleNewAccount}},
		{"old account", Input{AccountAge: 48 * time.Hour, AccountAgeKnown: true}, 0, nil},
		{"unknown age", Input{}, 0, nil},
		{
			"combined",
			Input{Signals: activity.Signals{Rapid: 6, Duplicate: 2, Mentions: 4}, AccountAge: time.Minute, AccountAgeKnown: true},
			2 + 3 + 3 + 1,
			[]policy.Rule{policy.RuleRapid, policy.RuleDuplicate, policy.RuleMention, policy.RuleNewAccount},
		},
	}
	for _, tc := range cases {
		delta, triggered := Combine(tc.in, p)
		if delta != tc.delta {
			t.Fatalf("%s: expected delta %g, got %g", tc.name, tc.delta, delta)
		}
		if !reflect.DeepEqual(triggered, tc.triggered) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.triggered, triggered)
		}
	}
}

func TestRapidMonotonic(t *testing.T) {
	p := testPolicy()
	prev := 0.0
	for count := p.RapidMaxMessages + 1; count < 30; count++ {
		delta, _ := Combine(Input{Signals: activity.Signals{Rapid: count}}, p)
		if delta <= prev {
			t.Fatalf("expected delta to grow with count, %d gave %g after %g", count, delta, prev)
		}
		prev = delta
	}
}

func TestDisabledRulesDoNotContribute(t *testing.T) {
	p := testPolicy()
	for _, rule := range []policy.Rule{policy.RuleRapid, policy.RuleDuplicate, policy.RuleURL, policy.RuleURLRepeat, policy.RuleMention, policy.RuleNewAccount} {
		if err := p.Rules.Set(rule, false); err != nil {
			t.Fatalf("disable %s: %v", rule, err)
		}
	}
	in := Input{
		Signals:         activity.Signals{Rapid: 50, Duplicate: 50, URLs: 50, URLRepeat: 50, Mentions: 50},
		AccountAge:      time.Second,
		AccountAgeKnown: true,
	}
	if delta, triggered := Combine(in, p); delta != 0 || len(triggered) != 0 {
		t.Fatalf("expected nothing from disabled rules, got %g %v", delta, triggered)
	}
}

func TestZeroWeightDoesNotTrigger(t *testing.T) {
	p := testPolicy()
	p.RapidScoreWeight = 0
	if _, triggered := Combine(Input{Signals: activity.Signals{Rapid: 20}}, p); len(triggered) != 0 {
		t.Fatalf("a zero contribution must not be reported, got %v", triggered)
	}
}
