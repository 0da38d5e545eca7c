package main

import (
	"testing"
	"time"

	"spamguard/internal/config"
	"spamguard/internal/policy"

	"github.com/goccy/go-json"
)

func TestDecodePoliciesExport(t *testing.T) {
	base := config.DefaultConfig().Policy
	p := policy.Defaults("g1", base)
	p.FlagThreshold = 9
	data, err := json.Marshal([]policy.Document{p.Document()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := decodePolicies(data, base, "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].GuildID != "g1" || got[0].FlagThreshold != 9 {
		t.Fatalf("unexpected policies: %+v", got)
	}
}

func TestDecodePoliciesRejectsInvalidExport(t *testing.T) {
	base := config.DefaultConfig().Policy
	doc := policy.Defaults("g1", base).Document()
	doc.FlagThreshold = 0
	data, _ := json.Marshal([]policy.Document{doc})
	if _, err := decodePolicies(data, base, ""); err == nil {
		t.Fatalf("expected invalid export rejected")
	}
}

func TestDecodePoliciesLegacy(t *testing.T) {
	base := config.DefaultConfig().Policy
	structured := []byte(`{"defaults": {"window_sec": 15}, "guilds": {"1": {"max_msg_in_window": 4}, "2": {}}}`)

	got, err := decodePolicies(structured, base, "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].GuildID != "1" || got[1].GuildID != "2" {
		t.Fatalf("expected both guilds in order, got %+v", got)
	}
	if got[0].RapidWindow != 15*time.Second || got[0].RapidMaxMessages != 3 {
		t.Fatalf("unexpected converted policy: %+v", got[0])
	}

	flat := []byte(`{"window_sec": 30}`)
	if _, err := decodePolicies(flat, base, ""); err == nil {
		t.Fatalf("flat file without a guild must fail")
	}
	got, err = decodePolicies(flat, base, "77")
	if err != nil {
		t.Fatalf("decode flat: %v", err)
	}
	if len(got) != 1 || got[0].GuildID != "77" || got[0].RapidWindow != 30*time.Second {
		t.Fatalf("unexpected flat import: %+v", got)
	}
}

func TestValidateDefaults(t *testing.T) {
	base := config.DefaultConfig().Policy
	if err := validateDefaults(base); err != nil {
		t.Fatalf("stock defaults rejected: %v", err)
	}

	base.RapidWindowSeconds = 40 * 24 * 60 * 60
	if err := validateDefaults(base); err == nil {
		t.Fatalf("expected a 40 day window rejected")
	}
}
