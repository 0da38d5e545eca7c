package policy

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"spamguard/internal/config"
)

func TestDocumentRoundTripKeepsToggles(t *testing.T) {
	p := Defaults("g1", config.DefaultConfig().Policy)
	p.Rules.URL = false
	p.IgnoredRoleIDs["r2"] = struct{}{}
	p.IgnoredRoleIDs["r1"] = struct{}{}
	p.IgnoredUserIDs["u9"] = struct{}{}
	p.LogChannelID = "c5"

	doc := p.Document()
	if !reflect.DeepEqual(doc.IgnoredRoleIDs, []string{"r1", "r2"}) {
		t.Fatalf("expected sorted role ids, got %v", doc.IgnoredRoleIDs)
	}
	if !reflect.DeepEqual(doc.IgnoredUserIDs, []string{"u9"}) {
		t.Fatalf("expected the ignored user exported, got %v", doc.IgnoredUserIDs)
	}
	if doc.Rules["url"] || !doc.Rules["rapid"] {
		t.Fatalf("unexpected rules: %v", doc.Rules)
	}

	back, err := doc.Policy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if !reflect.DeepEqual(back, p) {
		t.Fatalf("expected %+v, got %+v", p, back)
	}
}

func TestDocumentRejectsInvalid(t *testing.T) {
	doc := Defaults("g1", config.DefaultConfig().Policy).Document()
	doc.RapidWindowSeconds = 0
	var verr *ValidationError
	if _, err := doc.Policy(); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	doc = Defaults("g1", config.DefaultConfig().Policy).Document()
	doc.OffenseWindowSeconds = 5_000_000_000
	if _, err := doc.Policy(); !errors.As(err, &verr) {
		t.Fatalf("expected an oversized window rejected, got %v", err)
	}

	doc = Defaults("g1", config.DefaultConfig().Policy).Document()
	doc.Rules["telepathy"] = true
	if _, err := doc.Policy(); !errors.As(err, &verr) {
		t.Fatalf("expected unknown rule rejected, got %v", err)
	}
}

func TestParseLegacyStructured(t *testing.T) {
	data := []byte(`{
		"defaults": {"window_sec": 12, "max_msg_in_window": 5, "score_threshold": 6, "timeout_minutes": 10},
		"guilds": {
			"123": {"window_sec": 20, "max_msg_in_window": 8, "mention_threshold": 4, "log_channel_id": 998877665544332211,
				"ignore_role_ids": [11, 12], "ignore_channel_ids": [], "log_viewer_role_id": null}
		}
	}`)
	imp, err := ParseLegacy(data, config.DefaultConfig().Policy)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if imp.Flat {
		t.Fatalf("expected structured layout")
	}
	if !reflect.DeepEqual(imp.GuildIDs(), []string{"123"}) {
		t.Fatalf("unexpected guilds: %v", imp.GuildIDs())
	}

	p, err := imp.Policy("123")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if p.RapidWindow != 20*time.Second || p.RapidMaxMessages != 7 || p.MentionMax != 3 {
		t.Fatalf("unexpected converted limits: %+v", p)
	}
	if p.LogChannelID != "998877665544332211" || !p.IsRoleIgnored("11") || !p.IsRoleIgnored("12") {
		t.Fatalf("unexpected ids: %+v", p)
	}

	other, err := imp.Policy("456")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if other.RapidWindow != 12*time.Second || other.RapidMaxMessages != 4 {
		t.Fatalf("guild without entry should get the file defaults: %+v", other)
	}
}

func TestParseLegacyFlat(t *testing.T) {
	imp, err := ParseLegacy([]byte(`{"window_sec": 30, "url_threshold": 1, "whitelist_user_ids": [42], "whitelist_role_ids": [7]}`), config.DefaultConfig().Policy)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !imp.Flat || len(imp.GuildIDs()) != 0 {
		t.Fatalf("expected flat layout without guilds")
	}
	p, err := imp.Policy("g9")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if p.RapidWindow != 30*time.Second || p.URLMaxBeforePenalty != 0 {
		t.Fatalf("unexpected policy: %+v", p)
	}
	if !p.IsUserIgnored("42") || !p.IsRoleIgnored("7") {
		t.Fatalf("expected whitelisted user and role exempt, got %v / %v", p.IgnoredUserIDs, p.IgnoredRoleIDs)
	}
}

func TestParseLegacyRejectsGarbage(t *testing.T) {
	if _, err := ParseLegacy([]byte(`not json`), config.DefaultConfig().Policy); err == nil {
		t.Fatalf("expected parse error")
	}
}
