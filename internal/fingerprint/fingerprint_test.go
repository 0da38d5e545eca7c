package fingerprint

import "testing"

func TestSumIgnoresCaseAndWhitespace(t *testing.T) {
	a := Sum("Buy   CHEAP nitro\tnow")
	b := Sum("  buy cheap Nitro now ")
	if a != b {
		t.Fatalf("expected identical fingerprints, got %x and %x", a, b)
	}
	if c := Sum("buy cheap nitro later"); c == a {
		t.Fatalf("expected different fingerprint for different text")
	}
}

func TestSumCollapsesPlatformMarkup(t *testing.T) {
	a := Sum("hey <@123> join https://spam.example/a **now**")
	b := Sum("hey <@!456> join https://other.example/b now")
	if a != b {
		t.Fatalf("expected mentions, links and markup to collapse")
	}
	if Sum("<:pepe:111> gg") != Sum("<a:wave:222> GG") {
		t.Fatalf("expected custom emoji to collapse")
	}
}

func TestSumFoldsDiacritics(t *testing.T) {
	if Sum("Café gratuit") != Sum("cafe GRATUIT") {
		t.Fatalf("expected diacritics to fold")
	}
}

func TestSumEmpty(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t", "**"} {
		if got := Sum(text); got != Empty {
			t.Fatalf("expected Empty for %q, got %x", text, got)
		}
	}
}
