package fingerprint

import (
	"bytes"
	"testing"
	"time"
)

func TestNormalizeIP(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1.2.3.4", "1.2.3.0"},
		{" 192.168.10.200 ", "192.168.10.0"},
		{"::ffff:10.0.0.7", "10.0.0.0"},
		{"2001:db8:85a3:1234:5678:8a2e:370:7334", "2001:db8:85a3:1234::"},
		{"2001:0db8:0000:0001::1", "2001:db8:0:1::"},
		{"::1", "127.0.0"},
		{"not-an-ip", "not-an-ip"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeIP(tt.in); got != tt.want {
			t.Errorf("NormalizeIP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestVisitorIDDeterministic(t *testing.T) {
	attrs := Attributes{IP: "1.2.3.4", UserAgent: "Mozilla/5.0", AcceptLanguage: "en-US", AcceptEncoding: "gzip"}
	a, b := VisitorID(attrs), VisitorID(attrs)
	if a != b {
		t.Fatalf("VisitorID not deterministic: %q != %q", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("len(VisitorID) = %d, want 16", len(a))
	}

	sameSubnet := attrs
	sameSubnet.IP = "1.2.3.99"
	if VisitorID(sameSubnet) != a {
		t.Error("addresses in the same /24 should share a visitor id")
	}
	otherUA := attrs
	otherUA.UserAgent = "curl/8.0"
	if VisitorID(otherUA) == a {
		t.Error("different user agent produced the same visitor id")
	}
}

func TestIdentifyEmptyAttributes(t *testing.T) {
	id := Generator{}.Identify(Attributes{})
	if len(id.VisitorID) != 16 || len(id.SessionID) != 16 {
		t.Fatalf("Identify(empty) = %+v", id)
	}
}

func TestSessionIDUsesNonce(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 13, 20, 0, 0, time.UTC)
	nonce := byte(0)
	g := Generator{
		Now:   func() time.Time { return fixed },
		Nonce: func() []byte { nonce++; return bytes.Repeat([]byte{nonce}, 8) },
	}
	first := g.Identify(Attributes{IP: "1.2.3.4"})
	second := g.Identify(Attributes{IP: "1.2.3.4"})
	if first.VisitorID != second.VisitorID {
		t.Fatal("visitor id changed between calls")
	}
	if first.SessionID == second.SessionID {
		t.Fatal("session id repeated despite a fresh nonce")
	}

	sameNonce := Generator{Now: g.Now, Nonce: func() []byte { return make([]byte, 8) }}
	if sameNonce.SessionID("v") != sameNonce.SessionID("v") {
		t.Fatal("session id not deterministic for a fixed nonce and hour")
	}
}
