package app

import (
	"errors"
	"testing"
	"time"

	"github.com/piJoe/zwietracht-vc/internal/domain"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestIssuer(ttl time.Duration) (*TokenIssuer, *fakeClock) {
	clk := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	ti := NewTokenIssuer(ttl)
	ti.SetClock(clk.Now)
	return ti, clk
}

func TestTokenIssueClaimComplete(t *testing.T) {
	ti, _ := newTestIssuer(30 * time.Second)

	p, err := ti.Issue("alice", "general")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Token) < 40 {
		t.Fatalf("token %q too short", p.Token)
	}
	if _, err := ti.Issue("alice", "gaming"); !errors.Is(err, domain.ErrAlreadyPending) {
		t.Fatalf("second issue err = %v", err)
	}
	if _, ok := ti.Complete("alice"); ok {
		t.Fatal("completed an unclaimed handshake")
	}

	claimed, err := ti.Claim("alice", p.Token)
	if err != nil {
		t.Fatal(err)
	}
	if !claimed.Claimed || claimed.Token != "" || claimed.Channel != "general" {
		t.Fatalf("claimed view = %+v", claimed)
	}
	if _, err := ti.Claim("alice", p.Token); !errors.Is(err, domain.ErrAuthenticationFailure) {
		t.Fatalf("reuse err = %v", err)
	}
	if _, ok := ti.Complete("alice"); !ok {
		t.Fatal("complete failed")
	}
	if ti.Len() != 0 {
		t.Fatal("entry left after complete")
	}
}

func TestTokenClaimRejects(t *testing.T) {
	ti, _ := newTestIssuer(30 * time.Second)
	p, _ := ti.Issue("alice", "general")

	for name, tc := range map[string]struct {
		user  domain.UserID
		token string
	}{
		"wrong token": {"alice", p.Token[1:]},
		"empty token": {"alice", ""},
		"other user":  {"bob", p.Token},
	} {
		if _, err := ti.Claim(tc.user, tc.token); !errors.Is(err, domain.ErrAuthenticationFailure) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
	if _, err := ti.Claim("alice", p.Token); err != nil {
		t.Fatalf("failed attempts must not burn the token: %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	ti, clk := newTestIssuer(30 * time.Second)
	p, _ := ti.Issue("alice", "general")
	_, _ = ti.Issue("bob", "general")

	clk.Advance(29 * time.Second)
	if got := ti.Expired(); len(got) != 0 {
		t.Fatalf("expired early: %v", got)
	}
	clk.Advance(time.Second)
	if got := ti.Expired(); len(got) != 2 {
		t.Fatalf("expired = %d, want 2", len(got))
	}
	if ti.Len() != 2 {
		t.Fatal("Expired must not remove entries")
	}
	if _, err := ti.Claim("alice", p.Token); !errors.Is(err, domain.ErrAuthenticationFailure) {
		t.Fatalf("expired claim err = %v", err)
	}
	if _, ok := ti.Pending("alice"); ok {
		t.Fatal("expired claim must drop the entry")
	}
	if _, ok := ti.Revoke("bob"); !ok {
		t.Fatal("revoke failed")
	}
	if _, ok := ti.Revoke("bob"); ok {
		t.Fatal("double revoke")
	}
}

func TestTokensAreUnique(t *testing.T) {
	ti, _ := newTestIssuer(time.Minute)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		user := domain.UserID(string(rune('a'+i%26)) + string(rune('0'+i/26)))
		p, err := ti.Issue(user, "general")
		if err != nil {
			t.Fatal(err)
		}
		if seen[p.Token] {
			t.Fatal("duplicate token")
		}
		seen[p.Token] = true
	}
}
