package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/piJoe/zwietracht-vc/internal/app"
	"github.com/piJoe/zwietracht-vc/internal/domain"
)

// cheap keeps the tests fast; the format is the same as DefaultScrypt.
var cheap = Scrypt{N: 16, R: 1, P: 1, KeyLen: 32}

func openTestUsers(t *testing.T) *Users {
	t.Helper()
	u, err := OpenUsers(filepath.Join(t.TempDir(), "users.db"), 2)
	if err != nil {
		t.Fatalf("OpenUsers: %v", err)
	}
	t.Cleanup(func() {
		if err := u.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return u
}

func TestUsersInsertAndLookup(t *testing.T) {
	ctx := context.Background()
	u := openTestUsers(t)

	if _, found, err := u.LookupByName(ctx, "alice"); err != nil || found {
		t.Fatalf("lookup before insert = %v, %v", found, err)
	}
	ok, err := u.Insert(ctx, "id-1", "alice", "h1")
	if err != nil || !ok {
		t.Fatalf("insert = %v, %v", ok, err)
	}
	ok, err = u.Insert(ctx, "id-2", "alice", "h2")
	if err != nil || ok {
		t.Fatalf("duplicate name insert = %v, %v", ok, err)
	}

	rec, found, err := u.LookupByName(ctx, "alice")
	if err != nil || !found {
		t.Fatalf("lookup = %v, %v", found, err)
	}
	want := domain.UserRecord{ID: "id-1", Name: "alice", PasswordHash: "h1"}
	if rec != want {
		t.Fatalf("record = %+v, want %+v", rec, want)
	}
}

func TestUsersPersistAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users.db")
	u, err := OpenUsers(path, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := u.Insert(ctx, "id-1", "bob", "h"); err != nil {
		t.Fatal(err)
	}
	if err := u.Close(); err != nil {
		t.Fatal(err)
	}

	u, err = OpenUsers(path, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer u.Close()
	if _, found, err := u.LookupByName(ctx, "bob"); err != nil || !found {
		t.Fatalf("lookup after reopen = %v, %v", found, err)
	}
}

func TestScryptHashFormat(t *testing.T) {
	h, err := cheap.Hash("secret")
	if err != nil {
		t.Fatal(err)
	}
	salt, key, ok := strings.Cut(h, ":")
	if !ok {
		t.Fatalf("hash %q has no separator", h)
	}
	if n, _ := enc.DecodeString(salt); len(n) != saltLen {
		t.Fatalf("salt length = %d", len(n))
	}
	if k, _ := enc.DecodeString(key); len(k) != cheap.KeyLen {
		t.Fatalf("key length = %d", len(k))
	}

	other, _ := cheap.Hash("secret")
	if other == h {
		t.Fatal("two hashes of the same password share a salt")
	}
}

func TestScryptVerify(t *testing.T) {
	h, err := cheap.Hash("secret")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		password string
		hash     string
		want     bool
		wantErr  bool
	}{
		{"secret", h, true, false},
		{"Secret", h, false, false},
		{"secret", "no-separator", false, true},
		{"secret", "!!:!!", false, true},
	}
	for _, tt := range tests {
		got, err := cheap.Verify(tt.password, tt.hash)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("Verify(%q, %q) = %v, %v", tt.password, tt.hash, got, err)
		}
	}
}

func TestLoginRegistersThenVerifies(t *testing.T) {
	ctx := context.Background()
	auth := &app.Authenticator{Users: openTestUsers(t), Hasher: cheap}

	first, err := auth.Login(ctx, "carol", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	again, err := auth.Login(ctx, "carol", "pw")
	if err != nil || again != first {
		t.Fatalf("second login = %+v, %v; want %+v", again, err, first)
	}
	if _, err := auth.Login(ctx, "carol", "wrong"); err == nil {
		t.Fatal("wrong password accepted")
	}
}
