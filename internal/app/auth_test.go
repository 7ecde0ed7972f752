package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/piJoe/zwietracht-vc/internal/core/mocks"
	"github.com/piJoe/zwietracht-vc/internal/domain"
	"go.uber.org/mock/gomock"
)

// plainHasher stores "h:" + password so tests stay fast.
type plainHasher struct{}

func (plainHasher) Hash(pw string) (string, error) { return "h:" + pw, nil }

func (plainHasher) Verify(pw, hash string) (bool, error) {
	if !strings.HasPrefix(hash, "h:") {
		return false, errors.New("malformed hash")
	}
	return hash == "h:"+pw, nil
}

func TestLoginRegistersUnknownUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockUserStore(ctrl)
	a := &Authenticator{Users: store, Hasher: plainHasher{}}
	ctx := context.Background()

	store.EXPECT().LookupByName(ctx, "alice").Return(domain.UserRecord{}, false, nil)
	store.EXPECT().Insert(ctx, gomock.Any(), "alice", "h:secret").Return(true, nil)

	u, err := a.Login(ctx, "alice", "secret")
	if err != nil {
		t.Fatal(err)
	}
	if u.Username != "alice" || u.ID == "" {
		t.Fatalf("user = %+v", u)
	}
}

func TestLoginExistingUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockUserStore(ctrl)
	a := &Authenticator{Users: store, Hasher: plainHasher{}}
	ctx := context.Background()
	rec := domain.UserRecord{ID: "u-1", Name: "alice", PasswordHash: "h:secret"}

	store.EXPECT().LookupByName(ctx, "alice").Return(rec, true, nil).Times(2)

	u, err := a.Login(ctx, "alice", "secret")
	if err != nil || u.ID != "u-1" {
		t.Fatalf("Login = %+v, %v", u, err)
	}
	if _, err := a.Login(ctx, "alice", "wrong"); !errors.Is(err, domain.ErrAuthenticationFailure) {
		t.Fatalf("wrong password err = %v", err)
	}
}

func TestLoginLostRegistrationRace(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockUserStore(ctrl)
	a := &Authenticator{Users: store, Hasher: plainHasher{}}
	ctx := context.Background()
	rec := domain.UserRecord{ID: "u-1", Name: "alice", PasswordHash: "h:theirs"}

	gomock.InOrder(
		store.EXPECT().LookupByName(ctx, "alice").Return(domain.UserRecord{}, false, nil),
		store.EXPECT().Insert(ctx, gomock.Any(), "alice", "h:mine").Return(false, nil),
		store.EXPECT().LookupByName(ctx, "alice").Return(rec, true, nil),
	)

	if _, err := a.Login(ctx, "alice", "mine"); !errors.Is(err, domain.ErrAuthenticationFailure) {
		t.Fatalf("err = %v", err)
	}
}

func TestLoginRejectsBadInput(t *testing.T) {
	ctrl := gomock.NewController(t)
	a := &Authenticator{Users: mocks.NewMockUserStore(ctrl), Hasher: plainHasher{}}
	ctx := context.Background()

	for name, tc := range map[string][2]string{
		"empty name":     {"", "pw"},
		"long name":      {strings.Repeat("x", domain.MaxUsernameLen+1), "pw"},
		"empty password": {"alice", ""},
	} {
		if _, err := a.Login(ctx, tc[0], tc[1]); !errors.Is(err, domain.ErrAuthenticationFailure) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestLoginStoreError(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockUserStore(ctrl)
	a := &Authenticator{Users: store, Hasher: plainHasher{}}
	boom := errors.New("disk I/O error")

	store.EXPECT().LookupByName(gomock.Any(), "alice").Return(domain.UserRecord{}, false, boom)
	_, err := a.Login(context.Background(), "alice", "pw")
	if !errors.Is(err, boom) || errors.Is(err, domain.ErrAuthenticationFailure) {
		t.Fatalf("err = %v", err)
	}
}
