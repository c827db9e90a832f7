package service

import (
	"context"
	"errors"
	"testing"

	"presenceboard/internal/models"
	"presenceboard/internal/store"
)

func TestAuthenticate_FirstContactCreatesUser(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	user, outcome, err := svc.Authenticate(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Errorf("expected OutcomeCreated, got %v", outcome)
	}
	if user.Name != "alice" || user.ID == "" {
		t.Errorf("unexpected created user: %+v", user)
	}
	if user.Status != models.StatusUnknown {
		t.Errorf("new user must start as unknown, got %q", user.Status)
	}

	if _, err := fs.FindUserByName(ctx, "alice"); err != nil {
		t.Errorf("created user not persisted: %v", err)
	}
}

func TestAuthenticate_CreatedUserVisibleBeforeCacheRefresh(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	if _, _, err := svc.Authenticate(ctx, "alice", "s3cret"); err != nil {
		t.Fatalf("first Authenticate failed: %v", err)
	}

	// The second call must resolve from the snapshot, within the same
	// TTL window, without creating a second record
	_, outcome, err := svc.Authenticate(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("second Authenticate failed: %v", err)
	}
	if outcome != OutcomeExisting {
		t.Errorf("expected OutcomeExisting on second contact, got %v", outcome)
	}
}

func TestAuthenticate_ExistingUserCorrectSecret(t *testing.T) {
	fs := newFakeStore()
	seeded := fs.seedUser(t, "alice", "s3cret", models.StatusAlive)
	svc := newTestService(t, fs)

	user, outcome, err := svc.Authenticate(context.Background(), "alice", "s3cret")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if outcome != OutcomeExisting {
		t.Errorf("expected OutcomeExisting, got %v", outcome)
	}
	if user.ID != seeded.ID {
		t.Errorf("resolved wrong user: got %q want %q", user.ID, seeded.ID)
	}
}

func TestAuthenticate_ExistingUserWrongSecret(t *testing.T) {
	fs := newFakeStore()
	fs.seedUser(t, "alice", "s3cret", models.StatusAlive)
	svc := newTestService(t, fs)

	_, _, err := svc.Authenticate(context.Background(), "alice", "wrong")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestAuthenticate_MissingCredentials(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	if _, _, err := svc.Authenticate(ctx, "", "s3cret"); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected validation error for empty username, got %v", err)
	}
	if _, _, err := svc.Authenticate(ctx, "alice", ""); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected validation error for empty secret, got %v", err)
	}
}

func TestAuthenticate_StoreUnavailable(t *testing.T) {
	fs := newFakeStore()
	fs.setFailure(store.ErrUnavailable)
	svc := newTestService(t, fs)

	_, _, err := svc.Authenticate(context.Background(), "alice", "s3cret")
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestAuthenticate_CreateRaceResolvesToWinner(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	// A concurrent writer persists the same name just before our
	// create lands; the store reports the duplicate and we resolve
	// against the winner's record
	var winner models.UserRecord
	fs.beforeCreate = func() {
		fs.beforeCreate = nil
		winner = fs.seedUser(t, "alice", "s3cret", models.StatusUnknown)
	}

	user, outcome, err := svc.Authenticate(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if outcome != OutcomeExisting {
		t.Errorf("race loser must report OutcomeExisting, got %v", outcome)
	}
	if user.ID != winner.ID {
		t.Errorf("resolved wrong user: got %q want %q", user.ID, winner.ID)
	}

	users, err := fs.FindAllUsers(ctx)
	if err != nil {
		t.Fatalf("FindAllUsers failed: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("race must collapse to one record, got %d", len(users))
	}
}

func TestAuthenticate_CreateRaceWrongSecretRejected(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)

	// The winner registered with a different secret; the loser must
	// not be let in just because the name now exists
	fs.beforeCreate = func() {
		fs.beforeCreate = nil
		fs.seedUser(t, "alice", "winner-secret", models.StatusUnknown)
	}

	_, _, err := svc.Authenticate(context.Background(), "alice", "loser-secret")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected for race loser with wrong secret, got %v", err)
	}
}
