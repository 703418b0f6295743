package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"arbor/api/internal/docstore"
)

func newTestStore() *Store {
	return NewStore(docstore.NewMemory())
}

func seedUser(t *testing.T, store *Store, id, email string) {
	t.Helper()
	err := store.CreateUser(context.Background(), User{
		ID:           id,
		Email:        email,
		DisplayName:  "Avery",
		PasswordHash: "not-a-real-hash",
		Role:         "member",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
}

func TestCreateAndGetUser(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedUser(t, store, "usr_1", "avery@arbor.dev")

	byID, err := store.GetUserByID(ctx, "usr_1")
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID.Email != "avery@arbor.dev" || byID.CreatedAt.IsZero() || byID.UpdatedAt.IsZero() {
		t.Errorf("unexpected user: %+v", byID)
	}

	byEmail, err := store.GetUserByEmail(ctx, "avery@arbor.dev")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if byEmail.ID != "usr_1" {
		t.Errorf("expected usr_1, got %s", byEmail.ID)
	}

	if _, err := store.GetUserByEmail(ctx, "nobody@arbor.dev"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetUserByID(ctx, "usr_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateUserDuplicateID(t *testing.T) {
	store := newTestStore()
	seedUser(t, store, "usr_1", "avery@arbor.dev")

	err := store.CreateUser(context.Background(), User{ID: "usr_1", Email: "other@arbor.dev"})
	if err == nil {
		t.Fatal("expected error for duplicate id")
	}
}

func TestVerifyUserEmail(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedUser(t, store, "usr_1", "avery@arbor.dev")

	if err := store.UpdateUserVerificationToken(ctx, "usr_1", "tok_live", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("set token: %v", err)
	}
	if err := store.VerifyUserEmail(ctx, "tok_live"); err != nil {
		t.Fatalf("verify: %v", err)
	}

	user, _ := store.GetUserByID(ctx, "usr_1")
	if !user.IsEmailVerified {
		t.Error("expected user to be verified")
	}
	if user.VerificationToken != "" || !user.VerificationExpiresAt.IsZero() {
		t.Error("expected token fields to be cleared")
	}

	// The consumed token no longer resolves.
	if err := store.VerifyUserEmail(ctx, "tok_live"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for consumed token, got %v", err)
	}
}

func TestVerifyUserEmailExpiredToken(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedUser(t, store, "usr_1", "avery@arbor.dev")

	if err := store.UpdateUserVerificationToken(ctx, "usr_1", "tok_old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("set token: %v", err)
	}
	if err := store.VerifyUserEmail(ctx, "tok_old"); err == nil {
		t.Fatal("expected error for expired token")
	}

	user, _ := store.GetUserByID(ctx, "usr_1")
	if user.IsEmailVerified {
		t.Error("expired token must not verify the account")
	}
}

func TestUpdateUserProfileAndPassword(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedUser(t, store, "usr_1", "avery@arbor.dev")

	if err := store.UpdateUserProfile(ctx, "usr_1", "Avery Q"); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if err := store.UpdateUserPassword(ctx, "usr_1", "new-hash"); err != nil {
		t.Fatalf("update password: %v", err)
	}

	user, _ := store.GetUserByID(ctx, "usr_1")
	if user.DisplayName != "Avery Q" {
		t.Errorf("expected display name update, got %s", user.DisplayName)
	}
	if user.PasswordHash != "new-hash" {
		t.Errorf("expected password update, got %s", user.PasswordHash)
	}

	if err := store.UpdateUserProfile(ctx, "usr_missing", "X"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPasswordResetLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedUser(t, store, "usr_1", "avery@arbor.dev")

	if err := store.CreatePasswordReset(ctx, "usr_1", "rst_live", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("create reset: %v", err)
	}

	userID, err := store.GetPasswordReset(ctx, "rst_live")
	if err != nil {
		t.Fatalf("get reset: %v", err)
	}
	if userID != "usr_1" {
		t.Errorf("expected usr_1, got %s", userID)
	}

	if err := store.MarkPasswordResetUsed(ctx, "rst_live"); err != nil {
		t.Fatalf("mark used: %v", err)
	}
	if _, err := store.GetPasswordReset(ctx, "rst_live"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for used token, got %v", err)
	}
}

func TestPasswordResetExpiry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedUser(t, store, "usr_1", "avery@arbor.dev")

	if err := store.CreatePasswordReset(ctx, "usr_1", "rst_old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("create reset: %v", err)
	}
	if _, err := store.GetPasswordReset(ctx, "rst_old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired token, got %v", err)
	}
	if _, err := store.GetPasswordReset(ctx, "rst_unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown token, got %v", err)
	}
}
