// Package users persists account records in the document store.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arbor/api/internal/docstore"
)

const (
	usersCollection  = "users"
	resetsCollection = "password_resets"
)

var ErrNotFound = errors.New("user not found")

type User struct {
	ID                    string    `json:"id" bson:"id"`
	Email                 string    `json:"email" bson:"email"`
	DisplayName           string    `json:"displayName" bson:"displayName"`
	PasswordHash          string    `json:"passwordHash" bson:"passwordHash"`
	Role                  string    `json:"role" bson:"role"`
	IsEmailVerified       bool      `json:"isEmailVerified" bson:"isEmailVerified"`
	VerificationToken     string    `json:"verificationToken,omitempty" bson:"verificationToken,omitempty"`
	VerificationExpiresAt time.Time `json:"verificationExpiresAt" bson:"verificationExpiresAt"`
	CreatedAt             time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt" bson:"updatedAt"`
}

type passwordReset struct {
	Token     string    `json:"token" bson:"token"`
	UserID    string    `json:"userId" bson:"userId"`
	ExpiresAt time.Time `json:"expiresAt" bson:"expiresAt"`
	Used      bool      `json:"used" bson:"used"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

type docStore interface {
	Get(ctx context.Context, collection, id string, out any) (docstore.Revision, error)
	Find(ctx context.Context, collection string, filter docstore.Filter, sort []docstore.SortField, out any) error
	Insert(ctx context.Context, collection, id string, doc any) (string, docstore.Revision, error)
	Update(ctx context.Context, collection, id string, rev docstore.Revision, doc any) (docstore.Revision, error)
	Delete(ctx context.Context, collection, id string, rev docstore.Revision) error
}

// Store reads and writes users and password resets. Updates go through
// the same revision-checked retry loop the tree uses, so concurrent
// profile edits never clobber each other.
type Store struct {
	store docStore
}

func NewStore(store docStore) *Store {
	return &Store{store: store}
}

func (s *Store) GetUserByID(ctx context.Context, id string) (User, error) {
	var user User
	_, err := s.store.Get(ctx, usersCollection, id, &user)
	if errors.Is(err, docstore.ErrNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var found []User
	err := s.store.Find(ctx, usersCollection, docstore.Filter{"email": email}, nil, &found)
	if err != nil {
		return User{}, fmt.Errorf("find user by email: %w", err)
	}
	if len(found) == 0 {
		return User{}, ErrNotFound
	}
	return found[0], nil
}

func (s *Store) CreateUser(ctx context.Context, user User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if _, _, err := s.store.Insert(ctx, usersCollection, user.ID, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return s.update(ctx, userID, func(u *User) {
		u.VerificationToken = token
		u.VerificationExpiresAt = expiresAt
	})
}

func (s *Store) VerifyUserEmail(ctx context.Context, token string) error {
	var found []User
	err := s.store.Find(ctx, usersCollection, docstore.Filter{"verificationToken": token}, nil, &found)
	if err != nil {
		return fmt.Errorf("find verification token: %w", err)
	}
	if len(found) == 0 {
		return ErrNotFound
	}
	user := found[0]
	if !user.VerificationExpiresAt.IsZero() && time.Now().After(user.VerificationExpiresAt) {
		return errors.New("verification token expired")
	}
	return s.update(ctx, user.ID, func(u *User) {
		u.IsEmailVerified = true
		u.VerificationToken = ""
		u.VerificationExpiresAt = time.Time{}
	})
}

func (s *Store) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	return s.update(ctx, userID, func(u *User) {
		u.PasswordHash = passwordHash
	})
}

func (s *Store) UpdateUserProfile(ctx context.Context, userID, displayName string) error {
	return s.update(ctx, userID, func(u *User) {
		u.DisplayName = displayName
	})
}

func (s *Store) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	reset := passwordReset{
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	if _, _, err := s.store.Insert(ctx, resetsCollection, token, reset); err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

// GetPasswordReset returns the user id a live reset token belongs to.
func (s *Store) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var reset passwordReset
	_, err := s.store.Get(ctx, resetsCollection, token, &reset)
	if errors.Is(err, docstore.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get password reset: %w", err)
	}
	if reset.Used || time.Now().After(reset.ExpiresAt) {
		return "", ErrNotFound
	}
	return reset.UserID, nil
}

func (s *Store) MarkPasswordResetUsed(ctx context.Context, token string) error {
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var reset passwordReset
		rev, err := s.store.Get(ctx, resetsCollection, token, &reset)
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get password reset: %w", err)
		}
		reset.Used = true
		_, err = s.store.Update(ctx, resetsCollection, token, rev, reset)
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrConflict) {
			return fmt.Errorf("mark password reset used: %w", err)
		}
	}
	return errors.New("mark password reset used: too many concurrent updates")
}

func (s *Store) update(ctx context.Context, userID string, mutate func(*User)) error {
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var user User
		rev, err := s.store.Get(ctx, usersCollection, userID, &user)
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get user %s: %w", userID, err)
		}
		mutate(&user)
		user.UpdatedAt = time.Now().UTC()
		_, err = s.store.Update(ctx, usersCollection, userID, rev, user)
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrConflict) {
			return fmt.Errorf("update user %s: %w", userID, err)
		}
	}
	return fmt.Errorf("update user %s: too many concurrent updates", userID)
}
