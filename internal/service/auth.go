package service

import (
	"context"
	"errors"
	"fmt"

	"presenceboard/internal/auth"
	"presenceboard/internal/models"
	"presenceboard/internal/store"
)

// ErrRejected is returned for any authentication failure. It never
// reveals whether the username existed or the secret was wrong.
var ErrRejected = errors.New("authentication rejected")

// AuthOutcome describes how an Authenticate call resolved
type AuthOutcome int

const (
	OutcomeExisting AuthOutcome = iota
	OutcomeCreated
)

// Authenticate resolves a (username, secret) pair against the cached
// user snapshot. An unseen username is registered on first contact;
// a known username must present the matching secret.
func (s *PresenceService) Authenticate(ctx context.Context, username, secret string) (models.UserRecord, AuthOutcome, error) {
	if username == "" || secret == "" {
		return models.UserRecord{}, OutcomeExisting, fmt.Errorf("%w: username and secret are required", store.ErrValidation)
	}

	users, err := s.cachedUsers(ctx)
	if err != nil {
		return models.UserRecord{}, OutcomeExisting, err
	}

	for _, user := range users {
		if user.Name == username {
			if s.verifySecret(user, secret) {
				return user, OutcomeExisting, nil
			}
			return models.UserRecord{}, OutcomeExisting, ErrRejected
		}
	}

	return s.createUser(ctx, username, secret)
}

// verifySecret checks a secret against a user's stored hash, consulting
// the verdict cache before paying for a bcrypt run
func (s *PresenceService) verifySecret(user models.UserRecord, secret string) bool {
	if ok, found := s.verdicts.Get(user.Name, secret); found {
		return ok
	}
	ok := auth.VerifySecret(secret, user.SecretHash)
	s.verdicts.Set(user.Name, secret, ok)
	return ok
}

// createUser registers a first-contact user. Two concurrent calls for
// the same unseen name may race; the store's uniqueness constraint
// picks the winner and the loser re-resolves against the winner's
// record instead of failing.
func (s *PresenceService) createUser(ctx context.Context, username, secret string) (models.UserRecord, AuthOutcome, error) {
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return models.UserRecord{}, OutcomeExisting, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	created, err := s.store.CreateUser(ctx, models.UserRecord{
		Name:       username,
		SecretHash: hash,
		Status:     models.StatusUnknown,
	})
	if err == nil {
		s.users.Append(created)
		s.verdicts.Invalidate(username)
		s.logger.Info("user created", "user", username)
		return created, OutcomeCreated, nil
	}

	if !errors.Is(err, store.ErrDuplicateName) {
		return models.UserRecord{}, OutcomeExisting, err
	}

	// Lost the create race: somebody persisted this name first. Fetch
	// the winner and verify against its hash.
	existing, err := s.store.FindUserByName(ctx, username)
	if err != nil {
		return models.UserRecord{}, OutcomeExisting, err
	}
	s.users.Append(existing)
	s.verdicts.Invalidate(username)

	if s.verifySecret(existing, secret) {
		return existing, OutcomeExisting, nil
	}
	return models.UserRecord{}, OutcomeExisting, ErrRejected
}
