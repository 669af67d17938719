package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/quickdrop-io/quickdrop/models"
	"github.com/quickdrop-io/quickdrop/store"
)

// SessionService is the session registry. Every other component validates a
// session here before accepting work scoped to it.
type SessionService interface {
	CreateSession(ctx context.Context) (*models.Session, error)
	ValidateSession(ctx context.Context, sessionID string) error
}

type SessionServiceImpl struct {
	sessionStore store.SessionStore
	ttl          time.Duration
}

func NewSessionServiceImpl(sessionStore store.SessionStore, ttl time.Duration) *SessionServiceImpl {
	return &SessionServiceImpl{
		sessionStore: sessionStore,
		ttl:          ttl,
	}
}

func (svc *SessionServiceImpl) CreateSession(ctx context.Context) (*models.Session, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(svc.ttl)

	session := models.Session{
		SessionId: uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Ttl:       expiresAt.Unix(),
	}

	if err := svc.sessionStore.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	return &session, nil
}

// ValidateSession returns ErrSessionNotFound for absent and expired sessions
// alike; the store already folds the two cases together.
func (svc *SessionServiceImpl) ValidateSession(ctx context.Context, sessionID string) error {
	_, err := svc.sessionStore.GetSession(ctx, sessionID)
	return err
}
