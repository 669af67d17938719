package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quickdrop-io/quickdrop/apperrors"
	"github.com/quickdrop-io/quickdrop/models"
)

func TestCreateSession_SetsExpiry(t *testing.T) {
	store := newFakeSessionStore()
	svc := NewSessionServiceImpl(store, time.Hour)

	session, err := svc.CreateSession(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, session.SessionId)
	require.True(t, session.ExpiresAt.After(session.CreatedAt))
	require.WithinDuration(t, session.CreatedAt.Add(time.Hour), session.ExpiresAt, time.Second)
	require.Equal(t, session.ExpiresAt.Unix(), session.Ttl)

	stored, ok := store.sessions[session.SessionId]
	require.True(t, ok)
	require.Equal(t, session.SessionId, stored.SessionId)
}

func TestCreateSession_IdsDoNotCollide(t *testing.T) {
	store := newFakeSessionStore()
	svc := NewSessionServiceImpl(store, time.Hour)

	a, err := svc.CreateSession(context.Background())
	require.NoError(t, err)
	b, err := svc.CreateSession(context.Background())
	require.NoError(t, err)

	require.NotEqual(t, a.SessionId, b.SessionId)
}

func TestValidateSession(t *testing.T) {
	store := newFakeSessionStore()
	svc := NewSessionServiceImpl(store, time.Hour)

	session, err := svc.CreateSession(context.Background())
	require.NoError(t, err)

	require.NoError(t, svc.ValidateSession(context.Background(), session.SessionId))

	err = svc.ValidateSession(context.Background(), "no-such-session")
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestValidateSession_ExpiredEqualsAbsent(t *testing.T) {
	store := newFakeSessionStore()
	now := time.Now().UTC()
	store.sessions["expired"] = models.Session{
		SessionId: "expired",
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}

	svc := NewSessionServiceImpl(store, time.Hour)

	err := svc.ValidateSession(context.Background(), "expired")
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}
