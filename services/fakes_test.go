package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/quickdrop-io/quickdrop/apperrors"
	"github.com/quickdrop-io/quickdrop/caching"
	"github.com/quickdrop-io/quickdrop/logging"
	"github.com/quickdrop-io/quickdrop/models"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.Default())
}

type fakeSessionStore struct {
	sessions map[string]models.Session
	getErr   error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]models.Session)}
}

func (f *fakeSessionStore) CreateSession(ctx context.Context, s models.Session) error {
	f.sessions[s.SessionId] = s
	return nil
}

func (f *fakeSessionStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	s, ok := f.sessions[id]
	if !ok || s.Expired(time.Now().UTC()) {
		return nil, apperrors.ErrSessionNotFound
	}
	return &s, nil
}

func (f *fakeSessionStore) IsReady(ctx context.Context) error { return nil }
func (f *fakeSessionStore) Name() string                      { return "fake[sessions]" }

type fakeFileStore struct {
	records  []models.FileRecord
	listErr  error
	listHits int
}

func (f *fakeFileStore) Create(ctx context.Context, r models.FileRecord) (string, error) {
	f.records = append(f.records, r)
	return "assigned-id", nil
}

func (f *fakeFileStore) ListBySession(ctx context.Context, sessionID string) ([]models.FileRecord, error) {
	f.listHits++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.FileRecord
	for _, r := range f.records {
		if r.SessionId == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeFileStore) IsReady(ctx context.Context) error { return nil }
func (f *fakeFileStore) Name() string                      { return "fake[files]" }

type fakeObjectStorage struct {
	uploadKey   string
	uploadType  string
	existing    map[string]bool
	presignErr  error
	downloadKey string
}

func (f *fakeObjectStorage) GenerateUploadUrl(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	f.uploadKey = key
	f.uploadType = contentType
	return "https://bucket.example/" + key + "?signed", nil
}

func (f *fakeObjectStorage) GenerateDownloadUrl(ctx context.Context, key string, ttl time.Duration) (string, error) {
	f.downloadKey = key
	return "https://bucket.example/" + key + "?signed-get", nil
}

func (f *fakeObjectStorage) ObjectExists(ctx context.Context, key string) (bool, error) {
	return f.existing[key], nil
}

func (f *fakeObjectStorage) ContentType(ctx context.Context, key string) (string, error) {
	return "application/octet-stream", nil
}

type recordingCache struct {
	values map[string]string
	sets   int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{values: make(map[string]string)}
}

func (c *recordingCache) Get(ctx context.Context, key string) (string, error) {
	v, ok := c.values[key]
	if !ok {
		return "", caching.ErrCacheMiss
	}
	return v, nil
}

func (c *recordingCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.values[key] = value
	c.sets++
	return nil
}

func (c *recordingCache) Delete(ctx context.Context, key string) error {
	delete(c.values, key)
	return nil
}
