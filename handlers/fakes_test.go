package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/quickdrop-io/quickdrop/apperrors"
	"github.com/quickdrop-io/quickdrop/logging"
	"github.com/quickdrop-io/quickdrop/models"
	"github.com/quickdrop-io/quickdrop/queues"
	"github.com/quickdrop-io/quickdrop/services"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.Default())
}

type fakeSessionService struct {
	mu    sync.Mutex
	valid map[string]bool
}

func newFakeSessionService(validIDs ...string) *fakeSessionService {
	valid := make(map[string]bool)
	for _, id := range validIDs {
		valid[id] = true
	}
	return &fakeSessionService{valid: valid}
}

func (f *fakeSessionService) CreateSession(ctx context.Context) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UTC()
	session := models.Session{
		SessionId: "session-new",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	f.valid[session.SessionId] = true
	return &session, nil
}

func (f *fakeSessionService) ValidateSession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.valid[id] {
		return apperrors.ErrSessionNotFound
	}
	return nil
}

type fakeFileService struct {
	files map[string][]models.FileRecord
}

func (f *fakeFileService) GetFiles(ctx context.Context, sessionID string) (*models.FilesResponse, error) {
	return &models.FilesResponse{Files: f.files[sessionID]}, nil
}

type fakeUploadService struct{}

func (f *fakeUploadService) IssueUploadUrl(ctx context.Context, req services.UploadUrlRequest) (*services.UploadUrlResponse, error) {
	if req.FileName == "" {
		return nil, apperrors.NewValidationError("fileName", "required")
	}
	if req.SessionId == "ghost" {
		return nil, apperrors.ErrSessionNotFound
	}
	return &services.UploadUrlResponse{
		UploadUrl:   "https://bucket.example/signed",
		StoragePath: "quickdrop-files/" + req.SessionId + "/" + req.FileName,
	}, nil
}

func (f *fakeUploadService) IssueDownloadUrl(ctx context.Context, storagePath string) (*services.DownloadUrlResponse, error) {
	if storagePath == "" {
		return nil, apperrors.NewValidationError("storagePath", "required")
	}
	if storagePath == "quickdrop-files/s1/missing.pdf" {
		return nil, apperrors.ErrObjectNotFound
	}
	return &services.DownloadUrlResponse{DownloadUrl: "https://bucket.example/signed-get"}, nil
}

// fakeBroker is an in-memory stand-in for the topic + filtered queues: each
// open subscription only sees events published for its session.
type fakeBroker struct {
	mu      sync.Mutex
	subs    map[string][]*fakeSubscription
	openErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subs: make(map[string][]*fakeSubscription)}
}

func (b *fakeBroker) Open(ctx context.Context, sessionID string) (queues.Subscription, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}

	sub := &fakeSubscription{
		sessionID: sessionID,
		msgs:      make(chan queues.Message, 16),
		closed:    make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sessionID] = append(b.subs[sessionID], sub)
	b.mu.Unlock()

	return sub, nil
}

func (b *fakeBroker) Publish(sessionID string, record models.FileRecord) {
	body, _ := json.Marshal(record)

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[sessionID] {
		select {
		case <-sub.closed:
			// subscription gone, delivery is dropped
		default:
			sub.msgs <- queues.Message{Body: body}
		}
	}
}

func (b *fakeBroker) openCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, sub := range b.subs[sessionID] {
		select {
		case <-sub.closed:
		default:
			n++
		}
	}
	return n
}

type fakeSubscription struct {
	sessionID string
	msgs      chan queues.Message
	acks      int
	ackMu     sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *fakeSubscription) Messages() <-chan queues.Message {
	return s.msgs
}

func (s *fakeSubscription) Ack(ctx context.Context, msg queues.Message) error {
	s.ackMu.Lock()
	defer s.ackMu.Unlock()
	s.acks++
	return nil
}

func (s *fakeSubscription) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	return nil
}

func (s *fakeSubscription) ackCount() int {
	s.ackMu.Lock()
	defer s.ackMu.Unlock()
	return s.acks
}
