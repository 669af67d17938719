package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quickdrop-io/quickdrop/caching"
	"github.com/quickdrop-io/quickdrop/logging"
	"github.com/quickdrop-io/quickdrop/models"
	"github.com/quickdrop-io/quickdrop/store"
)

type FileService interface {
	GetFiles(ctx context.Context, sessionID string) (*models.FilesResponse, error)
}

type FileServiceImpl struct {
	fileStore  store.FileStore
	cachingSvc caching.CachingService
	cacheTTL   time.Duration

	logger logging.Logger
}

func NewFileServiceImpl(fileStore store.FileStore, cachingSvc caching.CachingService, cacheTTL time.Duration, l logging.Logger) *FileServiceImpl {
	return &FileServiceImpl{
		fileStore:  fileStore,
		cachingSvc: cachingSvc,
		cacheTTL:   cacheTTL,
		logger:     l,
	}
}

// GetFiles returns the session's records newest first. The list is cached
// briefly; the completion bridge invalidates the key on every new record.
func (svc *FileServiceImpl) GetFiles(ctx context.Context, sessionID string) (*models.FilesResponse, error) {
	cacheKey := fmt.Sprintf("session:files:%s", sessionID)

	if cached, err := svc.cachingSvc.Get(ctx, cacheKey); err == nil {
		var files []models.FileRecord
		if err := json.Unmarshal([]byte(cached), &files); err == nil {
			return &models.FilesResponse{Files: files}, nil
		}
		// fall through on a corrupt entry
	} else if !errors.Is(err, caching.ErrCacheMiss) {
		svc.logger.Warn("files cache read failed", "session_id", sessionID, "error", err)
	}

	files, err := svc.fileStore.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if body, err := json.Marshal(files); err == nil {
		if err := svc.cachingSvc.Set(ctx, cacheKey, string(body), svc.cacheTTL); err != nil {
			svc.logger.Warn("files cache write failed", "session_id", sessionID, "error", err)
		}
	}

	return &models.FilesResponse{Files: files}, nil
}
