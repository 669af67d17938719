package services

import (
	"context"
	"fmt"
	"time"

	"github.com/quickdrop-io/quickdrop/apperrors"
	"github.com/quickdrop-io/quickdrop/logging"
	"github.com/quickdrop-io/quickdrop/store"
)

type UploadUrlRequest struct {
	SessionId string `json:"sessionId"`
	FileName  string `json:"fileName"`
	FileType  string `json:"fileType"`
	FileSize  uint64 `json:"fileSize"`
}

type UploadUrlResponse struct {
	UploadUrl   string `json:"uploadUrl"`
	StoragePath string `json:"storagePath"`
}

type DownloadUrlResponse struct {
	DownloadUrl string `json:"downloadUrl"`
}

// UploadService issues the signed URLs clients use to talk to the bucket
// directly. Size and field validation happens here, before any URL exists;
// the completion bridge does not re-validate.
type UploadService interface {
	IssueUploadUrl(ctx context.Context, req UploadUrlRequest) (*UploadUrlResponse, error)
	IssueDownloadUrl(ctx context.Context, storagePath string) (*DownloadUrlResponse, error)
}

type UploadServiceImpl struct {
	sessionService SessionService
	storage        store.ObjectStorage

	prefix         string
	maxFileSize    uint64
	uploadURLTTL   time.Duration
	downloadURLTTL time.Duration

	logger logging.Logger
}

func NewUploadServiceImpl(
	sessionService SessionService,
	storage store.ObjectStorage,
	prefix string,
	maxFileSize uint64,
	uploadURLTTL time.Duration,
	downloadURLTTL time.Duration,
	l logging.Logger,
) *UploadServiceImpl {
	return &UploadServiceImpl{
		sessionService: sessionService,
		storage:        storage,
		prefix:         prefix,
		maxFileSize:    maxFileSize,
		uploadURLTTL:   uploadURLTTL,
		downloadURLTTL: downloadURLTTL,
		logger:         l,
	}
}

func (svc *UploadServiceImpl) IssueUploadUrl(ctx context.Context, req UploadUrlRequest) (*UploadUrlResponse, error) {
	if req.SessionId == "" {
		return nil, apperrors.NewValidationError("sessionId", "required")
	}
	if req.FileName == "" {
		return nil, apperrors.NewValidationError("fileName", "required")
	}
	if req.FileType == "" {
		return nil, apperrors.NewValidationError("fileType", "required")
	}
	if req.FileSize == 0 {
		return nil, apperrors.NewValidationError("fileSize", "required")
	}
	if req.FileSize > svc.maxFileSize {
		return nil, apperrors.NewValidationError("fileSize", fmt.Sprintf("exceeds %d byte limit", svc.maxFileSize))
	}

	if err := svc.sessionService.ValidateSession(ctx, req.SessionId); err != nil {
		return nil, err
	}

	storagePath := fmt.Sprintf("%s/%s/%s", svc.prefix, req.SessionId, req.FileName)

	uploadUrl, err := svc.storage.GenerateUploadUrl(ctx, storagePath, req.FileType, svc.uploadURLTTL)
	if err != nil {
		return nil, err
	}

	svc.logger.Info("issued upload url", "session_id", req.SessionId, "storage_path", storagePath, "size", req.FileSize)

	return &UploadUrlResponse{
		UploadUrl:   uploadUrl,
		StoragePath: storagePath,
	}, nil
}

func (svc *UploadServiceImpl) IssueDownloadUrl(ctx context.Context, storagePath string) (*DownloadUrlResponse, error) {
	if storagePath == "" {
		return nil, apperrors.NewValidationError("storagePath", "required")
	}

	exists, err := svc.storage.ObjectExists(ctx, storagePath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperrors.ErrObjectNotFound
	}

	downloadUrl, err := svc.storage.GenerateDownloadUrl(ctx, storagePath, svc.downloadURLTTL)
	if err != nil {
		return nil, err
	}

	return &DownloadUrlResponse{DownloadUrl: downloadUrl}, nil
}
