package queues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/quickdrop-io/quickdrop/apperrors"
	"github.com/quickdrop-io/quickdrop/caching"
	"github.com/quickdrop-io/quickdrop/logging"
	"github.com/quickdrop-io/quickdrop/models"
	"github.com/quickdrop-io/quickdrop/store"
)

// UploadsNotifyReceiver is the upload completion bridge. It consumes bucket
// notification events for finalized objects and turns each one into a file
// record plus one fan-out publish. Delivery is at least once; failures leave
// the message un-acked so the queue redelivers.
type UploadsNotifyReceiver interface {
	Start()
	Shutdown(ctx context.Context) error
}

type UploadsNotifyReceiverImpl struct {
	client       *sqs.Client
	fileStore    store.FileStore
	sessionStore store.SessionStore
	storage      store.ObjectStorage
	publisher    FanoutPublisher
	cachingSvc   caching.CachingService

	queueUrl string
	bucket   string
	prefix   string

	logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewUploadsNotifyReceiverImpl(
	parent context.Context,
	client *sqs.Client,
	fileStore store.FileStore,
	sessionStore store.SessionStore,
	storage store.ObjectStorage,
	publisher FanoutPublisher,
	cachingSvc caching.CachingService,
	queueUrl string,
	bucket string,
	prefix string,
	l logging.Logger,
) *UploadsNotifyReceiverImpl {
	ctx, cancel := context.WithCancel(parent)

	return &UploadsNotifyReceiverImpl{
		client:       client,
		fileStore:    fileStore,
		sessionStore: sessionStore,
		storage:      storage,
		publisher:    publisher,
		cachingSvc:   cachingSvc,
		queueUrl:     queueUrl,
		bucket:       bucket,
		prefix:       prefix,
		logger:       l,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (r *UploadsNotifyReceiverImpl) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.pollLoop()
	}()
}

func (r *UploadsNotifyReceiverImpl) pollLoop() error {
	for {
		select {
		case <-r.ctx.Done():
			return r.ctx.Err()
		default:
		}

		out, err := r.client.ReceiveMessage(r.ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(r.queueUrl),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     20, // long poll
			VisibilityTimeout:   30,
		})
		if err != nil {
			if r.ctx.Err() != nil {
				return r.ctx.Err()
			}
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range out.Messages {
			r.handleMessage(r.ctx, msg)
		}
	}
}

func (rc *UploadsNotifyReceiverImpl) deleteMessage(ctx context.Context, msg types.Message) {
	_, err := rc.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(rc.queueUrl),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		rc.logger.Warn("failed to delete message", "error", err)
	}
}

// s3EventNotification is the subset of the bucket notification payload the
// bridge reads.
type s3EventNotification struct {
	Records []s3EventRecord `json:"Records"`
}

type s3EventRecord struct {
	EventTime time.Time `json:"eventTime"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size uint64 `json:"size"`
		} `json:"object"`
	} `json:"s3"`
}

func (rc *UploadsNotifyReceiverImpl) handleMessage(ctx context.Context, msg types.Message) {
	if msg.Body == nil {
		rc.deleteMessage(ctx, msg)
		return
	}

	var notification s3EventNotification
	if err := json.Unmarshal([]byte(*msg.Body), &notification); err != nil {
		// poison message
		rc.logger.Warn("dropping unparseable notification", "error", err)
		rc.deleteMessage(ctx, msg)
		return
	}

	for _, record := range notification.Records {
		evt, err := objectEventFromRecord(record)
		if err != nil {
			rc.logger.Warn("dropping malformed record", "error", err)
			continue
		}

		if err := rc.processEvent(ctx, evt); err != nil {
			// leave un-acked, the queue redelivers
			rc.logger.Error("failed to process object event", "key", evt.Key, "error", err)
			bridgeEventsTotal.WithLabelValues("failed").Inc()
			return
		}
	}

	rc.deleteMessage(ctx, msg)
}

// objectEventFromRecord decodes a notification record. Object keys arrive
// URL-encoded with '+' for spaces.
func objectEventFromRecord(record s3EventRecord) (models.StorageObjectEvent, error) {
	key, err := url.QueryUnescape(record.S3.Object.Key)
	if err != nil {
		return models.StorageObjectEvent{}, fmt.Errorf("decode object key %q: %w", record.S3.Object.Key, err)
	}

	return models.StorageObjectEvent{
		Bucket:      record.S3.Bucket.Name,
		Key:         key,
		Size:        record.S3.Object.Size,
		TimeCreated: record.EventTime,
	}, nil
}

// processEvent runs the bridge contract for one finalized object. Events
// that are not session uploads are logged and dropped; store or publish
// failures propagate so the trigger redelivers.
func (rc *UploadsNotifyReceiverImpl) processEvent(ctx context.Context, evt models.StorageObjectEvent) error {
	if evt.Bucket != rc.bucket {
		rc.logger.Info("ignoring object from foreign bucket", "bucket", evt.Bucket, "key", evt.Key)
		bridgeEventsTotal.WithLabelValues("rejected").Inc()
		return nil
	}

	segments := strings.Split(evt.Key, "/")
	if segments[0] != rc.prefix {
		rc.logger.Info("ignoring object outside upload prefix", "key", evt.Key)
		bridgeEventsTotal.WithLabelValues("rejected").Inc()
		return nil
	}
	if len(segments) < 3 {
		rc.logger.Info("ignoring object with short path", "key", evt.Key)
		bridgeEventsTotal.WithLabelValues("rejected").Inc()
		return nil
	}

	sessionID := segments[1]
	// everything after the session segment is the name, separators intact
	name := strings.Join(segments[2:], "/")

	if _, err := rc.sessionStore.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, apperrors.ErrSessionNotFound) {
			rc.logger.Warn("object finalized for unknown or expired session", "session_id", sessionID, "key", evt.Key)
			bridgeEventsTotal.WithLabelValues("rejected").Inc()
			return nil
		}
		return err
	}

	contentType := evt.ContentType
	if contentType == "" {
		ct, err := rc.storage.ContentType(ctx, evt.Key)
		if err != nil {
			return fmt.Errorf("read content type: %w", err)
		}
		contentType = ct
	}

	record := models.FileRecord{
		SessionId:   sessionID,
		Name:        name,
		Size:        evt.Size,
		Type:        contentType,
		StoragePath: evt.Key,
		CreatedAt:   evt.TimeCreated,
	}

	fileID, err := rc.fileStore.Create(ctx, record)
	if err != nil {
		return fmt.Errorf("create file record: %w", err)
	}
	record.FileId = fileID

	if err := rc.publisher.Publish(ctx, models.FileEvent{FileRecord: record}); err != nil {
		return fmt.Errorf("publish fanout event: %w", err)
	}

	// invalidate cache
	filesKey := fmt.Sprintf("session:files:%s", sessionID)
	if err := rc.cachingSvc.Delete(ctx, filesKey); err != nil {
		rc.logger.Warn("could not delete cached files", "session_id", sessionID, "error", err)
	}

	rc.logger.Info("upload completed", "session_id", sessionID, "file_id", fileID, "name", name, "size", evt.Size)
	bridgeEventsTotal.WithLabelValues("processed").Inc()
	return nil
}

func (r *UploadsNotifyReceiverImpl) Shutdown(ctx context.Context) error {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
