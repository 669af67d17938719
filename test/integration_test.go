package test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamotypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/quickdrop-io/quickdrop/caching"
	"github.com/quickdrop-io/quickdrop/logging"
	"github.com/quickdrop-io/quickdrop/models"
	"github.com/quickdrop-io/quickdrop/queues"
	"github.com/quickdrop-io/quickdrop/services"
	"github.com/quickdrop-io/quickdrop/store"
)

type TestEnv struct {
	Dynamo *dynamodb.Client
	Sqs    *sqs.Client
	Sns    *sns.Client
	S3     *s3.Client

	SessionsTable string
	FilesTable    string
	Bucket        string
	TopicArn      string
	QueueURL      string
}

func setupTestEnv(t *testing.T) *TestEnv {
	endpoint := os.Getenv("AWS_ENDPOINT")
	if endpoint == "" {
		t.Skip("set AWS_ENDPOINT to a localstack endpoint to run integration tests")
	}

	ctx := context.Background()
	run := uuid.NewString()[:8]

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion("us-east-1"))
	require.NoError(t, err)

	db := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	sqsClient := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	snsClient := sns.NewFromConfig(cfg, func(o *sns.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	env := &TestEnv{
		Dynamo:        db,
		Sqs:           sqsClient,
		Sns:           snsClient,
		S3:            s3Client,
		SessionsTable: "sessions-" + run,
		FilesTable:    "files-" + run,
		Bucket:        "quickdrop-test-" + run,
	}

	_, err = db.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(env.SessionsTable),
		AttributeDefinitions: []dynamotypes.AttributeDefinition{
			{AttributeName: aws.String("session_id"), AttributeType: dynamotypes.ScalarAttributeTypeS},
		},
		KeySchema: []dynamotypes.KeySchemaElement{
			{AttributeName: aws.String("session_id"), KeyType: dynamotypes.KeyTypeHash},
		},
		BillingMode: dynamotypes.BillingModePayPerRequest,
	})
	require.NoError(t, err)

	_, err = db.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(env.FilesTable),
		AttributeDefinitions: []dynamotypes.AttributeDefinition{
			{AttributeName: aws.String("session_id"), AttributeType: dynamotypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("file_id"), AttributeType: dynamotypes.ScalarAttributeTypeS},
		},
		KeySchema: []dynamotypes.KeySchemaElement{
			{AttributeName: aws.String("session_id"), KeyType: dynamotypes.KeyTypeHash},
			{AttributeName: aws.String("file_id"), KeyType: dynamotypes.KeyTypeRange},
		},
		BillingMode: dynamotypes.BillingModePayPerRequest,
	})
	require.NoError(t, err)

	_, err = s3Client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(env.Bucket),
	})
	require.NoError(t, err)

	topic, err := snsClient.CreateTopic(ctx, &sns.CreateTopicInput{
		Name: aws.String("quickdrop-fanout-" + run),
	})
	require.NoError(t, err)
	env.TopicArn = *topic.TopicArn

	q, err := sqsClient.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String("quickdrop-object-events-" + run),
	})
	require.NoError(t, err)
	env.QueueURL = *q.QueueUrl

	return env
}

func TestObjectFinalize_RecordAndFanout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	env := setupTestEnv(t)
	logger := logging.NewSlogLogger(slog.Default())

	sessionStore := store.NewSessionStoreImpl(env.Dynamo, env.SessionsTable)
	fileStore := store.NewDynamoDbFileStoreImpl(env.Dynamo, env.FilesTable)
	objectStorage := store.NewS3ObjectStorageImpl(env.S3, env.Bucket, logger)

	sessSvc := services.NewSessionServiceImpl(sessionStore, time.Hour)
	uploadSvc := services.NewUploadServiceImpl(
		sessSvc, objectStorage, "quickdrop-files", 100*1024*1024, 15*time.Minute, 15*time.Minute, logger,
	)

	session, err := sessSvc.CreateSession(ctx)
	require.NoError(t, err)

	issued, err := uploadSvc.IssueUploadUrl(ctx, services.UploadUrlRequest{
		SessionId: session.SessionId,
		FileName:  "report.pdf",
		FileType:  "application/pdf",
		FileSize:  50 * 1024 * 1024,
	})
	require.NoError(t, err)
	require.Equal(t, session.SessionId, strings.Split(issued.StoragePath, "/")[1])

	// the client would PUT through the signed URL; write directly instead
	_, err = env.S3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(env.Bucket),
		Key:         aws.String(issued.StoragePath),
		Body:        strings.NewReader("pdf bytes"),
		ContentType: aws.String("application/pdf"),
	})
	require.NoError(t, err)

	opener := queues.NewSqsSubscriptionOpenerImpl(
		env.Sqs, env.Sns, env.TopicArn, "quickdrop-relay-test", 10*time.Minute, logger,
	)
	sub, err := opener.Open(ctx, session.SessionId)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close(context.Background()) })

	publisher := queues.NewSnsFanoutPublisherImpl(env.Sns, env.TopicArn, logger)
	bridge := queues.NewUploadsNotifyReceiverImpl(
		ctx, env.Sqs, fileStore, sessionStore, objectStorage, publisher,
		caching.NewNullCachingService(), env.QueueURL, env.Bucket, "quickdrop-files", logger,
	)
	bridge.Start()
	t.Cleanup(func() { _ = bridge.Shutdown(context.Background()) })

	notification := fmt.Sprintf(`{"Records":[{"eventTime":%q,"s3":{"bucket":{"name":%q},"object":{"key":%q,"size":9}}}]}`,
		time.Now().UTC().Format(time.RFC3339), env.Bucket, issued.StoragePath)

	_, err = env.Sqs.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(env.QueueURL),
		MessageBody: aws.String(notification),
	})
	require.NoError(t, err)

	var fileID string
	require.Eventually(t, func() bool {
		records, err := fileStore.ListBySession(ctx, session.SessionId)
		if err != nil || len(records) != 1 {
			return false
		}
		fileID = records[0].FileId
		return records[0].Name == "report.pdf" && records[0].StoragePath == issued.StoragePath
	}, 15*time.Second, 200*time.Millisecond)

	select {
	case msg := <-sub.Messages():
		var evt models.FileEvent
		require.NoError(t, json.Unmarshal(msg.Body, &evt))
		require.Equal(t, fileID, evt.FileId)
		require.Equal(t, session.SessionId, evt.SessionId)
		require.NoError(t, sub.Ack(ctx, msg))
	case <-time.After(15 * time.Second):
		t.Fatal("fanout event never reached the subscription")
	}

	// the download path sees the object
	download, err := uploadSvc.IssueDownloadUrl(ctx, issued.StoragePath)
	require.NoError(t, err)
	require.NotEmpty(t, download.DownloadUrl)
}

func TestFanout_SessionIsolation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	env := setupTestEnv(t)
	logger := logging.NewSlogLogger(slog.Default())

	opener := queues.NewSqsSubscriptionOpenerImpl(
		env.Sqs, env.Sns, env.TopicArn, "quickdrop-relay-test", 10*time.Minute, logger,
	)

	subA, err := opener.Open(ctx, "session-a")
	require.NoError(t, err)
	t.Cleanup(func() { _ = subA.Close(context.Background()) })

	subB, err := opener.Open(ctx, "session-b")
	require.NoError(t, err)
	t.Cleanup(func() { _ = subB.Close(context.Background()) })

	publisher := queues.NewSnsFanoutPublisherImpl(env.Sns, env.TopicArn, logger)
	require.NoError(t, publisher.Publish(ctx, models.FileEvent{FileRecord: models.FileRecord{
		FileId:    "f-a",
		SessionId: "session-a",
		Name:      "a.txt",
		CreatedAt: time.Now().UTC(),
	}}))

	select {
	case msg := <-subA.Messages():
		var evt models.FileEvent
		require.NoError(t, json.Unmarshal(msg.Body, &evt))
		require.Equal(t, "session-a", evt.SessionId)
	case <-time.After(15 * time.Second):
		t.Fatal("subscriber A never received its event")
	}

	select {
	case msg := <-subB.Messages():
		t.Fatalf("subscriber B received foreign event: %s", msg.Body)
	case <-time.After(2 * time.Second):
	}
}
