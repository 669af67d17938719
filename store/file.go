package store

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/quickdrop-io/quickdrop/health"
	"github.com/quickdrop-io/quickdrop/models"
	"github.com/quickdrop-io/quickdrop/retries"
)

type FileStore interface {
	// Create appends the record and returns the store-assigned file id.
	Create(ctx context.Context, record models.FileRecord) (string, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.FileRecord, error)

	health.ReadinessCheck
}

type DynamoDbFileStoreImpl struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoDbFileStoreImpl(client *dynamodb.Client, tableName string) *DynamoDbFileStoreImpl {
	return &DynamoDbFileStoreImpl{
		client:    client,
		tableName: tableName,
	}
}

func (s *DynamoDbFileStoreImpl) IsReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	return err
}

func (s *DynamoDbFileStoreImpl) Name() string {
	return "FileStore[file-records]"
}

// Create is an append, not an upsert: a redelivered completion event for the
// same object produces a second record with a fresh id. The event sink
// dedups on the consumer side.
func (s *DynamoDbFileStoreImpl) Create(ctx context.Context, record models.FileRecord) (string, error) {
	record.FileId = uuid.NewString()

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return "", err
	}

	err = retries.Retry(
		ctx,
		retries.DefaultAttempts,
		retries.DefaultBaseDelay,
		func() error {
			_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
				TableName:           aws.String(s.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(file_id)"),
			})
			return err
		},
		retries.IsRetriableDbError,
	)
	if err != nil {
		return "", err
	}

	return record.FileId, nil
}

func (s *DynamoDbFileStoreImpl) ListBySession(ctx context.Context, sessionID string) ([]models.FileRecord, error) {
	var records []models.FileRecord

	err := retries.Retry(
		ctx,
		retries.DefaultAttempts,
		retries.DefaultBaseDelay,
		func() error {
			out, err := s.client.Query(ctx, &dynamodb.QueryInput{
				TableName:              aws.String(s.tableName),
				KeyConditionExpression: aws.String("session_id = :s"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":s": &types.AttributeValueMemberS{Value: sessionID},
				},
			})
			if err != nil {
				return err
			}
			return attributevalue.UnmarshalListOfMaps(out.Items, &records)
		},
		retries.IsRetriableDbError,
	)
	if err != nil {
		return nil, err
	}

	// sort key is file_id, so newest-first ordering happens here
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	return records, nil
}
