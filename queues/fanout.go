package queues

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/quickdrop-io/quickdrop/logging"
	"github.com/quickdrop-io/quickdrop/models"
)

// FanoutPublisher publishes one message per completed upload to the shared
// topic. The session id travels as a message attribute so subscriptions can
// filter server-side without deserializing the body.
type FanoutPublisher interface {
	Publish(ctx context.Context, evt models.FileEvent) error
}

type SnsFanoutPublisherImpl struct {
	client   *sns.Client
	topicArn string

	logger logging.Logger
}

func NewSnsFanoutPublisherImpl(client *sns.Client, topicArn string, l logging.Logger) *SnsFanoutPublisherImpl {
	return &SnsFanoutPublisherImpl{
		client:   client,
		topicArn: topicArn,
		logger:   l,
	}
}

func (p *SnsFanoutPublisherImpl) Publish(ctx context.Context, evt models.FileEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal fanout event: %w", err)
	}

	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicArn),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			models.SessionAttribute: {
				DataType:    aws.String("String"),
				StringValue: aws.String(evt.SessionId),
			},
		},
	})
	if err != nil {
		p.logger.Error("fanout publish failed", "session_id", evt.SessionId, "file_id", evt.FileId, "error", err)
		return err
	}

	return nil
}

// Message is one delivered fan-out event. The receipt handle stays private
// to the subscription that delivered it.
type Message struct {
	Body          []byte
	receiptHandle string
}

// Subscription is an ephemeral, session-filtered consumer of the fan-out
// topic. Exactly one per open client stream; never shared or handed off.
type Subscription interface {
	Messages() <-chan Message
	Ack(ctx context.Context, msg Message) error
	Close(ctx context.Context) error
}

// SubscriptionOpener creates subscriptions. The relay owns the returned
// handle for the full lifetime of its connection.
type SubscriptionOpener interface {
	Open(ctx context.Context, sessionID string) (Subscription, error)
}

type SqsSubscriptionOpenerImpl struct {
	sqsClient *sqs.Client
	snsClient *sns.Client

	topicArn    string
	queuePrefix string
	retention   time.Duration

	logger logging.Logger
}

func NewSqsSubscriptionOpenerImpl(
	sqsClient *sqs.Client,
	snsClient *sns.Client,
	topicArn string,
	queuePrefix string,
	retention time.Duration,
	l logging.Logger,
) *SqsSubscriptionOpenerImpl {
	return &SqsSubscriptionOpenerImpl{
		sqsClient:   sqsClient,
		snsClient:   snsClient,
		topicArn:    topicArn,
		queuePrefix: queuePrefix,
		retention:   retention,
		logger:      l,
	}
}

// Open provisions a uniquely named queue, points a filtered topic
// subscription at it and starts the receive loop. Any provisioning failure
// tears down what was already created before returning.
func (o *SqsSubscriptionOpenerImpl) Open(ctx context.Context, sessionID string) (Subscription, error) {
	name := fmt.Sprintf("%s-%s", o.queuePrefix, uuid.NewString())

	createOut, err := o.sqsClient.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(name),
		Attributes: map[string]string{
			"MessageRetentionPeriod": strconv.Itoa(int(o.retention.Seconds())),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription queue: %w", err)
	}
	queueUrl := *createOut.QueueUrl

	queueArn, err := o.queueArn(ctx, queueUrl)
	if err != nil {
		o.dropQueue(ctx, queueUrl)
		return nil, err
	}

	_, err = o.sqsClient.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl: aws.String(queueUrl),
		Attributes: map[string]string{
			"Policy": topicSendPolicy(queueArn, o.topicArn),
		},
	})
	if err != nil {
		o.dropQueue(ctx, queueUrl)
		return nil, fmt.Errorf("set queue policy: %w", err)
	}

	filter, err := json.Marshal(map[string][]string{
		models.SessionAttribute: {sessionID},
	})
	if err != nil {
		o.dropQueue(ctx, queueUrl)
		return nil, err
	}

	subOut, err := o.snsClient.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn: aws.String(o.topicArn),
		Protocol: aws.String("sqs"),
		Endpoint: aws.String(queueArn),
		Attributes: map[string]string{
			"FilterPolicy":       string(filter),
			"RawMessageDelivery": "true",
		},
		ReturnSubscriptionArn: true,
	})
	if err != nil {
		o.dropQueue(ctx, queueUrl)
		return nil, fmt.Errorf("subscribe queue to topic: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &EphemeralSubscription{
		sqsClient:       o.sqsClient,
		snsClient:       o.snsClient,
		queueUrl:        queueUrl,
		subscriptionArn: aws.ToString(subOut.SubscriptionArn),
		sessionFilter:   sessionID,
		createdAt:       time.Now().UTC(),
		msgs:            make(chan Message, 16),
		ctx:             subCtx,
		cancel:          cancel,
		logger:          o.logger.With("queue", name, "session_id", sessionID),
	}

	sub.wg.Add(1)
	go sub.receiveLoop()

	return sub, nil
}

func (o *SqsSubscriptionOpenerImpl) queueArn(ctx context.Context, queueUrl string) (string, error) {
	out, err := o.sqsClient.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueUrl),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", fmt.Errorf("get queue arn: %w", err)
	}
	arn := out.Attributes[string(sqstypes.QueueAttributeNameQueueArn)]
	if arn == "" {
		return "", fmt.Errorf("queue %s has no arn attribute", queueUrl)
	}
	return arn, nil
}

func (o *SqsSubscriptionOpenerImpl) dropQueue(ctx context.Context, queueUrl string) {
	if _, err := o.sqsClient.DeleteQueue(ctx, &sqs.DeleteQueueInput{
		QueueUrl: aws.String(queueUrl),
	}); err != nil {
		o.logger.Error("failed to delete queue after aborted open", "queue_url", queueUrl, "error", err)
	}
}

func topicSendPolicy(queueArn, topicArn string) string {
	policy := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{{
			"Effect":    "Allow",
			"Principal": map[string]string{"Service": "sns.amazonaws.com"},
			"Action":    "sqs:SendMessage",
			"Resource":  queueArn,
			"Condition": map[string]any{
				"ArnEquals": map[string]string{"aws:SourceArn": topicArn},
			},
		}},
	}
	b, _ := json.Marshal(policy)
	return string(b)
}

// EphemeralSubscription pumps deliveries from its private queue into a
// bounded channel. The channel is closed when the receive loop exits.
type EphemeralSubscription struct {
	sqsClient *sqs.Client
	snsClient *sns.Client

	queueUrl        string
	subscriptionArn string
	sessionFilter   string
	createdAt       time.Time

	msgs   chan Message
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	logger logging.Logger
}

func (s *EphemeralSubscription) Messages() <-chan Message {
	return s.msgs
}

func (s *EphemeralSubscription) receiveLoop() {
	defer s.wg.Done()
	defer close(s.msgs)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		out, err := s.sqsClient.ReceiveMessage(s.ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.queueUrl),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20, // long poll
			VisibilityTimeout:   30,
		})
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("receive failed, backing off", "error", err)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, m := range out.Messages {
			msg := Message{
				Body:          []byte(aws.ToString(m.Body)),
				receiptHandle: aws.ToString(m.ReceiptHandle),
			}
			select {
			case s.msgs <- msg:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// Ack deletes the delivery from the queue. Called only after the relay has
// written the message to its stream.
func (s *EphemeralSubscription) Ack(ctx context.Context, msg Message) error {
	_, err := s.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueUrl),
		ReceiptHandle: aws.String(msg.receiptHandle),
	})
	return err
}

// Close stops the receive loop and deletes the broker-side resources.
// Deletion failures are logged, not retried: the reaper and the queue's own
// retention bound the leak.
func (s *EphemeralSubscription) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()

		if _, err := s.snsClient.Unsubscribe(ctx, &sns.UnsubscribeInput{
			SubscriptionArn: aws.String(s.subscriptionArn),
		}); err != nil {
			s.logger.Error("failed to unsubscribe", "subscription_arn", s.subscriptionArn, "error", err)
		}

		if _, err := s.sqsClient.DeleteQueue(ctx, &sqs.DeleteQueueInput{
			QueueUrl: aws.String(s.queueUrl),
		}); err != nil {
			s.logger.Error("failed to delete subscription queue", "queue_url", s.queueUrl, "error", err)
		}
	})
	return nil
}

// SubscriptionReaper deletes relay queues that outlived the subscription TTL
// and topic subscriptions whose queue is already gone. Backstop against
// relays that crashed before Close.
type SubscriptionReaper struct {
	sqsClient *sqs.Client
	snsClient *sns.Client

	topicArn    string
	queuePrefix string
	ttl         time.Duration
	interval    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger logging.Logger
}

func NewSubscriptionReaper(
	parent context.Context,
	sqsClient *sqs.Client,
	snsClient *sns.Client,
	topicArn string,
	queuePrefix string,
	ttl time.Duration,
	interval time.Duration,
	l logging.Logger,
) *SubscriptionReaper {
	ctx, cancel := context.WithCancel(parent)
	return &SubscriptionReaper{
		sqsClient:   sqsClient,
		snsClient:   snsClient,
		topicArn:    topicArn,
		queuePrefix: queuePrefix,
		ttl:         ttl,
		interval:    interval,
		ctx:         ctx,
		cancel:      cancel,
		logger:      l,
	}
}

func (r *SubscriptionReaper) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.reapQueues()
				r.reapSubscriptions()
			}
		}
	}()
}

func (r *SubscriptionReaper) reapQueues() {
	var nextToken *string
	for {
		out, err := r.sqsClient.ListQueues(r.ctx, &sqs.ListQueuesInput{
			QueueNamePrefix: aws.String(r.queuePrefix + "-"),
			NextToken:       nextToken,
		})
		if err != nil {
			r.logger.Warn("reaper: list queues failed", "error", err)
			return
		}

		for _, queueUrl := range out.QueueUrls {
			r.reapQueue(queueUrl)
		}

		if out.NextToken == nil {
			return
		}
		nextToken = out.NextToken
	}
}

func (r *SubscriptionReaper) reapQueue(queueUrl string) {
	attrs, err := r.sqsClient.GetQueueAttributes(r.ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueUrl),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameCreatedTimestamp},
	})
	if err != nil {
		return // queue likely closed underneath us
	}

	epoch, err := strconv.ParseInt(attrs.Attributes[string(sqstypes.QueueAttributeNameCreatedTimestamp)], 10, 64)
	if err != nil {
		return
	}

	if time.Since(time.Unix(epoch, 0)) < r.ttl {
		return
	}

	if _, err := r.sqsClient.DeleteQueue(r.ctx, &sqs.DeleteQueueInput{
		QueueUrl: aws.String(queueUrl),
	}); err != nil {
		r.logger.Warn("reaper: delete queue failed", "queue_url", queueUrl, "error", err)
		return
	}
	r.logger.Info("reaped expired subscription queue", "queue_url", queueUrl)
}

// reapSubscriptions removes topic subscriptions whose endpoint queue no
// longer exists (relay deleted the queue but the unsubscribe call failed).
func (r *SubscriptionReaper) reapSubscriptions() {
	var nextToken *string
	for {
		out, err := r.snsClient.ListSubscriptionsByTopic(r.ctx, &sns.ListSubscriptionsByTopicInput{
			TopicArn:  aws.String(r.topicArn),
			NextToken: nextToken,
		})
		if err != nil {
			r.logger.Warn("reaper: list subscriptions failed", "error", err)
			return
		}

		for _, sub := range out.Subscriptions {
			endpoint := aws.ToString(sub.Endpoint)
			name := endpoint[strings.LastIndex(endpoint, ":")+1:]
			if !strings.HasPrefix(name, r.queuePrefix+"-") {
				continue
			}

			_, err := r.sqsClient.GetQueueUrl(r.ctx, &sqs.GetQueueUrlInput{
				QueueName: aws.String(name),
			})
			if err == nil {
				continue // queue still alive
			}

			if _, err := r.snsClient.Unsubscribe(r.ctx, &sns.UnsubscribeInput{
				SubscriptionArn: sub.SubscriptionArn,
			}); err != nil {
				r.logger.Warn("reaper: unsubscribe failed", "subscription_arn", aws.ToString(sub.SubscriptionArn), "error", err)
			}
		}

		if out.NextToken == nil {
			return
		}
		nextToken = out.NextToken
	}
}

func (r *SubscriptionReaper) Shutdown(ctx context.Context) error {
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
