// Package queue provides the SQS-backed scheduling backend.
//
// Each registration is an SQS message delayed until the alert's fire time.
// SQS caps DelaySeconds at 15 minutes, so a message that arrives before its
// fire time is re-enqueued with the remaining delay. Registrations carry a
// random token; a message whose token no longer matches the live
// registration (cancelled, replaced, or from a previous process) is deleted
// without firing.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"meetingalert/internal/config"
	"meetingalert/internal/engine"
)

// MaxDelay is the largest DelaySeconds SQS accepts.
const MaxDelay = 15 * time.Minute

// receiveErrorBackoff is how long the loop waits after a failed receive.
const receiveErrorBackoff = 500 * time.Millisecond

// SQSClient abstracts the SQS operations used by the scheduler.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// alertMessage is the JSON body of a registration message.
type alertMessage struct {
	AlertID string    `json:"alert_id"`
	Token   string    `json:"token"`
	FireAt  time.Time `json:"fire_at"`
}

type registration struct {
	token  string
	fireAt time.Time
	onFire engine.FireFunc
}

// SQSScheduler implements engine.Scheduler over delayed SQS messages. Run
// must be running for callbacks to fire.
type SQSScheduler struct {
	client   SQSClient
	queueURL string
	waitTime time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	regs map[string]registration
	wg   sync.WaitGroup
}

var _ engine.Scheduler = (*SQSScheduler)(nil)

// NewSQSScheduler creates a scheduler for the queue named in cfg.
func NewSQSScheduler(client SQSClient, cfg config.SchedulerConfig, logger *slog.Logger) *SQSScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSScheduler{
		client:   client,
		queueURL: cfg.SQSQueueURL,
		waitTime: cfg.SQSWaitTime,
		logger:   logger.With("component", "sqs_scheduler"),
		now:      time.Now,
		regs:     make(map[string]registration),
	}
}

// Schedule records the registration locally and enqueues its message. The
// local record is rolled back when the send fails.
func (s *SQSScheduler) Schedule(ctx context.Context, alertID string, fireAt time.Time, onFire engine.FireFunc) error {
	reg := registration{
		token:  uuid.New().String(),
		fireAt: fireAt,
		onFire: onFire,
	}

	s.mu.Lock()
	prev, hadPrev := s.regs[alertID]
	s.regs[alertID] = reg
	s.mu.Unlock()

	msg := alertMessage{AlertID: alertID, Token: reg.token, FireAt: fireAt.UTC()}
	if err := s.send(ctx, msg); err != nil {
		s.mu.Lock()
		if cur, ok := s.regs[alertID]; ok && cur.token == reg.token {
			if hadPrev {
				s.regs[alertID] = prev
			} else {
				delete(s.regs, alertID)
			}
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// Cancel forgets alertID's registration. Its message is discarded when it
// is next received.
func (s *SQSScheduler) Cancel(_ context.Context, alertID string) error {
	s.mu.Lock()
	delete(s.regs, alertID)
	s.mu.Unlock()
	return nil
}

// CancelAll forgets every registration.
func (s *SQSScheduler) CancelAll(_ context.Context) error {
	s.mu.Lock()
	s.regs = make(map[string]registration)
	s.mu.Unlock()
	return nil
}

// Run long-polls the queue until ctx is cancelled, then waits for
// callbacks already started to return.
func (s *SQSScheduler) Run(ctx context.Context) error {
	defer s.wg.Wait()
	s.logger.InfoContext(ctx, "sqs scheduler started", "queue_url", s.queueURL)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.ErrorContext(ctx, "sqs receive failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveErrorBackoff):
			}
		}
	}
}

// poll runs one receive call and handles every message it returns.
func (s *SQSScheduler) poll(ctx context.Context) error {
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     int32(s.waitTime / time.Second),
	})
	if err != nil {
		return fmt.Errorf("queue: failed to receive from %s: %w", s.queueURL, err)
	}
	for _, m := range out.Messages {
		s.handle(ctx, m)
	}
	return nil
}

func (s *SQSScheduler) handle(ctx context.Context, m sqsTypes.Message) {
	var msg alertMessage
	if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &msg); err != nil {
		s.logger.WarnContext(ctx, "dropping malformed alert message",
			"message_id", aws.ToString(m.MessageId),
			"error", err,
		)
		s.delete(ctx, m)
		return
	}

	s.mu.Lock()
	reg, ok := s.regs[msg.AlertID]
	if !ok || reg.token != msg.Token {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "dropping stale alert message", "alert_id", msg.AlertID)
		s.delete(ctx, m)
		return
	}

	if s.now().Before(reg.fireAt) {
		s.mu.Unlock()
		// Not due yet: chain another delayed message. The old one is only
		// deleted once the new one is in the queue.
		if err := s.send(ctx, msg); err != nil {
			s.logger.ErrorContext(ctx, "failed to re-enqueue alert message",
				"alert_id", msg.AlertID,
				"error", err,
			)
			return
		}
		s.delete(ctx, m)
		return
	}

	delete(s.regs, msg.AlertID)
	s.mu.Unlock()

	s.delete(ctx, m)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		reg.onFire(ctx)
	}()
}

func (s *SQSScheduler) send(ctx context.Context, msg alertMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal alert message: %w", err)
	}

	delay := delaySeconds(msg.FireAt.Sub(s.now()))
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(s.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delay,
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"alert_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.AlertID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("queue: failed to send alert message to %s: %w", s.queueURL, err)
	}

	s.logger.DebugContext(ctx, "alert message enqueued",
		"alert_id", msg.AlertID,
		"fire_at", msg.FireAt,
		"delay_seconds", delay,
	)
	return nil
}

func (s *SQSScheduler) delete(ctx context.Context, m sqsTypes.Message) {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "failed to delete alert message",
			"message_id", aws.ToString(m.MessageId),
			"error", err,
		)
	}
}

// delaySeconds rounds d up to whole seconds and clamps it to what SQS
// accepts.
func delaySeconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	if d > MaxDelay {
		d = MaxDelay
	}
	return int32(math.Ceil(d.Seconds()))
}
