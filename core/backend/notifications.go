// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/goccy/go-json"
	"github.com/relabs-tech/testall/core"
	"github.com/relabs-tech/testall/core/logger"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Notification is the message sent for every notification
type Notification struct {
	Resource  string          `json:"resource"`
	Operation core.Operation  `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// header and attribute names of notification messages
const (
	notificationOperationKey = "operation"
	notificationResourceKey  = "resource"
	notificationLoggerKey    = "logger-context"
)

// KafkaNotifier publishes notifications to a kafka topic. The resource is the message key,
// so notifications of one resource keep their order.
//
// Messages are queued and written by a single background writer, Notify does not wait
// for the broker. When the queue is full, Notify fails and the notification is dropped.
type KafkaNotifier struct {
	writer  *kafka.Writer
	timeout time.Duration
	queue   chan kafkaMessage
	done    chan struct{}

	mutex  sync.Mutex
	closed bool
}

type kafkaMessage struct {
	message kafka.Message
	rlog    *logrus.Entry
}

// KafkaQueueSize is the number of notifications a KafkaNotifier queues before it drops them
const KafkaQueueSize = 256

// KafkaWriteTimeout bounds a single background write, retries included
const KafkaWriteTimeout = 10 * time.Second

var _ core.Notifier = (*KafkaNotifier)(nil)

// NewKafkaNotifier returns a notifier writing to topic on brokers
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return newKafkaNotifier(brokers, topic, KafkaWriteTimeout, KafkaQueueSize)
}

func newKafkaNotifier(brokers []string, topic string, timeout time.Duration, queueSize int) *KafkaNotifier {
	if len(brokers) == 0 {
		panic("kafka brokers missing")
	}
	k := &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		timeout: timeout,
		queue:   make(chan kafkaMessage, queueSize),
		done:    make(chan struct{}),
	}
	go k.run()
	return k
}

func (k *KafkaNotifier) run() {
	defer close(k.done)
	for m := range k.queue {
		ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
		err := k.writer.WriteMessages(ctx, m.message)
		cancel()
		if err != nil {
			m.rlog.WithError(err).Errorf("Error 5103: cannot write %s notification to kafka topic %s", m.message.Key, k.writer.Topic)
		}
	}
}

// Notify implements core.Notifier. It queues the notification and returns without waiting for the broker.
func (k *KafkaNotifier) Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) error {
	value, err := json.Marshal(Notification{
		Resource:  resource,
		Operation: operation,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	m := kafkaMessage{
		message: kafka.Message{
			Key:   []byte(resource),
			Value: value,
			Headers: []kafka.Header{
				{Key: notificationOperationKey, Value: []byte(operation)},
				{Key: notificationLoggerKey, Value: logger.SerializeLoggerContext(ctx)},
			},
		},
		rlog: logger.FromContext(ctx),
	}

	k.mutex.Lock()
	defer k.mutex.Unlock()
	if k.closed {
		return fmt.Errorf("kafka notifier for topic %s is closed", k.writer.Topic)
	}
	select {
	case k.queue <- m:
		return nil
	default:
		return fmt.Errorf("kafka queue for topic %s is full, dropping %s notification", k.writer.Topic, resource)
	}
}

// Close writes the queued notifications and closes the writer
func (k *KafkaNotifier) Close() error {
	k.mutex.Lock()
	if !k.closed {
		k.closed = true
		close(k.queue)
	}
	k.mutex.Unlock()
	<-k.done
	return k.writer.Close()
}

// SQSAPI is the part of the SQS client used by SQSNotifier
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier sends notifications to an SQS queue
type SQSNotifier struct {
	client   SQSAPI
	queueURL string
}

var _ core.Notifier = (*SQSNotifier)(nil)

// NewSQSNotifier returns a notifier for the queue, with the AWS default configuration
func NewSQSNotifier(ctx context.Context, queueURL string) (*SQSNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot load aws configuration: %w", err)
	}
	return NewSQSNotifierWithClient(sqs.NewFromConfig(cfg), queueURL), nil
}

// NewSQSNotifierWithClient returns a notifier sending with client
func NewSQSNotifierWithClient(client SQSAPI, queueURL string) *SQSNotifier {
	return &SQSNotifier{client: client, queueURL: queueURL}
}

// Notify implements core.Notifier
func (s *SQSNotifier) Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) error {
	body, err := json.Marshal(Notification{
		Resource:  resource,
		Operation: operation,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			notificationResourceKey:  {DataType: aws.String("String"), StringValue: aws.String(resource)},
			notificationOperationKey: {DataType: aws.String("String"), StringValue: aws.String(string(operation))},
			notificationLoggerKey:    {DataType: aws.String("String"), StringValue: aws.String(string(logger.SerializeLoggerContext(ctx)))},
		},
	})
	if err != nil {
		return fmt.Errorf("cannot send to sqs queue %s: %w", s.queueURL, err)
	}
	return nil
}

// MultiNotifier forwards every notification to all of its notifiers
type MultiNotifier []core.Notifier

// Notify implements core.Notifier. All notifiers are called, their errors are joined.
func (m MultiNotifier) Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, resource, operation, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
