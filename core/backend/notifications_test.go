// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/testall/core"
	"github.com/relabs-tech/testall/core/logger"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, params)
	return &sqs.SendMessageOutput{MessageId: aws.String("1")}, nil
}

func TestSQSNotifier(t *testing.T) {
	fake := &fakeSQS{}
	notifier := NewSQSNotifierWithClient(fake, "https://sqs.eu-central-1.amazonaws.com/1/testall")
	ctx, _ := logger.ContextWithLogger(context.Background())

	err := notifier.Notify(ctx, "profiles", core.OperationCreate, []byte(`{"id":1,"name":"Ivan"}`))
	require.NoError(t, err)
	require.Len(t, fake.inputs, 1)

	input := fake.inputs[0]
	assert.Equal(t, "https://sqs.eu-central-1.amazonaws.com/1/testall", aws.ToString(input.QueueUrl))
	assert.Equal(t, "profiles", aws.ToString(input.MessageAttributes["resource"].StringValue))
	assert.Equal(t, "create", aws.ToString(input.MessageAttributes["operation"].StringValue))

	var n Notification
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(input.MessageBody)), &n))
	assert.Equal(t, "profiles", n.Resource)
	assert.Equal(t, core.OperationCreate, n.Operation)
	assert.JSONEq(t, `{"id":1,"name":"Ivan"}`, string(n.Payload))

	fake.err = errors.New("unavailable")
	err = notifier.Notify(ctx, "profiles", core.OperationCreate, []byte(`{}`))
	assert.ErrorIs(t, err, fake.err)
}

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) error {
	c.calls++
	return c.err
}

func TestMultiNotifier(t *testing.T) {
	failing := &countingNotifier{err: errors.New("failed")}
	working := &countingNotifier{}
	multi := MultiNotifier{failing, working}

	err := multi.Notify(context.Background(), "account", core.OperationCreate, []byte(`{}`))
	assert.ErrorIs(t, err, failing.err)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, working.calls)

	assert.NoError(t, MultiNotifier{working}.Notify(context.Background(), "account", core.OperationCreate, nil))
}

func TestNewKafkaNotifier_NoBrokers(t *testing.T) {
	assert.Panics(t, func() { NewKafkaNotifier(nil, "testall") })
}

func TestKafkaNotifier_UnreachableBroker(t *testing.T) {
	notifier := newKafkaNotifier([]string{"127.0.0.1:1"}, "testall", 200*time.Millisecond, 8)
	ctx, _ := logger.ContextWithLogger(context.Background())

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, notifier.Notify(ctx, "storage/files", core.OperationCreate, []byte(`{"name":"a.txt"}`)))
	}
	assert.Less(t, time.Since(start), time.Second)

	start = time.Now()
	notifier.Close()
	assert.Less(t, time.Since(start), 5*time.Second)

	err := notifier.Notify(ctx, "storage/files", core.OperationCreate, []byte(`{}`))
	assert.Error(t, err)
	assert.NotPanics(t, func() { notifier.Close() })
}
