package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"taskhub/realtime"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// EventQueue mirrors task events to an Azure Storage queue as JSON envelopes.
type EventQueue struct {
	queue queueClient
}

// NewEventQueue creates an EventQueue from the given connection string.
func NewEventQueue(connStr, queueName string) (*EventQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &EventQueue{queue: q}, nil
}

func encodeEnvelope(ev realtime.Event) (string, error) {
	data, err := sonic.Marshal(realtime.NewEnvelope(ev))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Publish enqueues one message for ev.
func (q *EventQueue) Publish(ctx context.Context, ev realtime.Event) error {
	msg, err := encodeEnvelope(ev)
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, msg, nil)
	return err
}
