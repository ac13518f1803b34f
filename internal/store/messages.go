package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	natsclient "github.com/shoptalk-ai/webhook-gateway/internal/nats"
	"github.com/shoptalk-ai/webhook-gateway/internal/model"
)

// MessageLog appends messages to the JetStream message stream and reads them
// back for the audit listing endpoint.
type MessageLog struct {
	js jetstream.JetStream
}

// NewMessageLog creates a message log over the given JetStream context.
func NewMessageLog(js jetstream.JetStream) *MessageLog {
	return &MessageLog{js: js}
}

// Append publishes a message to the log and returns its stream sequence.
func (l *MessageLog) Append(ctx context.Context, msg *model.Message) (uint64, error) {
	subject := natsclient.MessageSubject(msg.PageID, msg.ConversationID, string(msg.Role))

	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}

	ack, err := l.js.Publish(ctx, subject, data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish message: %w", err)
	}
	return ack.Sequence, nil
}

// List retrieves messages for a conversation starting after a sequence.
func (l *MessageLog) List(ctx context.Context, pageID, conversationID string, afterSequence uint64, limit int) ([]model.Message, uint64, bool, error) {
	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: natsclient.ConversationFilter(pageID, conversationID),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}

	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := l.js.CreateConsumer(ctx, natsclient.MessageStream, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch messages: %w", err)
	}

	var messages []model.Message
	var lastSequence uint64

	for msg := range batch.Messages() {
		var message model.Message
		if err := json.Unmarshal(msg.Data(), &message); err != nil {
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			message.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}
		messages = append(messages, message)
	}

	if err := batch.Error(); err != nil && err != context.DeadlineExceeded {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	return messages, lastSequence, len(messages) == limit, nil
}
