package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// MessageStream is the append-only conversation message log.
	MessageStream = "MESSAGES"

	// MessageSubjectPrefix prefixes all message subjects.
	MessageSubjectPrefix = "msg"

	// ConversationBucket stores conversation records keyed page.customer.
	ConversationBucket = "CONVERSATIONS"

	// ConversationIndexBucket maps conversation id to its record key.
	ConversationIndexBucket = "CONVERSATION_IDS"

	// ProcessedEventBucket stores idempotency keys of handled deliveries.
	ProcessedEventBucket = "PROCESSED_EVENTS"

	// processedEventTTL bounds ledger growth. The platform's retry window
	// is hours at most; 72h leaves a wide margin.
	processedEventTTL = 72 * time.Hour
)

// Resources holds the JetStream buckets and stream the gateway depends on.
type Resources struct {
	Conversations   jetstream.KeyValue
	ConversationIDs jetstream.KeyValue
	ProcessedEvents jetstream.KeyValue
}

// EnsureResources creates the KV buckets and message stream if absent.
func EnsureResources(ctx context.Context, c *Client) (*Resources, error) {
	js := c.JetStream()

	if _, err := js.Stream(ctx, MessageStream); err != nil {
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        MessageStream,
			Subjects:    []string{fmt.Sprintf("%s.>", MessageSubjectPrefix)},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      365 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Compression: jetstream.S2Compression,
			DenyDelete:  true,
			DenyPurge:   true,
			Description: "Conversation message log",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create message stream: %w", err)
		}
	}

	conversations, err := ensureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      ConversationBucket,
		Description: "Conversation records with arbitration state",
		History:     5,
	})
	if err != nil {
		return nil, err
	}

	index, err := ensureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      ConversationIndexBucket,
		Description: "Conversation id to record key index",
	})
	if err != nil {
		return nil, err
	}

	processed, err := ensureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      ProcessedEventBucket,
		Description: "Processed webhook delivery keys",
		TTL:         processedEventTTL,
	})
	if err != nil {
		return nil, err
	}

	return &Resources{
		Conversations:   conversations,
		ConversationIDs: index,
		ProcessedEvents: processed,
	}, nil
}

func ensureBucket(ctx context.Context, js jetstream.JetStream, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to look up bucket %s: %w", cfg.Bucket, err)
	}

	kv, err = js.CreateKeyValue(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
	}
	return kv, nil
}

// MessageSubject returns the stream subject for one message.
func MessageSubject(pageID, conversationID, role string) string {
	return fmt.Sprintf("%s.%s.%s.%s", MessageSubjectPrefix, pageID, conversationID, role)
}

// ConversationFilter returns the subject filter for one conversation's messages.
func ConversationFilter(pageID, conversationID string) string {
	return fmt.Sprintf("%s.%s.%s.>", MessageSubjectPrefix, pageID, conversationID)
}
