package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	natsclient "github.com/shoptalk-ai/webhook-gateway/internal/nats"
)

// Ledger records processed webhook delivery keys. Insertion is a single
// atomic create against the bucket, so concurrent duplicate deliveries
// cannot both pass.
type Ledger struct {
	kv jetstream.KeyValue
}

// NewLedger creates a ledger over the processed-events bucket.
func NewLedger(res *natsclient.Resources) *Ledger {
	return &Ledger{kv: res.ProcessedEvents}
}

// RecordIfNew attempts to record the key. It returns true when this is the
// first delivery of the event and false when the key was already recorded.
func (l *Ledger) RecordIfNew(ctx context.Context, key string) (bool, error) {
	// Delivery metadata may contain characters a KV key cannot; hash it.
	sum := sha256.Sum256([]byte(key))

	_, err := l.kv.Create(ctx, hex.EncodeToString(sum[:]), nil)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record event key: %w", err)
	}
	return true, nil
}
