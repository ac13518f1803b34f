package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedPayload marks a body that could not be decoded into events.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// EventKind tags the variant of a decoded messaging event.
type EventKind string

const (
	// KindMessage is a text and/or attachment message.
	KindMessage EventKind = "message"
	// KindPostback is a structured button action.
	KindPostback EventKind = "postback"
)

// Event is one decoded messaging event with its delivery metadata.
type Event struct {
	Kind EventKind

	EntryID     string
	SenderID    string
	RecipientID string
	Timestamp   int64

	// Message fields (KindMessage)
	MessageID string
	Text      string
	ImageURL  string

	// Postback fields (KindPostback)
	PostbackPayload string
}

// IdempotencyKey derives the ledger key for this event from delivery
// metadata. The platform resends the same mid/timestamp on retry, so the
// tuple is stable across duplicate deliveries.
func (e *Event) IdempotencyKey() string {
	id := e.MessageID
	if id == "" {
		id = e.PostbackPayload
	}
	return e.EntryID + "." + strconv.FormatInt(e.Timestamp, 10) + "." + id
}

// envelope mirrors the platform's delivery schema. Unknown fields are
// ignored; absent required fields fail the decode.
type envelope struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []messagingEvent `json:"messaging"`
}

type messagingEvent struct {
	Sender    *party    `json:"sender"`
	Recipient *party    `json:"recipient"`
	Timestamp int64     `json:"timestamp"`
	Message   *message  `json:"message"`
	Postback  *postback `json:"postback"`
}

type party struct {
	ID string `json:"id"`
}

type message struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments"`
}

type attachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url"`
	} `json:"payload"`
}

type postback struct {
	Payload string `json:"payload"`
}

// ParsePayload decodes a raw delivery body into typed events. Events missing
// sender, recipient, or any recognizable content are skipped rather than
// failing the whole batch; a body that is not a page envelope fails outright.
func ParsePayload(body []byte) ([]Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Object != "page" {
		return nil, fmt.Errorf("%w: unexpected object %q", ErrMalformedPayload, env.Object)
	}

	var events []Event
	for _, ent := range env.Entry {
		for _, m := range ent.Messaging {
			ev, ok := decodeEvent(ent.ID, m)
			if !ok {
				continue
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

func decodeEvent(entryID string, m messagingEvent) (Event, bool) {
	if m.Sender == nil || m.Recipient == nil || m.Sender.ID == "" || m.Recipient.ID == "" {
		return Event{}, false
	}

	ev := Event{
		EntryID:     entryID,
		SenderID:    m.Sender.ID,
		RecipientID: m.Recipient.ID,
		Timestamp:   m.Timestamp,
	}

	switch {
	case m.Message != nil:
		ev.Kind = KindMessage
		ev.MessageID = m.Message.MID
		ev.Text = m.Message.Text
		for _, att := range m.Message.Attachments {
			if att.Type == "image" && att.Payload.URL != "" {
				ev.ImageURL = att.Payload.URL
				break
			}
		}
		if ev.Text == "" && ev.ImageURL == "" {
			return Event{}, false
		}
	case m.Postback != nil:
		if m.Postback.Payload == "" {
			return Event{}, false
		}
		ev.Kind = KindPostback
		ev.PostbackPayload = m.Postback.Payload
	default:
		// Delivery receipts, read receipts and other event types are not
		// processed by this gateway.
		return Event{}, false
	}

	return ev, true
}
