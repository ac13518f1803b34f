package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayloadTextMessage(t *testing.T) {
	body := []byte(`{
		"object": "page",
		"entry": [{
			"id": "P1",
			"time": 1700000000000,
			"messaging": [{
				"sender": {"id": "C1"},
				"recipient": {"id": "P1"},
				"timestamp": 1700000000123,
				"message": {"mid": "m1", "text": "hi"}
			}]
		}]
	}`)

	events, err := ParsePayload(body)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, KindMessage, ev.Kind)
	assert.Equal(t, "P1", ev.EntryID)
	assert.Equal(t, "C1", ev.SenderID)
	assert.Equal(t, "P1", ev.RecipientID)
	assert.Equal(t, "m1", ev.MessageID)
	assert.Equal(t, "hi", ev.Text)
	assert.Equal(t, "P1.1700000000123.m1", ev.IdempotencyKey())
}

func TestParsePayloadImageAttachment(t *testing.T) {
	body := []byte(`{
		"object": "page",
		"entry": [{
			"id": "P1",
			"messaging": [{
				"sender": {"id": "C1"},
				"recipient": {"id": "P1"},
				"timestamp": 1,
				"message": {
					"mid": "m2",
					"attachments": [
						{"type": "audio", "payload": {"url": "https://cdn/a.mp3"}},
						{"type": "image", "payload": {"url": "https://cdn/pic.jpg"}}
					]
				}
			}]
		}]
	}`)

	events, err := ParsePayload(body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "https://cdn/pic.jpg", events[0].ImageURL)
	assert.Empty(t, events[0].Text)
}

func TestParsePayloadPostback(t *testing.T) {
	body := []byte(`{
		"object": "page",
		"entry": [{
			"id": "P1",
			"messaging": [{
				"sender": {"id": "C1"},
				"recipient": {"id": "P1"},
				"timestamp": 2,
				"postback": {"payload": "BUY_SKU_42"}
			}]
		}]
	}`)

	events, err := ParsePayload(body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindPostback, events[0].Kind)
	assert.Equal(t, "BUY_SKU_42", events[0].PostbackPayload)
	assert.Equal(t, "P1.2.BUY_SKU_42", events[0].IdempotencyKey())
}

func TestParsePayloadSkipsReceipts(t *testing.T) {
	body := []byte(`{
		"object": "page",
		"entry": [{
			"id": "P1",
			"messaging": [
				{"sender": {"id": "C1"}, "recipient": {"id": "P1"}, "timestamp": 3, "delivery": {"mids": ["m1"]}},
				{"sender": {"id": "C1"}, "recipient": {"id": "P1"}, "timestamp": 4, "message": {"mid": "m3", "text": "still here"}}
			]
		}]
	}`)

	events, err := ParsePayload(body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "m3", events[0].MessageID)
}

func TestParsePayloadRejectsNonPageObject(t *testing.T) {
	_, err := ParsePayload([]byte(`{"object":"user","entry":[]}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParsePayloadRejectsInvalidJSON(t *testing.T) {
	_, err := ParsePayload([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParsePayloadSkipsEventsWithoutParties(t *testing.T) {
	body := []byte(`{
		"object": "page",
		"entry": [{
			"id": "P1",
			"messaging": [{"timestamp": 5, "message": {"mid": "m4", "text": "orphan"}}]
		}]
	}`)

	events, err := ParsePayload(body)
	require.NoError(t, err)
	assert.Empty(t, events)
}
