package notification_handler

import (
	"encoding/json"
	"strconv"
	"strings"

	"gorm.io/datatypes"
)

// Event is one inbound blockchain notification.
type Event struct {
	Source         string
	EventType      string
	EventID        string
	TransactionRef string
	Confirmations  int
	Payload        datatypes.JSON
	TraceID        string
}

type chainPayload struct {
	Hash            string          `json:"hash"`
	TransactionHash string          `json:"transaction_hash"`
	Confirmations   json.RawMessage `json:"confirmations"`
	EventID         string          `json:"id"`
}

// ParseChainEvent extracts the transaction hash and confirmation count from a webhook body.
// It never fails: a body that cannot be decoded yields an event without a transaction ref,
// which is logged and acknowledged as unmatched.
func ParseChainEvent(source, eventType string, body []byte) *Event {
	ev := &Event{Source: source, EventType: strings.TrimSpace(eventType)}

	var p chainPayload
	if len(body) == 0 || !json.Valid(body) {
		raw, _ := json.Marshal(map[string]string{"raw": string(body)})
		ev.Payload = datatypes.JSON(raw)
		return ev
	}
	ev.Payload = datatypes.JSON(body)
	if err := json.Unmarshal(body, &p); err != nil {
		return ev
	}

	ev.TransactionRef = strings.TrimSpace(p.Hash)
	if ev.TransactionRef == "" {
		ev.TransactionRef = strings.TrimSpace(p.TransactionHash)
	}
	ev.Confirmations = parseCount(p.Confirmations)
	ev.EventID = p.EventID
	return ev
}

// parseCount accepts a number or a numeric string. Anything else, including negative values,
// is treated as zero confirmations.
func parseCount(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		n = json.Number(strings.TrimSpace(s))
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	if v > int64(^uint32(0)>>1) {
		return int(^uint32(0) >> 1)
	}
	return int(v)
}
