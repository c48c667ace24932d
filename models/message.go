package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

// InboundMessage is one received SMS as reported by the device.
//
// Identifier fields are kept as raw JSON because the device treats them as
// opaque tokens that may be numbers or strings.
type InboundMessage struct {
	ID       json.RawMessage `json:"id,omitempty"`
	ThreadID json.RawMessage `json:"thread_id,omitempty"`
	Received json.RawMessage `json:"received,omitempty"`
	Address  string          `json:"address"`
	Number   string          `json:"number,omitempty"`
	Body     string          `json:"body"`
}

// Sender returns the sender phone number, preferring address over number.
func (m InboundMessage) Sender() string {
	if m.Address != "" {
		return m.Address
	}
	return m.Number
}

// DedupKey resolves the identifier used for duplicate detection.
//
// Candidates are tried in order: id, thread_id, received. A candidate counts
// as absent when it is missing or when IdentifierKey finds it absent. The
// returned key is the canonical key text of the first present candidate.
func (m InboundMessage) DedupKey() (string, bool) {
	for _, candidate := range []json.RawMessage{m.ID, m.ThreadID, m.Received} {
		if key, ok := IdentifierKey(candidate); ok {
			return key, true
		}
	}
	return "", false
}

// OutgoingMessage is a message queued at the backend for sending from the device.
type OutgoingMessage struct {
	ID      json.RawMessage `json:"id"`
	Phone   string          `json:"phone"`
	Message string          `json:"message"`
}

// HasID reports whether the backend supplied an id to acknowledge.
func (m OutgoingMessage) HasID() bool {
	trimmed := bytes.TrimSpace(m.ID)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// IDString returns the backend id as compact JSON text for logging.
func (m OutgoingMessage) IDString() string {
	key, ok := IdentifierKey(m.ID)
	if !ok {
		return string(m.ID)
	}
	return key
}

// IdentifierKey returns the canonical key text of a raw JSON identifier.
//
// Numbers are canonicalised so 1, 1.0 and 1e0 share the key 1; strings keep
// their quotes so "1" stays distinct. Null, "", 0, false, [] and {} are
// absent and yield ok=false.
func IdentifierKey(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", false
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return "", false
	}
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		if v == "" {
			return "", false
		}
	case bool:
		if !v {
			return "", false
		}
	case json.Number:
		return numberKey(v)
	case []any:
		if len(v) == 0 {
			return "", false
		}
	case map[string]any:
		if len(v) == 0 {
			return "", false
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return "", false
	}
	return compact.String(), true
}

func numberKey(n json.Number) (string, bool) {
	text := n.String()
	i, err := strconv.ParseInt(text, 10, 64)
	switch {
	case err == nil && i == 0:
		return "", false
	case err == nil:
		return strconv.FormatInt(i, 10), true
	case errors.Is(err, strconv.ErrRange):
		// Integer literal beyond int64 stays exact.
		return text, true
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return text, true
	}
	if f == 0 {
		return "", false
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
		return strconv.FormatInt(int64(f), 10), true
	}
	return strconv.FormatFloat(f, 'g', -1, 64), true
}
