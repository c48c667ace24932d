package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"smsrelay/models"
)

var errTransport = errors.New("connection reset by peer")

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func bufferLogger() (*log.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return log.New(&buf, "", 0), &buf
}

type sentSMS struct {
	phone string
	body  string
}

// fakeDevice reports a fixed message list and records sends.
type fakeDevice struct {
	messages []models.InboundMessage
	listErr  error
	sendErrs []error

	listCalls int
	sends     []sentSMS
}

func (d *fakeDevice) ListRecent(ctx context.Context, limit int) ([]models.InboundMessage, error) {
	d.listCalls++
	if d.listErr != nil {
		return nil, d.listErr
	}
	if len(d.messages) > limit {
		return d.messages[:limit], nil
	}
	return d.messages, nil
}

func (d *fakeDevice) Send(ctx context.Context, phone, body string) error {
	d.sends = append(d.sends, sentSMS{phone: phone, body: body})
	if len(d.sendErrs) > 0 {
		err := d.sendErrs[0]
		d.sendErrs = d.sendErrs[1:]
		return err
	}
	return nil
}

type postedSMS struct {
	phone string
	body  string
}

// fakeBackend keeps an outgoing queue that only acknowledgements shrink.
type fakeBackend struct {
	postErr  error
	fetchErr error
	ackErrs  []error

	posted []postedSMS
	queue  []models.OutgoingMessage
	acked  []string
}

func (b *fakeBackend) PostIncoming(ctx context.Context, phone, body string) error {
	b.posted = append(b.posted, postedSMS{phone: phone, body: body})
	return b.postErr
}

func (b *fakeBackend) FetchOutgoing(ctx context.Context) ([]models.OutgoingMessage, error) {
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	return append([]models.OutgoingMessage(nil), b.queue...), nil
}

func (b *fakeBackend) AcknowledgeSent(ctx context.Context, id json.RawMessage) error {
	if len(b.ackErrs) > 0 {
		err := b.ackErrs[0]
		b.ackErrs = b.ackErrs[1:]
		if err != nil {
			return err
		}
	}
	b.acked = append(b.acked, string(id))
	remaining := b.queue[:0]
	for _, msg := range b.queue {
		if string(msg.ID) != string(id) {
			remaining = append(remaining, msg)
		}
	}
	b.queue = remaining
	return nil
}

// countingLedger wraps an in-memory set and counts persists.
type countingLedger struct {
	keys       map[string]struct{}
	dirty      bool
	persisted  int
	persistErr error
}

func newCountingLedger(keys ...string) *countingLedger {
	l := &countingLedger{keys: map[string]struct{}{}}
	for _, key := range keys {
		l.keys[key] = struct{}{}
	}
	return l
}

func (l *countingLedger) Contains(key string) bool {
	_, ok := l.keys[key]
	return ok
}

func (l *countingLedger) Add(key string) {
	if _, ok := l.keys[key]; ok {
		return
	}
	l.keys[key] = struct{}{}
	l.dirty = true
}

func (l *countingLedger) Len() int { return len(l.keys) }

func (l *countingLedger) Dirty() bool { return l.dirty }

func (l *countingLedger) Persist() error {
	l.persisted++
	if l.persistErr != nil {
		return l.persistErr
	}
	l.dirty = false
	return nil
}

func inbound(t *testing.T, payload string) []models.InboundMessage {
	t.Helper()

	var messages []models.InboundMessage
	if err := json.Unmarshal([]byte(payload), &messages); err != nil {
		t.Fatalf("decode inbound fixture: %v", err)
	}
	return messages
}

func outgoing(t *testing.T, payload string) []models.OutgoingMessage {
	t.Helper()

	var messages []models.OutgoingMessage
	if err := json.Unmarshal([]byte(payload), &messages); err != nil {
		t.Fatalf("decode outgoing fixture: %v", err)
	}
	return messages
}

// fakeClock fires every After immediately and records each wait.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waits   []time.Duration
	onAfter func(n int)
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	n := len(c.waits)
	now := c.now
	hook := c.onAfter
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}
