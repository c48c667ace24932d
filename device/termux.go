package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"smsrelay/models"
)

const (
	// DefaultListCommand is the Termux:API binary that lists SMS.
	DefaultListCommand = "termux-sms-list"
	// DefaultSendCommand is the Termux:API binary that sends SMS.
	DefaultSendCommand = "termux-sms-send"
)

// ErrEmptyRecipient indicates Send was called without a phone number.
var ErrEmptyRecipient = errors.New("device: recipient phone is required")

// Error is a failed device capability invocation or an unparsable result.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("device: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Config controls which binaries the Termux adapter invokes.
type Config struct {
	ListCommand string
	SendCommand string

	runFn runFunc
}

func (c Config) withDefaults() Config {
	out := c
	if strings.TrimSpace(out.ListCommand) == "" {
		out.ListCommand = DefaultListCommand
	}
	if strings.TrimSpace(out.SendCommand) == "" {
		out.SendCommand = DefaultSendCommand
	}
	if out.runFn == nil {
		out.runFn = runCommand
	}
	return out
}

// Termux lists and sends SMS through the Termux:API command line tools.
type Termux struct {
	cfg Config
}

// NewTermux creates an adapter with config defaults applied.
func NewTermux(config Config) *Termux {
	return &Termux{cfg: config.withDefaults()}
}

// ListRecent returns up to limit of the most recent messages known to the device.
// No ordering is guaranteed.
func (t *Termux) ListRecent(ctx context.Context, limit int) ([]models.InboundMessage, error) {
	if limit <= 0 {
		return nil, &Error{Op: "list", Err: fmt.Errorf("invalid limit %d", limit)}
	}

	out, err := t.cfg.runFn(ctx, t.cfg.ListCommand, "-l", strconv.Itoa(limit))
	if err != nil {
		return nil, &Error{Op: "list", Err: err}
	}

	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}

	var messages []models.InboundMessage
	if err := json.Unmarshal(out, &messages); err != nil {
		return nil, &Error{Op: "list", Err: fmt.Errorf("decode message list: %w", err)}
	}
	if len(messages) > limit {
		messages = messages[:limit]
	}

	return messages, nil
}

// Send hands a message to the device for delivery. No delivery confirmation
// is available from the device layer.
func (t *Termux) Send(ctx context.Context, phone, body string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return &Error{Op: "send", Err: ErrEmptyRecipient}
	}

	if _, err := t.cfg.runFn(ctx, t.cfg.SendCommand, "-n", phone, body); err != nil {
		return &Error{Op: "send", Err: err}
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("run %s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("run %s: %w", name, err)
	}
	return out, nil
}
