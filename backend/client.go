package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"smsrelay/models"
)

const (
	// DefaultRequestTimeout bounds each backend request.
	DefaultRequestTimeout = 10 * time.Second
	// UserAgent identifies relay requests.
	UserAgent = "smsrelay/1"

	pathIncoming = "/incoming/"
	pathOutgoing = "/outgoing/"
	pathSent     = "/sent/"

	headerRelayID = "X-Relay-ID"
)

// ErrMissingID indicates an acknowledgement was attempted without an id.
var ErrMissingID = errors.New("backend: message id is required")

// Error is a failed backend call: a transport failure (StatusCode 0), a
// non-success status, or an undecodable response.
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// errUnexpectedStatus is wrapped by Error for non-success responses.
var errUnexpectedStatus = errors.New("unexpected status")

type doer interface {
	DoDeadline(req *fasthttp.Request, resp *fasthttp.Response, deadline time.Time) error
}

// Config controls the backend HTTP client.
type Config struct {
	BaseURL        string
	RelayID        string
	RequestTimeout time.Duration

	httpClient doer
	now        func() time.Time
}

func (c Config) withDefaults() Config {
	out := c
	out.BaseURL = strings.TrimRight(strings.TrimSpace(out.BaseURL), "/")
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = DefaultRequestTimeout
	}
	if out.httpClient == nil {
		out.httpClient = &fasthttp.Client{
			Name:                     UserAgent,
			NoDefaultUserAgentHeader: true,
		}
	}
	if out.now == nil {
		out.now = time.Now
	}
	return out
}

func (c Config) validate() error {
	if c.BaseURL == "" {
		return errors.New("backend base URL is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("backend base URL %q must use http or https", c.BaseURL)
	}
	return nil
}

// Client talks to the coordination backend.
type Client struct {
	cfg Config
}

// NewClient creates a backend client with config defaults applied.
func NewClient(config Config) (*Client, error) {
	cfg := config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Client{cfg: cfg}, nil
}

type incomingRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type sentRequest struct {
	ID json.RawMessage `json:"id"`
}

// PostIncoming forwards a received message to the backend.
func (c *Client) PostIncoming(ctx context.Context, phone, body string) error {
	const op = "post incoming"

	payload, err := json.Marshal(incomingRequest{Phone: phone, Message: body})
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}

	_, err = c.do(ctx, op, fasthttp.MethodPost, pathIncoming, payload)
	return err
}

// FetchOutgoing returns the messages currently queued for sending.
func (c *Client) FetchOutgoing(ctx context.Context) ([]models.OutgoingMessage, error) {
	const op = "fetch outgoing"

	body, err := c.do(ctx, op, fasthttp.MethodGet, pathOutgoing, nil)
	if err != nil {
		return nil, err
	}

	var messages []models.OutgoingMessage
	if err := json.Unmarshal(body, &messages); err != nil {
		return nil, &Error{Op: op, StatusCode: fasthttp.StatusOK, Err: fmt.Errorf("decode response: %w", err)}
	}
	return messages, nil
}

// AcknowledgeSent tells the backend an outgoing message was handed to the device.
func (c *Client) AcknowledgeSent(ctx context.Context, id json.RawMessage) error {
	const op = "acknowledge sent"

	if len(strings.TrimSpace(string(id))) == 0 {
		return &Error{Op: op, Err: ErrMissingID}
	}
	payload, err := json.Marshal(sentRequest{ID: id})
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}

	_, err = c.do(ctx, op, fasthttp.MethodPost, pathSent, payload)
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: op, Err: err}
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.cfg.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetUserAgent(UserAgent)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if c.cfg.RelayID != "" {
		req.Header.Set(headerRelayID, c.cfg.RelayID)
	}
	if payload != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	if err := c.cfg.httpClient.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return nil, &Error{Op: op, Err: err}
	}

	status := resp.StatusCode()
	if status != fasthttp.StatusOK {
		return nil, &Error{Op: op, StatusCode: status, Err: errUnexpectedStatus}
	}

	body := append([]byte(nil), resp.Body()...)
	return body, nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	deadline := c.cfg.now().Add(c.cfg.RequestTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		return ctxDeadline
	}
	return deadline
}

// IsStatus reports whether err is a backend Error with the given status code.
func IsStatus(err error, status int) bool {
	var backendErr *Error
	return errors.As(err, &backendErr) && backendErr.StatusCode == status
}
