package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

const (
	DefaultURL       = "https://comensales.uncp.edu.pe/api/registros"
	DefaultReferer   = "https://comensales.uncp.edu.pe/"
	DefaultErrorCode = 500

	formField   = "data"
	maxBodySize = 1 << 20
)

var ErrNoURL = errors.New("remote: url is empty")

// Config configures the endpoint. A zero Timeout leaves calls unbounded.
type Config struct {
	URL       string
	Referer   string
	Timeout   time.Duration
	ErrorCode int64
}

// Credentials identify the user on the remote side.
type Credentials struct {
	Primary   string
	Secondary string
}

// Response is a completed remote call.
type Response struct {
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body"`
	Code       int64           `json:"code"`
	HasCode    bool            `json:"hasCode"`
	// SoftFailure is set when the body's "code" equals the configured sentinel.
	SoftFailure bool `json:"softFailure"`
}

// Submitter issues one registration attempt.
type Submitter interface {
	Submit(ctx context.Context, cred Credentials) (Response, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote: http status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote: http status %d: %s", e.StatusCode, e.Body)
}

// Client submits the registration form over HTTP. It is safe for concurrent use.
type Client struct {
	mu   sync.RWMutex
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	c := &Client{http: &http.Client{}}
	c.Apply(cfg)
	return c
}

// Apply swaps the endpoint settings for subsequent calls.
func (c *Client) Apply(cfg Config) {
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.ErrorCode == 0 {
		cfg.ErrorCode = DefaultErrorCode
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

func (c *Client) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

type payload struct {
	ID        *int64  `json:"t1_id"`
	Primary   string  `json:"t1_dni"`
	Secondary string  `json:"t1_codigo"`
	Names     string  `json:"t1_nombres"`
	School    string  `json:"t1_escuela"`
	State     *string `json:"t1_estado"`
	PeriodID  *int64  `json:"t3_periodos_t3_id"`
}

// EncodeForm builds the multipart body and returns it with its content type.
func EncodeForm(cred Credentials) (*bytes.Buffer, string, error) {
	doc, err := json.Marshal(payload{Primary: cred.Primary, Secondary: cred.Secondary})
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField(formField, string(doc)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func (c *Client) Submit(ctx context.Context, cred Credentials) (Response, error) {
	cfg := c.Config()
	if cfg.URL == "" {
		return Response{}, ErrNoURL
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	body, contentType, err := EncodeForm(cred)
	if err != nil {
		return Response{}, fmt.Errorf("remote: encode form: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, body)
	if err != nil {
		return Response{}, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if cfg.Referer != "" {
		req.Header.Set("Referer", cfg.Referer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Response{}, fmt.Errorf("remote: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return parseResponse(resp.StatusCode, raw, cfg.ErrorCode), nil
}

func parseResponse(status int, raw []byte, errorCode int64) Response {
	out := Response{StatusCode: status}
	if gjson.ValidBytes(raw) {
		out.Body = json.RawMessage(raw)
		if code := gjson.GetBytes(raw, "code"); code.Exists() {
			out.Code = code.Int()
			out.HasCode = true
			out.SoftFailure = out.Code == errorCode
		}
	} else if len(raw) > 0 {
		quoted, _ := json.Marshal(string(raw))
		out.Body = quoted
	}
	return out
}
