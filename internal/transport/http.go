// Package transport provides the REST client the offline client talks to.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kimhsiao/ledgerdesk/backend/internal/errors"
	"github.com/kimhsiao/ledgerdesk/backend/internal/models"
)

const (
	// maxErrorBody bounds how much of an error response is kept in messages.
	maxErrorBody = 512
	// defaultMaxResponse caps a response body when Config.MaxResponseBytes
	// is unset.
	defaultMaxResponse = 10 << 20
)

// Config holds HTTP transport configuration.
type Config struct {
	BaseURL   string        // e.g. https://api.example.com/v1
	AuthToken string        // sent as a bearer token when set
	Timeout   time.Duration // default: 30 seconds

	MaxResponseBytes int64 // default: 10 MiB
}

// HTTPTransport performs REST calls against <base>/<resource>[/<id>].
type HTTPTransport struct {
	config     *Config
	baseURL    *url.URL
	httpClient *http.Client
}

// NewHTTPTransport creates a new HTTPTransport.
func NewHTTPTransport(config *Config) (*HTTPTransport, error) {
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.New(errors.ErrInvalid, fmt.Sprintf("invalid base URL %q", config.BaseURL))
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = defaultMaxResponse
	}
	return &HTTPTransport{
		config:  config,
		baseURL: base,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}, nil
}

// List fetches a collection. Both a bare JSON array and a {"data": [...]}
// envelope are accepted.
func (t *HTTPTransport) List(ctx context.Context, resource string) ([]models.Record, error) {
	body, err := t.do(ctx, http.MethodGet, resource, "", nil)
	if err != nil {
		return nil, err
	}

	var records []models.Record
	if err := json.Unmarshal(body, &records); err == nil {
		if records == nil {
			records = []models.Record{}
		}
		return records, nil
	}
	var envelope struct {
		Data []models.Record `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Wrap(errors.ErrPermanent, "decode "+resource+" list", err)
	}
	if envelope.Data == nil {
		envelope.Data = []models.Record{}
	}
	return envelope.Data, nil
}

// Create posts a new record and returns the server's version.
func (t *HTTPTransport) Create(ctx context.Context, resource string, rec models.Record) (models.Record, error) {
	body, err := t.do(ctx, http.MethodPost, resource, "", rec)
	if err != nil {
		return nil, err
	}
	return decodeRecord(body, rec)
}

// Update sends the changed fields with PUT and returns the server's version.
func (t *HTTPTransport) Update(ctx context.Context, resource, id string, patch models.Record) (models.Record, error) {
	body, err := t.do(ctx, http.MethodPut, resource, id, patch)
	if err != nil {
		return nil, err
	}
	return decodeRecord(body, patch)
}

// Delete removes a record.
func (t *HTTPTransport) Delete(ctx context.Context, resource, id string) error {
	_, err := t.do(ctx, http.MethodDelete, resource, id, nil)
	return err
}

// Health performs GET <base>/health.
func (t *HTTPTransport) Health(ctx context.Context) error {
	_, err := t.do(ctx, http.MethodGet, "health", "", nil)
	return err
}

// HealthURL returns the URL Health requests.
func (t *HTTPTransport) HealthURL() string {
	return t.baseURL.JoinPath("health").String()
}

func (t *HTTPTransport) do(ctx context.Context, method, resource, id string, payload any) ([]byte, error) {
	target := t.baseURL.JoinPath(resource)
	if id != "" {
		target = target.JoinPath(id)
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(errors.ErrInvalid, "encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.config.AuthToken)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.Classify(err), fmt.Sprintf("%s %s failed", method, target.Path), err)
	}
	defer resp.Body.Close()

	limit := t.config.MaxResponseBytes
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, errors.Wrap(errors.ErrTransient, "failed to read response body", err)
	}
	if int64(len(body)) > limit {
		return nil, errors.New(errors.ErrPermanent, fmt.Sprintf("%s %s: response exceeds %d bytes", method, target.Path, limit))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, statusError(method, target.Path, resp.StatusCode, body)
}

// statusError maps a non-2xx response to an error code.
func statusError(method, path string, status int, body []byte) error {
	text := string(body)
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	msg := fmt.Sprintf("%s %s failed with status %d: %s", method, path, status, text)

	lower := strings.ToLower(text)
	switch {
	case status == http.StatusTooManyRequests,
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "too many requests"):
		return errors.New(errors.ErrRateLimited, msg)
	case status == http.StatusNotFound:
		return errors.New(errors.ErrNotFound, msg)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return errors.New(errors.ErrPermission, msg)
	case status == http.StatusRequestTimeout:
		return errors.New(errors.ErrTransient, msg)
	case status >= 400 && status < 500:
		return errors.New(errors.ErrPermanent, msg)
	default:
		return errors.New(errors.ErrTransient, msg)
	}
}

// decodeRecord decodes a single record, unwrapping a {"data": {...}}
// envelope. An empty body echoes fallback.
func decodeRecord(body []byte, fallback models.Record) (models.Record, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return fallback.Clone(), nil
	}
	var rec models.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, errors.Wrap(errors.ErrPermanent, "decode record", err)
	}
	if inner, ok := rec["data"].(map[string]any); ok && len(rec) == 1 {
		return models.Record(inner), nil
	}
	return rec, nil
}
