package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kimhsiao/ledgerdesk/backend/internal/errors"
	"github.com/kimhsiao/ledgerdesk/backend/internal/models"
)

func newTestTransport(t *testing.T, handler http.HandlerFunc) *HTTPTransport {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tr, err := NewHTTPTransport(&Config{BaseURL: server.URL + "/v1/", AuthToken: "secret"})
	if err != nil {
		t.Fatalf("NewHTTPTransport() failed: %v", err)
	}
	return tr
}

// TestNewHTTPTransport_invalidURL verifies base URL validation.
func TestNewHTTPTransport_invalidURL(t *testing.T) {
	for _, base := range []string{"", "not a url", "/relative"} {
		if _, err := NewHTTPTransport(&Config{BaseURL: base}); !errors.Is(err, errors.ErrInvalid) {
			t.Errorf("NewHTTPTransport(%q) err = %v", base, err)
		}
	}
}

// TestList verifies paths, headers and both response shapes.
func TestList(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"array", `[{"id":1},{"id":2}]`, 2},
		{"envelope", `{"data":[{"id":"a"}]}`, 1},
		{"empty", `[]`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/v1/companies" {
					t.Errorf("request = %s %s", r.Method, r.URL.Path)
				}
				if r.Header.Get("Authorization") != "Bearer secret" {
					t.Errorf("missing auth header")
				}
				io.WriteString(w, tt.body)
			})

			records, err := tr.List(context.Background(), "companies")
			if err != nil {
				t.Fatalf("List() failed: %v", err)
			}
			if records == nil || len(records) != tt.want {
				t.Errorf("List() = %v, want %d records", records, tt.want)
			}
		})
	}
}

// TestCreateUpdateDelete verifies methods, bodies and decoded responses.
func TestCreateUpdateDelete(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/companies":
			var rec map[string]any
			json.NewDecoder(r.Body).Decode(&rec)
			rec["id"] = 42
			json.NewEncoder(w).Encode(map[string]any{"data": rec})
		case r.Method == http.MethodPut && r.URL.Path == "/v1/companies/42":
			io.WriteString(w, `{"id":42,"name":"Renamed"}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/companies/42":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	ctx := context.Background()

	created, err := tr.Create(ctx, "companies", models.Record{"name": "Acme"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if created.ID() != "42" || created["name"] != "Acme" {
		t.Errorf("Create() = %v", created)
	}

	updated, err := tr.Update(ctx, "companies", "42", models.Record{"name": "Renamed"})
	if err != nil || updated["name"] != "Renamed" {
		t.Errorf("Update() = %v, %v", updated, err)
	}

	if err := tr.Delete(ctx, "companies", "42"); err != nil {
		t.Errorf("Delete() failed: %v", err)
	}
}

// TestStatusMapping verifies HTTP failures map to error codes.
func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   errors.ErrorCode
	}{
		{http.StatusTooManyRequests, "", errors.ErrRateLimited},
		{http.StatusForbidden, "Rate limit exceeded", errors.ErrRateLimited},
		{http.StatusBadRequest, "too many requests this hour", errors.ErrRateLimited},
		{http.StatusNotFound, "", errors.ErrNotFound},
		{http.StatusUnauthorized, "", errors.ErrPermission},
		{http.StatusForbidden, "", errors.ErrPermission},
		{http.StatusUnprocessableEntity, "invalid name", errors.ErrPermanent},
		{http.StatusRequestTimeout, "", errors.ErrTransient},
		{http.StatusInternalServerError, "", errors.ErrTransient},
		{http.StatusBadGateway, "", errors.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			err := tr.Delete(context.Background(), "companies", "1")
			if got := errors.CodeOf(err); got != tt.want {
				t.Errorf("status %d body %q code = %s, want %s", tt.status, tt.body, got, tt.want)
			}
		})
	}
}

// TestResponseLimit verifies an oversized body is rejected instead of read
// whole.
func TestResponseLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id":1,"name":"a very long company name indeed"}]`)
	}))
	defer server.Close()

	tr, err := NewHTTPTransport(&Config{BaseURL: server.URL, MaxResponseBytes: 16})
	if err != nil {
		t.Fatalf("NewHTTPTransport() failed: %v", err)
	}
	_, err = tr.List(context.Background(), "companies")
	if got := errors.CodeOf(err); got != errors.ErrPermanent {
		t.Errorf("code = %s, want PERMANENT (err %v)", got, err)
	}

	tr, _ = NewHTTPTransport(&Config{BaseURL: server.URL})
	if records, err := tr.List(context.Background(), "companies"); err != nil || len(records) != 1 {
		t.Errorf("List() with default limit = %v, %v", records, err)
	}
}

// TestUnreachable verifies connection failures are transient.
func TestUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	tr, _ := NewHTTPTransport(&Config{BaseURL: base, Timeout: time.Second})
	_, err := tr.List(context.Background(), "companies")
	if got := errors.CodeOf(err); got != errors.ErrTransient {
		t.Errorf("code = %s, want TRANSIENT_NETWORK (err %v)", got, err)
	}
}

// TestHealth verifies the health endpoint path.
func TestHealth(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			w.WriteHeader(http.StatusNotFound)
		}
	})
	if err := tr.Health(context.Background()); err != nil {
		t.Errorf("Health() failed: %v", err)
	}
	if tr.HealthURL() == "" {
		t.Error("HealthURL() empty")
	}
}
