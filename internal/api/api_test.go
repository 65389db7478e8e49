package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/baseswap/orchestrator/internal/apperr"
	"github.com/baseswap/orchestrator/internal/eventbus"
	"github.com/baseswap/orchestrator/internal/quote"
	"github.com/baseswap/orchestrator/internal/secretmgr"
	"github.com/baseswap/orchestrator/internal/session"
	"github.com/baseswap/orchestrator/internal/sessionmgr"
)

var errSentinel = errors.New("crypto/rand: unavailable")

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir, err := os.MkdirTemp("", "api-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	store := session.NewStore()
	secrets := secretmgr.New(store)
	bus := eventbus.New()
	sessions := sessionmgr.New(store, secrets, bus, dir, time.Hour)

	return New("127.0.0.1:0", Deps{
		Store:                    store,
		Sessions:                 sessions,
		Secrets:                  secrets,
		Quotes:                   quote.New(),
		Bus:                      bus,
		APIKeys:                  map[string]bool{"test-key": true},
		MaxSubscribersPerSession: 64,
	})
}

func TestHealthRequiresNoAuth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCreateSessionRequiresAPIKey(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]string{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateSessionValidatesRequiredFields(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"source_chain": "base"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateSessionHappyPath(t *testing.T) {
	s := newTestServer(t)
	payload := map[string]interface{}{
		"source_chain":           "base",
		"destination_chain":      "near",
		"source_token":           "USDC",
		"destination_token":      "USDC.e",
		"source_amount":          "1000000",
		"destination_amount":     "990000",
		"maker":                  "0xmaker",
		"taker":                  "0xtaker",
		"slippage_tolerance_bps": 50,
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["status"] != "Created" {
		t.Fatalf("status field = %v, want Created", resp["status"])
	}
	if resp["session_id"] == "" || resp["session_id"] == nil {
		t.Fatal("expected a non-empty session_id")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/does-not-exist", nil)
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetSecretDeniedForWrongPrincipal(t *testing.T) {
	s := newTestServer(t)
	payload := map[string]interface{}{
		"source_chain": "base", "destination_chain": "near",
		"source_token": "USDC", "destination_token": "USDC.e",
		"source_amount": "1000000", "destination_amount": "990000",
		"maker": "0xmaker", "taker": "0xtaker",
	}
	body, _ := json.Marshal(payload)
	createReq := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(body))
	createReq.Header.Set("X-API-Key", "test-key")
	createRec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(createRec, createReq)

	var created map[string]interface{}
	json.Unmarshal(createRec.Body.Bytes(), &created)
	id := created["session_id"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+id+"/secret?principal=0xattacker", nil)
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestStatusForErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.New(apperr.InvalidInput, "x"), http.StatusBadRequest},
		{apperr.New(apperr.Unauthorized, "x"), http.StatusForbidden},
		{apperr.New(apperr.NotFound, "x"), http.StatusNotFound},
		{apperr.New(apperr.InvariantViolation, "x"), http.StatusUnprocessableEntity},
		{apperr.New(apperr.ChainUnavailable, "x"), http.StatusServiceUnavailable},
		{apperr.New(apperr.StateConflict, "x"), http.StatusConflict},
		{apperr.New(apperr.Internal, "x"), http.StatusInternalServerError},
		{session.ErrNotFound, http.StatusNotFound},
		{session.ErrHashlockInUse, http.StatusConflict},
	}
	for _, c := range cases {
		if got := statusForError(c.err); got != c.want {
			t.Errorf("statusForError(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestWriteErrorSanitizesInternalCause(t *testing.T) {
	err := apperr.Wrap(apperr.Internal, "CSPRNG unavailable, refusing to mint secret", errSentinel)

	rec := httptest.NewRecorder()
	writeError(rec, err)

	var resp errorResponse
	if decodeErr := json.Unmarshal(rec.Body.Bytes(), &resp); decodeErr != nil {
		t.Fatalf("Unmarshal: %v", decodeErr)
	}
	if resp.Error.Message != genericInternalMessage {
		t.Fatalf("Message = %q, want sanitized %q (leaked: %v)", resp.Error.Message, genericInternalMessage, err)
	}
}

func TestWriteErrorPassesThroughNonInternalMessage(t *testing.T) {
	err := apperr.New(apperr.InvalidInput, "source_amount must be positive")

	rec := httptest.NewRecorder()
	writeError(rec, err)

	var resp errorResponse
	if decodeErr := json.Unmarshal(rec.Body.Bytes(), &resp); decodeErr != nil {
		t.Fatalf("Unmarshal: %v", decodeErr)
	}
	if resp.Error.Message != "source_amount must be positive" {
		t.Fatalf("Message = %q, want the original message", resp.Error.Message)
	}
}
