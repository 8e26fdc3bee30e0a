package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"hooky/internal/dispatch"
	"hooky/internal/history"
	"hooky/internal/settings"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testMarketplaceSecret = "marketplace-secret-32-chars-long-xyz"

// 422 bodies exactly as clients receive them.
const (
	missingHeaderBody   = `{"detail":[{"loc":["header","x-hub-signature-256"],"msg":"Missing required header parameter","type":"value_error"}]}`
	malformedHeaderBody = `{"detail":[{"loc":["header","x-hub-signature-256"],"msg":"string does not match regex 'sha256=[A-Fa-f0-9]{64}'","type":"value_error.str.regex","ctx":{"pattern":"sha256=[A-Fa-f0-9]{64}"}}]}`
)

// staticProcessor returns a fixed outcome and counts calls.
func staticProcessor(outcome dispatch.Outcome, calls *int32) dispatch.Processor {
	return dispatch.ProcessorFunc(func(ctx context.Context, body []byte, s *settings.Settings) (dispatch.Outcome, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		return outcome, nil
	})
}

func testSettings() *settings.Settings {
	return &settings.Settings{
		WebhookSecret:     settings.NewSecret(testSecret),
		MarketplaceSecret: secretPtr(testMarketplaceSecret),
		Workers:           2,
	}
}

func setupTestServer(t *testing.T, s *settings.Settings, proc dispatch.Processor) (*Server, http.Handler) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := dispatch.New(s.Workers, proc, logger)

	// test mode - no rate limiting, no history
	server := NewServer(s, d, nil, logger, true)
	server.Commit = "0123456789abcdef"

	router, err := server.Router()
	if err != nil {
		t.Fatalf("Failed to build router: %v", err)
	}
	return server, router
}

func signedRequest(path string, payload []byte, secret string) *http.Request {
	req := httptest.NewRequest("POST", path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign([]byte(secret), payload))
	return req
}

func serve(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeDetail(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var response detailResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
	return response.Detail
}

func decodeValidation(t *testing.T, rr *httptest.ResponseRecorder) ValidationError {
	t.Helper()
	var response validationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
	if len(response.Detail) != 1 {
		t.Fatalf("Expected one validation error, got %d", len(response.Detail))
	}
	return response.Detail[0]
}

func TestHandleWebhook_ActionTaken(t *testing.T) {
	_, router := setupTestServer(t, testSettings(), staticProcessor(dispatch.Outcome{ActionTaken: true, Message: "done"}, nil))

	rr := serve(router, signedRequest("/", []byte(`{}`), testSecret))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "done" {
		t.Errorf("Expected body 'done', got %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Expected text/plain, got %s", ct)
	}
}

func TestHandleWebhook_NoActionTaken(t *testing.T) {
	_, router := setupTestServer(t, testSettings(), staticProcessor(dispatch.Outcome{Message: "ignored"}, nil))

	rr := serve(router, signedRequest("/", []byte(`{}`), testSecret))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", rr.Code)
	}
	if rr.Body.String() != "ignored, no action taken" {
		t.Errorf("Expected body 'ignored, no action taken', got %q", rr.Body.String())
	}
}

func TestHandleWebhook_ProcessorReceivesBodyAndSettings(t *testing.T) {
	s := testSettings()
	payload := []byte(`{"action":"opened","number":1}`)

	var gotBody []byte
	var gotSettings *settings.Settings
	proc := dispatch.ProcessorFunc(func(ctx context.Context, body []byte, cfg *settings.Settings) (dispatch.Outcome, error) {
		gotBody = body
		gotSettings = cfg
		return dispatch.Outcome{ActionTaken: true, Message: "ok"}, nil
	})

	_, router := setupTestServer(t, s, proc)
	rr := serve(router, signedRequest("/", payload, testSecret))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if !bytes.Equal(gotBody, payload) {
		t.Errorf("Processor got body %q, want %q", gotBody, payload)
	}
	if gotSettings != s {
		t.Error("Processor should receive the server's settings")
	}
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	var calls int32
	_, router := setupTestServer(t, testSettings(), staticProcessor(dispatch.Outcome{ActionTaken: true}, &calls))

	rr := serve(router, signedRequest("/", []byte(`{}`), "wrong-secret-32-chars-long-xxxxxxx"))

	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rr.Code)
	}
	if detail := decodeDetail(t, rr); detail != "Invalid signature" {
		t.Errorf("Expected 'Invalid signature', got %s", detail)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("Processor must not run for an unauthenticated request")
	}
}

func TestHandleWebhook_MissingSignature(t *testing.T) {
	var calls int32
	_, router := setupTestServer(t, testSettings(), staticProcessor(dispatch.Outcome{}, &calls))

	req := httptest.NewRequest("POST", "/", strings.NewReader(`{}`))
	rr := serve(router, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != missingHeaderBody {
		t.Errorf("Unexpected 422 body:\n got  %s\n want %s", got, missingHeaderBody)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("Processor must not run for a request without a signature")
	}
}

func TestHandleWebhook_ProcessorError(t *testing.T) {
	proc := dispatch.ProcessorFunc(func(ctx context.Context, body []byte, s *settings.Settings) (dispatch.Outcome, error) {
		return dispatch.Outcome{}, errors.New("github is down")
	})
	_, router := setupTestServer(t, testSettings(), proc)

	rr := serve(router, signedRequest("/", []byte(`{}`), testSecret))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", rr.Code)
	}
	if detail := decodeDetail(t, rr); detail != "Internal Server Error" {
		t.Errorf("Expected 'Internal Server Error', got %s", detail)
	}
}

func TestHandleWebhook_ProcessorPanic(t *testing.T) {
	proc := dispatch.ProcessorFunc(func(ctx context.Context, body []byte, s *settings.Settings) (dispatch.Outcome, error) {
		panic("nil map")
	})
	_, router := setupTestServer(t, testSettings(), proc)

	rr := serve(router, signedRequest("/", []byte(`{}`), testSecret))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", rr.Code)
	}
	if detail := decodeDetail(t, rr); detail != "Internal Server Error" {
		t.Errorf("Expected 'Internal Server Error', got %s", detail)
	}

	// the server keeps serving after a panic
	rr = serve(router, signedRequest("/", []byte(`{}`), testSecret))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500 on second request, got %d", rr.Code)
	}
}

func TestHandleMarketplace_Accepted(t *testing.T) {
	_, router := setupTestServer(t, testSettings(), staticProcessor(dispatch.Outcome{}, nil))

	rr := serve(router, signedRequest("/marketplace/", []byte(`{}`), testMarketplaceSecret))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "ok" {
		t.Errorf("Expected body 'ok', got %q", rr.Body.String())
	}
}

func TestHandleMarketplace_NotDeduplicated(t *testing.T) {
	_, router := setupTestServer(t, testSettings(), staticProcessor(dispatch.Outcome{}, nil))
	payload := []byte(`{"action":"purchased","marketplace_purchase":{"account":{"login":"acme"}}}`)

	for i := 0; i < 2; i++ {
		rr := serve(router, signedRequest("/marketplace/", payload, testMarketplaceSecret))
		if rr.Code != http.StatusAccepted || rr.Body.String() != "ok" {
			t.Errorf("Request %d: expected 202 'ok', got %d %q", i+1, rr.Code, rr.Body.String())
		}
	}
}

func TestHandleMarketplace_DoesNotInvokeProcessor(t *testing.T) {
	var calls int32
	_, router := setupTestServer(t, testSettings(), staticProcessor(dispatch.Outcome{}, &calls))

	serve(router, signedRequest("/marketplace/", []byte(`{}`), testMarketplaceSecret))

	if atomic.LoadInt32(&calls) != 0 {
		t.Error("Marketplace deliveries must not reach the event processor")
	}
}

func TestHandleMarketplace_MissingHeader(t *testing.T) {
	_, router := setupTestServer(t, testSettings(), staticProcessor(dispatch.Outcome{}, nil))

	req := httptest.NewRequest("POST", "/marketplace/", strings.NewReader(`{}`))
	rr := serve(router, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %s", ct)
	}
	// no ctx member for a missing header
	if got := strings.TrimSpace(rr.Body.String()); got != missingHeaderBody {
		t.Errorf("Unexpected 422 body:\n got  %s\n want %s", got, missingHeaderBody)
	}
}

func TestHandleMarketplace_MalformedHeader(t *testing.T) {
	_, router := setupTestServer(t, testSettings(), staticProcessor(dispatch.Outcome{}, nil))

	req := httptest.NewRequest("POST", "/marketplace/", strings.NewReader(`{}`))
	req.Header.Set(SignatureHeader, "sha256=foobar")
	rr := serve(router, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != malformedHeaderBody {
		t.Errorf("Unexpected 422 body:\n got  %s\n want %s", got, malformedHeaderBody)
	}

	verr := decodeValidation(t, rr)
	if verr.Ctx["pattern"] != SignaturePattern {
		t.Errorf("Expected pattern in ctx, got %v", verr.Ctx)
	}
}

func TestHandleMarketplace_WrongSignature(t *testing.T) {
	_, router := setupTestServer(t, testSettings(), staticProcessor(dispatch.Outcome{}, nil))

	rr := serve(router, signedRequest("/marketplace/", []byte(`{}`), testSecret))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("Expected status 403, got %d", rr.Code)
	}
	if detail := decodeDetail(t, rr); detail != "Invalid marketplace signature" {
		t.Errorf("Expected 'Invalid marketplace signature', got %s", detail)
	}
}

func TestHandleMarketplace_SecretNotSet(t *testing.T) {
	s := testSettings()
	s.MarketplaceSecret = nil
	_, router := setupTestServer(t, s, staticProcessor(dispatch.Outcome{}, nil))

	rr := serve(router, signedRequest("/marketplace/", []byte(`{}`), testMarketplaceSecret))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("Expected status 403, got %d", rr.Code)
	}
	if detail := decodeDetail(t, rr); detail != "Marketplace secret not set" {
		t.Errorf("Expected 'Marketplace secret not set', got %s", detail)
	}
}

func TestHandleMarketplace_SecretNotSetStillValidatesHeader(t *testing.T) {
	s := testSettings()
	s.MarketplaceSecret = nil
	_, router := setupTestServer(t, s, staticProcessor(dispatch.Outcome{}, nil))

	req := httptest.NewRequest("POST", "/marketplace/", strings.NewReader(`{}`))
	rr := serve(router, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected header validation before the secret check, got %d", rr.Code)
	}
}

func TestHandleMarketplace_InvalidJSON(t *testing.T) {
	_, router := setupTestServer(t, testSettings(), staticProcessor(dispatch.Outcome{}, nil))

	for _, payload := range []string{`{"broken":`, ``, `{} trailing`} {
		rr := serve(router, signedRequest("/marketplace/", []byte(payload), testMarketplaceSecret))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("Payload %q: expected status 400, got %d", payload, rr.Code)
			continue
		}
		if detail := decodeDetail(t, rr); detail != "Invalid JSON body" {
			t.Errorf("Payload %q: expected 'Invalid JSON body', got %s", payload, detail)
		}
	}
}

func TestHandleMarketplace_AnyJSONValue(t *testing.T) {
	_, router := setupTestServer(t, testSettings(), staticProcessor(dispatch.Outcome{}, nil))

	for _, payload := range []string{`[]`, `"text"`, `42`, `{"nested":{"a":[1,2,3]}}`} {
		rr := serve(router, signedRequest("/marketplace/", []byte(payload), testMarketplaceSecret))
		if rr.Code != http.StatusAccepted {
			t.Errorf("Payload %q: expected status 202, got %d", payload, rr.Code)
		}
	}
}

func TestHandleIndex(t *testing.T) {
	_, router := setupTestServer(t, testSettings(), staticProcessor(dispatch.Outcome{}, nil))

	rr := serve(router, httptest.NewRequest("GET", "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "0123456789abcdef") || !strings.Contains(body, ">0123456<") {
		t.Errorf("Expected full and short commit in page, got:\n%s", body)
	}
	if strings.Contains(body, "{{") {
		t.Error("Expected all placeholders to be replaced")
	}

	rr = serve(router, httptest.NewRequest("HEAD", "/", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("Expected HEAD status 200, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Error("Expected empty body for HEAD")
	}
}

func TestRenderIndex_UnknownCommit(t *testing.T) {
	page, err := renderIndex(StaticFS(), "")
	if err != nil {
		t.Fatalf("renderIndex() error = %v", err)
	}
	if !strings.Contains(string(page), "???") {
		t.Error("Expected '???' when no commit is known")
	}

	page, err = renderIndex(StaticFS(), "abc")
	if err != nil {
		t.Fatalf("renderIndex() error = %v", err)
	}
	if !strings.Contains(string(page), ">abc<") {
		t.Error("Expected a short commit to be used as is")
	}
}

func TestHandleFavicon(t *testing.T) {
	_, router := setupTestServer(t, testSettings(), staticProcessor(dispatch.Outcome{}, nil))

	rr := serve(router, httptest.NewRequest("GET", "/favicon.ico", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/x-icon" {
		t.Errorf("Expected image/x-icon, got %s", ct)
	}
	if rr.Body.Len() == 0 {
		t.Error("Expected favicon bytes")
	}

	rr = serve(router, httptest.NewRequest("HEAD", "/favicon.ico", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("Expected HEAD status 200, got %d", rr.Code)
	}
}

func TestHandleFavicon_Missing(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := testSettings()
	server := NewServer(s, dispatch.New(1, staticProcessor(dispatch.Outcome{}, nil), logger), nil, logger, true)
	server.Assets = fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<p>{{ COMMIT }}</p>")},
	}

	router, err := server.Router()
	if err != nil {
		t.Fatalf("Failed to build router: %v", err)
	}

	rr := serve(router, httptest.NewRequest("GET", "/favicon.ico", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestRouter_UnknownRoutes(t *testing.T) {
	_, router := setupTestServer(t, testSettings(), staticProcessor(dispatch.Outcome{}, nil))

	rr := serve(router, httptest.NewRequest("GET", "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}

	rr = serve(router, httptest.NewRequest("GET", "/marketplace/", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rr.Code)
	}

	rr = serve(router, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected /metrics to be absent when disabled, got %d", rr.Code)
	}
}

func TestHandleWebhook_RecordsDeliveries(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hist, err := history.NewHistory(filepath.Join(t.TempDir(), "deliveries.db"))
	if err != nil {
		t.Fatalf("Failed to create history: %v", err)
	}
	defer hist.Close()

	s := testSettings()
	d := dispatch.New(1, staticProcessor(dispatch.Outcome{ActionTaken: true, Message: "done"}, nil), logger)
	server := NewServer(s, d, hist, logger, true)
	router, err := server.Router()
	if err != nil {
		t.Fatalf("Failed to build router: %v", err)
	}

	req := signedRequest("/", []byte(`{}`), testSecret)
	req.Header.Set("X-GitHub-Delivery", "72d3162e-cc78-11e3-81ab-4c9367dc0958")
	req.Header.Set("X-GitHub-Event", "issue_comment")
	serve(router, req)

	serve(router, signedRequest("/marketplace/", []byte(`{}`), "wrong-secret-32-chars-long-xxxxxxx"))

	records, err := hist.GetRecentDeliveries(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("Failed to read deliveries: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", len(records))
	}

	byEndpoint := map[string]history.DeliveryRecord{}
	for _, rec := range records {
		byEndpoint[rec.Endpoint] = rec
	}

	webhook := byEndpoint[history.EndpointWebhook]
	if webhook.Status != http.StatusOK || webhook.Outcome != "processed" || webhook.Message != "done" {
		t.Errorf("Unexpected webhook record: %+v", webhook)
	}
	if webhook.DeliveryID == nil || *webhook.DeliveryID != "72d3162e-cc78-11e3-81ab-4c9367dc0958" {
		t.Errorf("Expected delivery id to be recorded, got %v", webhook.DeliveryID)
	}
	if webhook.Event == nil || *webhook.Event != "issue_comment" {
		t.Errorf("Expected event to be recorded, got %v", webhook.Event)
	}

	marketplace := byEndpoint[history.EndpointMarketplace]
	if marketplace.Status != http.StatusForbidden || marketplace.Outcome != "signature_mismatch" {
		t.Errorf("Unexpected marketplace record: %+v", marketplace)
	}
	if marketplace.DeliveryID != nil {
		t.Errorf("Expected no delivery id, got %v", *marketplace.DeliveryID)
	}
}

func TestRateLimiting(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewRateLimitMiddleware(60, 2, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	request := func(ip string) int {
		req := httptest.NewRequest("POST", "/", nil)
		req.RemoteAddr = ip
		return serve(handler, req).Code
	}

	if code := request("192.0.2.1:1234"); code != http.StatusOK {
		t.Errorf("Request 1: expected 200, got %d", code)
	}
	if code := request("192.0.2.1:1234"); code != http.StatusOK {
		t.Errorf("Request 2: expected 200, got %d", code)
	}
	if code := request("192.0.2.1:1234"); code != http.StatusTooManyRequests {
		t.Errorf("Request 3: expected 429, got %d", code)
	}
	if code := request("192.0.2.1:5678"); code != http.StatusTooManyRequests {
		t.Errorf("Same IP, new port: expected 429, got %d", code)
	}
	if code := request("192.0.2.2:1234"); code != http.StatusOK {
		t.Errorf("Other IP: expected 200, got %d", code)
	}
}

func TestHandleWebhook_MalformedHeaderLogsHeader(t *testing.T) {
	server, router := setupTestServer(t, testSettings(), staticProcessor(dispatch.Outcome{}, nil))
	var logs bytes.Buffer
	server.Logger = slog.New(slog.NewJSONHandler(&logs, nil))

	req := httptest.NewRequest("POST", "/", strings.NewReader(`{}`))
	req.Header.Set(SignatureHeader, "sha256=foobar")
	serve(router, req)

	if !strings.Contains(logs.String(), `"x_hub_signature_256":"sha256=foobar"`) {
		t.Errorf("Expected the received header in the log, got:\n%s", logs.String())
	}
}

// setupBlockingServer runs a processor that only returns once the test ends.
func setupBlockingServer(t *testing.T) (*Server, http.Handler, *history.History, <-chan struct{}) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hist, err := history.NewHistory(filepath.Join(t.TempDir(), "deliveries.db"))
	if err != nil {
		t.Fatalf("Failed to create history: %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	proc := dispatch.ProcessorFunc(func(ctx context.Context, body []byte, s *settings.Settings) (dispatch.Outcome, error) {
		started <- struct{}{}
		<-release
		return dispatch.Outcome{ActionTaken: true, Message: "too late"}, nil
	})

	s := testSettings()
	d := dispatch.New(1, proc, logger)
	t.Cleanup(func() {
		close(release)
		d.Wait()
	})

	server := NewServer(s, d, hist, logger, true)
	router, err := server.Router()
	if err != nil {
		t.Fatalf("Failed to build router: %v", err)
	}
	return server, router, hist, started
}

func assertAbandoned(t *testing.T, server *Server, hist *history.History, status int) {
	t.Helper()

	if got := testutil.ToFloat64(server.Metrics.HTTPRequestsTotal.WithLabelValues("POST", "/", strconv.Itoa(status))); got != 1 {
		t.Errorf("Expected 1 request counted with status %d, got %v", status, got)
	}
	if got := testutil.ToFloat64(server.Metrics.HTTPRequestsTotal.WithLabelValues("POST", "/", "0")); got != 0 {
		t.Errorf("Expected no request counted with status 0, got %v", got)
	}

	records, err := hist.GetRecentDeliveries(context.Background(), history.EndpointWebhook, 10)
	if err != nil {
		t.Fatalf("Failed to read deliveries: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(records))
	}
	if records[0].Status != status || records[0].Outcome != "abandoned" {
		t.Errorf("Unexpected delivery record: %+v", records[0])
	}
}

func TestHandleWebhook_ClientDisconnect(t *testing.T) {
	server, router, hist, started := setupBlockingServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	rr := serve(router, signedRequest("/", []byte(`{}`), testSecret).WithContext(ctx))

	if rr.Code != statusClientClosedRequest {
		t.Fatalf("Expected status %d, got %d", statusClientClosedRequest, rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("Expected no body for a departed client, got %q", rr.Body.String())
	}
	assertAbandoned(t, server, hist, statusClientClosedRequest)
}

func TestHandleWebhook_Timeout(t *testing.T) {
	server, router, hist, _ := setupBlockingServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	rr := serve(router, signedRequest("/", []byte(`{}`), testSecret).WithContext(ctx))

	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("Expected status 504, got %d", rr.Code)
	}
	assertAbandoned(t, server, hist, http.StatusGatewayTimeout)
}
