package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"serialtrust/internal/config"
	"serialtrust/internal/infra/crypto"
	"serialtrust/internal/infra/memstore"
	"serialtrust/internal/infra/ratelimit"
	"serialtrust/internal/usecase"
	"serialtrust/pkg/factoryclient"

	"github.com/gin-gonic/gin"
)

const testAdminKey = "test-admin-key"

func newTestServer(t *testing.T, registerLimit int) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		FreshnessWindowSeconds: 300,
		RateLimitRead:          100,
		RateLimitWrite:         100,
		RateLimitRegister:      registerLimit,
		RateLimitWindowSeconds: 60,
	}

	registry := usecase.NewFactoryKeyRegistry(memstore.NewRegistrations())
	serials := memstore.NewSerials()
	coordinator := usecase.NewUploadCoordinator(serials, nil)
	gateway := usecase.NewIngestionGateway(registry, crypto.NewService(), coordinator, serials)
	gateway.FreshnessWindow = cfg.FreshnessWindow()

	return NewServerWithDeps(cfg, ServerDeps{
		Registry:    registry,
		Coordinator: coordinator,
		Gateway:     gateway,
		RateLimiter: ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{}),
		AdminAPIKey: testAdminKey,
	})
}

func doJSON(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func uploadRequest(t *testing.T, path string, pair *factoryclient.KeyPair, factory string, payload []byte, extra map[string]string) *http.Request {
	t.Helper()
	timestamp := time.Now().Unix()
	signature, err := factoryclient.SignPayload(pair.Private, timestamp, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "serials.csv")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Timestamp", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-Signature", signature)
	req.Header.Set("X-Factory-ID", factory)
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	return req
}

func registerAndApprove(t *testing.T, srv *Server, factory string, pair *factoryclient.KeyPair) {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/register_public_key", map[string]string{
		"factory_name": factory,
		"public_key":   pair.PublicKeyBase64,
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	id := int64(body["request_id"].(float64))

	w = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/admin/approve_request/%d", id),
		map[string]string{"approved_by": "tester"},
		map[string]string{"X-Admin-Key": testAdminKey})
	if w.Code != http.StatusOK {
		t.Fatalf("approve: status %d body %s", w.Code, w.Body.String())
	}
}

func TestServerRegisterApproveUploadVerify(t *testing.T) {
	srv := newTestServer(t, 10)
	pair, err := factoryclient.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}

	// An unapproved factory cannot upload, whatever it signs.
	w := doJSON(t, srv, http.MethodPost, "/register_public_key", map[string]string{
		"factory_name": "shenzhen-a",
		"public_key":   pair.PublicKeyBase64,
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register: status %d", w.Code)
	}
	payload := []byte("A001,4023\n")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, uploadRequest(t, "/add_serials", pair, "shenzhen-a", payload, nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unapproved upload: status %d body %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["code"] != "KEY_NOT_APPROVED" {
		t.Fatalf("code %v", decodeBody(t, rec)["code"])
	}

	// Approve, then the same upload lands.
	body := decodeBody(t, w)
	id := int64(body["request_id"].(float64))
	w = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/admin/approve_request/%d", id), nil,
		map[string]string{"X-Admin-Key": testAdminKey})
	if w.Code != http.StatusOK {
		t.Fatalf("approve: status %d body %s", w.Code, w.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, uploadRequest(t, "/add_serials", pair, "shenzhen-a", payload, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: status %d body %s", rec.Code, rec.Body.String())
	}
	result := decodeBody(t, rec)
	if result["status"] != "accepted" || result["inserted"] != float64(1) {
		t.Fatalf("result %v", result)
	}

	// The serial is now publicly verifiable.
	req := httptest.NewRequest(http.MethodGet, "/verify?sn=K1S-A001-FB7", nil)
	rec = httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: status %d body %s", rec.Code, rec.Body.String())
	}
	verify := decodeBody(t, rec)
	if verify["status"] != "Authentic" || verify["provenance"] != "shenzhen-a" {
		t.Fatalf("verify %v", verify)
	}

	// Unknown serials are a plain not-found.
	req = httptest.NewRequest(http.MethodGet, "/verify?sn=K1S-Z999-FB7", nil)
	rec = httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing serial: status %d", rec.Code)
	}
	// Malformed serials fail validation before lookup.
	req = httptest.NewRequest(http.MethodGet, "/verify?sn=no!", nil)
	rec = httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid serial: status %d", rec.Code)
	}
}

func TestServerChunkedUpload(t *testing.T) {
	srv := newTestServer(t, 10)
	pair, err := factoryclient.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	registerAndApprove(t, srv, "factory-c", pair)

	chunks := [][]byte{
		[]byte("A001,4023\n"),
		[]byte("B202,4023\n"),
	}
	send := func(idx int) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.Engine().ServeHTTP(rec, uploadRequest(t, "/add_chunk_serials", pair, "factory-c", chunks[idx], map[string]string{
			"X-Batch-ID":     "batch-9",
			"X-Chunk-Index":  strconv.Itoa(idx),
			"X-Total-Chunks": "2",
		}))
		return rec
	}

	rec := send(1)
	if rec.Code != http.StatusOK {
		t.Fatalf("chunk 1: status %d body %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["status"] != "queued" {
		t.Fatalf("chunk 1 body %s", rec.Body.String())
	}

	// Queue status reflects the held chunk.
	statusRec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(statusRec, httptest.NewRequest(http.MethodGet, "/queue_status?factory=factory-c", nil))
	if statusRec.Code != http.StatusOK {
		t.Fatalf("queue status: %d", statusRec.Code)
	}
	status := decodeBody(t, statusRec)
	if status["pending_uploads"] != float64(1) {
		t.Fatalf("status %v", status)
	}

	rec = send(0)
	if rec.Code != http.StatusOK {
		t.Fatalf("chunk 0: status %d body %s", rec.Code, rec.Body.String())
	}
	result := decodeBody(t, rec)
	if result["status"] != "accepted" || result["inserted"] != float64(2) {
		t.Fatalf("result %v", result)
	}
}

func TestServerRegistrationRateLimit(t *testing.T) {
	srv := newTestServer(t, 1)
	pair, err := factoryclient.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}

	w := doJSON(t, srv, http.MethodPost, "/register_public_key", map[string]string{
		"factory_name": "factory-r",
		"public_key":   pair.PublicKeyBase64,
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("first register: status %d", w.Code)
	}

	w = doJSON(t, srv, http.MethodPost, "/register_public_key", map[string]string{
		"factory_name": "factory-r2",
		"public_key":   pair.PublicKeyBase64,
	}, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second register: status %d body %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestServerMissingAuthHeaders(t *testing.T) {
	srv := newTestServer(t, 10)

	req := httptest.NewRequest(http.MethodPost, "/add_serials", bytes.NewReader([]byte("A001,4023\n")))
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["code"] != "MISSING_AUTH_HEADERS" {
		t.Fatalf("body %s", rec.Body.String())
	}
}

func TestServerAdminAuth(t *testing.T) {
	srv := newTestServer(t, 10)

	w := doJSON(t, srv, http.MethodGet, "/admin/registration_requests", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no key: status %d", w.Code)
	}
	w = doJSON(t, srv, http.MethodGet, "/admin/registration_requests", nil,
		map[string]string{"X-Admin-Key": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: status %d", w.Code)
	}
	w = doJSON(t, srv, http.MethodGet, "/admin/registration_requests", nil,
		map[string]string{"X-Admin-Key": testAdminKey})
	if w.Code != http.StatusOK {
		t.Fatalf("right key: status %d body %s", w.Code, w.Body.String())
	}
}

func TestServerRevokeCutsOffUploads(t *testing.T) {
	srv := newTestServer(t, 10)
	pair, err := factoryclient.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	registerAndApprove(t, srv, "factory-x", pair)

	w := doJSON(t, srv, http.MethodGet, "/admin/registration_requests", nil,
		map[string]string{"X-Admin-Key": testAdminKey})
	var listing struct {
		Requests []struct {
			ID int64 `json:"id"`
		} `json:"requests"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Requests) != 1 {
		t.Fatalf("requests %d", len(listing.Requests))
	}

	w = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/admin/revoke_request/%d", listing.Requests[0].ID), nil,
		map[string]string{"X-Admin-Key": testAdminKey})
	if w.Code != http.StatusOK {
		t.Fatalf("revoke: status %d body %s", w.Code, w.Body.String())
	}

	payload := []byte("A001,4023\n")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, uploadRequest(t, "/add_serials", pair, "factory-x", payload, nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("upload after revoke: status %d body %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["code"] != "KEY_NOT_APPROVED" {
		t.Fatalf("body %s", rec.Body.String())
	}
}
