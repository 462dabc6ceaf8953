package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"guardline/internal/config"
	"guardline/internal/db"
	"guardline/internal/engine"
	"guardline/internal/engine/access"
	"guardline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	ctx := context.Background()
	if _, err := e.CreateTenant(ctx, "acme", "Acme Contracting", "checker@acme.test"); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if err := e.AddActor(ctx, "maker@acme.test", "acme", access.RoleMaker); err != nil {
		t.Fatalf("add maker: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.close() }
}

func mintToken(t *testing.T, email, tenant, role string) string {
	t.Helper()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: email},
		TenantID:         tenant,
		Role:             role,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func authHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createRecordHTTP(t *testing.T, srv *testServer, token string) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/records", map[string]any{
		"lg_number":   "LG-2024-001",
		"beneficiary": "Ministry of Works",
		"currency":    "EGP",
		"amount":      1500000,
		"expiry_date": "2024-12-31T00:00:00Z",
	}, authHeader(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create record: status %d: %s", res.StatusCode, data)
	}
	var rec struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &rec); err != nil || rec.ID == "" {
		t.Fatalf("record body: %s", data)
	}
	return rec.ID
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/records", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code != "unauthorized" {
		t.Fatalf("envelope: %s", data)
	}
}

func TestRecordLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	maker := mintToken(t, "maker@acme.test", "acme", access.RoleMaker)
	recID := createRecordHTTP(t, srv, maker)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/records/"+recID+"/extend", map[string]any{
		"new_expiry_date": "2025-06-30T00:00:00Z",
	}, authHeader(maker))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("extend: status %d: %s", res.StatusCode, data)
	}
	var inst struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(data, &inst); err != nil || inst.ID <= 0 {
		t.Fatalf("instruction body: %s", data)
	}

	// Backdated expiry trips validation, mapped to 422.
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/records/"+recID+"/extend", map[string]any{
		"new_expiry_date": "2024-01-15T00:00:00Z",
	}, authHeader(maker))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("bad extend: status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/records/"+recID+"/timeline?all=true", nil, authHeader(maker))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("timeline: status %d: %s", res.StatusCode, data)
	}
	var vm struct {
		Entries []struct {
			Summary       string `json:"summary"`
			InstructionID *int64 `json:"instruction_id"`
		} `json:"entries"`
		AvailableTypes []string `json:"available_types"`
	}
	if err := json.Unmarshal(data, &vm); err != nil {
		t.Fatalf("timeline body: %s", data)
	}
	if len(vm.Entries) != 2 {
		t.Fatalf("want 2 entries, got %d: %s", len(vm.Entries), data)
	}
	if !strings.Contains(vm.Entries[0].Summary, "Extended expiry") {
		t.Fatalf("newest summary: %q", vm.Entries[0].Summary)
	}
	if vm.Entries[0].InstructionID == nil || *vm.Entries[0].InstructionID != inst.ID {
		t.Fatalf("instruction link missing: %s", data)
	}

	// Narrowing to the creation type drops the extension row.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/records/"+recID+"/timeline?types=LG_CREATED", nil, authHeader(maker))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("filtered timeline: status %d: %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &vm); err != nil || len(vm.Entries) != 1 {
		t.Fatalf("filtered timeline: %s", data)
	}
}

func TestForbiddenEnvelopeForViewer(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	maker := mintToken(t, "maker@acme.test", "acme", access.RoleMaker)
	recID := createRecordHTTP(t, srv, maker)

	viewer := mintToken(t, "viewer@acme.test", "acme", access.RoleViewer)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/records/"+recID+"/extend", map[string]any{
		"new_expiry_date": "2025-06-30T00:00:00Z",
	}, authHeader(viewer))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code != "forbidden" {
		t.Fatalf("envelope: %s", data)
	}
	if envelope.Error.Details["action"] != "record.mutate" {
		t.Fatalf("details: %s", data)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	admin := mintToken(t, "ops@guardline.test", "", access.RoleAdmin)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/apikeys", map[string]any{
		"actor_email": "maker@acme.test",
	}, authHeader(admin))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("mint key: status %d: %s", res.StatusCode, data)
	}
	var minted struct {
		Plaintext string `json:"plaintext"`
	}
	if err := json.Unmarshal(data, &minted); err != nil || minted.Plaintext == "" {
		t.Fatalf("mint body: %s", data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/records", nil, map[string]string{
		"X-API-Key": minted.Plaintext,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key list: status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/records", nil, map[string]string{
		"X-API-Key": "glk_bogus",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus key: status %d: %s", res.StatusCode, data)
	}
}

func TestWhoamiReflectsClaims(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	maker := mintToken(t, "maker@acme.test", "acme", access.RoleMaker)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/whoami", nil, authHeader(maker))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var who struct {
		Email    string `json:"email"`
		TenantID string `json:"tenant_id"`
		Role     string `json:"role"`
	}
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("body: %s", data)
	}
	if who.Email != "maker@acme.test" || who.TenantID != "acme" || who.Role != access.RoleMaker {
		t.Fatalf("principal: %+v", who)
	}
}

func TestTimelineCategoryQuery(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	maker := mintToken(t, "maker@acme.test", "acme", access.RoleMaker)
	recID := createRecordHTTP(t, srv, maker)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/records/"+recID+"/extend", map[string]any{
		"new_expiry_date": "2025-06-30T00:00:00Z",
	}, authHeader(maker))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("extend: status %d: %s", res.StatusCode, data)
	}

	// Core Milestones keeps both rows; Logistics has no members here.
	res, data = doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/v1/records/"+recID+"/timeline?category=Core+Milestones", nil, authHeader(maker))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("category timeline: status %d: %s", res.StatusCode, data)
	}
	var vm struct {
		Entries []struct {
			Summary string `json:"summary"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(data, &vm); err != nil || len(vm.Entries) != 2 {
		t.Fatalf("category timeline: %s", data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/v1/records/"+recID+"/timeline?category=Logistics", nil, authHeader(maker))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("logistics timeline: status %d: %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &vm); err != nil || len(vm.Entries) != 0 {
		t.Fatalf("logistics timeline: %s", data)
	}
}

func TestWebhookSubscriptionEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	checker := mintToken(t, "checker@acme.test", "acme", access.RoleChecker)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/webhooks", map[string]any{
		"url":    "https://hooks.acme.test/lg",
		"events": []string{"LG_EXTENDED"},
	}, authHeader(checker))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create webhook: status %d: %s", res.StatusCode, data)
	}
	var sub struct {
		ID       string `json:"id"`
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(data, &sub); err != nil || sub.ID == "" || sub.TenantID != "acme" {
		t.Fatalf("subscription body: %s", data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/webhooks", nil, authHeader(checker))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list webhooks: status %d: %s", res.StatusCode, data)
	}
	var listed struct {
		Webhooks []struct {
			ID string `json:"id"`
		} `json:"webhooks"`
	}
	if err := json.Unmarshal(data, &listed); err != nil || len(listed.Webhooks) != 1 {
		t.Fatalf("list body: %s", data)
	}

	// Makers cannot manage subscriptions.
	maker := mintToken(t, "maker@acme.test", "acme", access.RoleMaker)
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/webhooks", map[string]any{
		"url": "https://hooks.acme.test/other",
	}, authHeader(maker))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("maker create webhook: status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v1/webhooks/"+sub.ID, nil, authHeader(checker))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete webhook: status %d: %s", res.StatusCode, data)
	}
}

func TestTenantStatusRequiresAdmin(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	maker := mintToken(t, "maker@acme.test", "acme", access.RoleMaker)
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/tenants/acme/status", map[string]any{
		"status": "grace",
	}, authHeader(maker))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	admin := mintToken(t, "ops@guardline.test", "", access.RoleAdmin)
	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/tenants/acme/status", map[string]any{
		"status": "grace",
	}, authHeader(admin))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin set status: %d: %s", res.StatusCode, data)
	}
	// Grace now blocks mutations with the dedicated error code.
	recToken := mintToken(t, "maker@acme.test", "acme", access.RoleMaker)
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/records", map[string]any{
		"lg_number":   "LG-2024-002",
		"beneficiary": "Ministry of Works",
		"currency":    "EGP",
		"amount":      100,
		"expiry_date": "2024-12-31T00:00:00Z",
	}, authHeader(recToken))
	if res.StatusCode != http.StatusOK {
		// Creation itself is allowed during grace; instruction actions are not.
		t.Fatalf("create during grace: %d: %s", res.StatusCode, data)
	}
}
