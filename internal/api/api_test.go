package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/podari/internal/auth"
	"github.com/erazemk/podari/internal/db"
	"github.com/erazemk/podari/internal/metrics"
	"github.com/erazemk/podari/internal/model"
	"github.com/erazemk/podari/internal/notify"
	"github.com/erazemk/podari/internal/store"
	"github.com/erazemk/podari/internal/workflow"
)

const testJWTSecret = "test-secret"

// syncNotifier delivers straight to the sink so tests can read
// notifications back without waiting on a dispatcher.
type syncNotifier struct {
	sink notify.Sink
}

func (n syncNotifier) Enqueue(ctx context.Context, batch []model.Notification) {
	n.sink.Deliver(ctx, batch)
}

type testServer struct {
	*httptest.Server
	t          *testing.T
	adminToken string
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	database := db.NewTestDB(t)

	a := auth.NewAuthenticator(database, testJWTSecret, time.Hour, nil)
	a.HashCost = bcrypt.MinCost

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	flow, err := workflow.New(database,
		workflow.WithNotifier(syncNotifier{sink: &notify.StoreSink{DB: database}}),
		workflow.WithMetrics(m),
	)
	if err != nil {
		t.Fatal(err)
	}

	router := NewRouter(Deps{
		Auth:        a,
		Workflow:    flow,
		Metrics:     m,
		Gatherer:    reg,
		CORSOrigins: []string{"https://app.example.com"},
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	// Administrators cannot self-register.
	hash, _ := auth.HashPassword("password123", bcrypt.MinCost)
	if _, err := store.CreateUser(context.Background(), database, "Admin", "admin@example.com", hash, model.RoleAdmin, ""); err != nil {
		t.Fatalf("creating admin: %v", err)
	}

	ts := &testServer{Server: server, t: t}
	ts.adminToken = ts.login("admin@example.com", "password123")
	return ts
}

func (ts *testServer) do(method, path, token string, body any) *http.Response {
	ts.t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		ts.t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.t.Fatalf("%s %s: %v", method, path, err)
	}
	ts.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// expect performs a request, checks the status and decodes the body into out.
func (ts *testServer) expect(status int, method, path, token string, body, out any) {
	ts.t.Helper()
	resp := ts.do(method, path, token, body)
	if resp.StatusCode != status {
		data, _ := io.ReadAll(resp.Body)
		ts.t.Fatalf("%s %s: expected %d, got %d: %s", method, path, status, resp.StatusCode, data)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			ts.t.Fatalf("decoding %s %s: %v", method, path, err)
		}
	}
}

// expectError checks both the status and the stable error code.
func (ts *testServer) expectError(status int, code, method, path, token string, body any) {
	ts.t.Helper()
	var e errorBody
	ts.expect(status, method, path, token, body, &e)
	if string(e.Code) != code {
		ts.t.Fatalf("%s %s: expected code %q, got %q (%s)", method, path, code, e.Code, e.Error)
	}
	if e.Error == "" {
		ts.t.Fatalf("%s %s: empty error message", method, path)
	}
}

func (ts *testServer) login(email, password string) string {
	ts.t.Helper()
	var resp tokenResponse
	ts.expect(http.StatusOK, "POST", "/api/auth/login", "", map[string]string{"email": email, "password": password}, &resp)
	if resp.Token == "" {
		ts.t.Fatal("empty token from login")
	}
	return resp.Token
}

func (ts *testServer) register(email, role string) (*model.User, string) {
	ts.t.Helper()
	var resp tokenResponse
	ts.expect(http.StatusCreated, "POST", "/api/auth/register", "", map[string]string{
		"name": "User " + email, "email": email, "password": "password123", "role": role,
	}, &resp)
	return resp.User, resp.Token
}

func (ts *testServer) submit(token string, price int64) *model.Item {
	ts.t.Helper()
	var item model.Item
	ts.expect(http.StatusCreated, "POST", "/api/items", token, map[string]any{
		"title": "Calculus", "author": "Spivak", "category": "mathematics",
		"condition": "good", "reference_price": price,
	}, &item)
	return &item
}

func (ts *testServer) review(token string, id int64, decision string) *model.Item {
	ts.t.Helper()
	var item model.Item
	ts.expect(http.StatusOK, "POST", fmt.Sprintf("/api/items/%d/review", id), token, map[string]string{"decision": decision}, &item)
	return &item
}

func (ts *testServer) me(token string) *model.User {
	ts.t.Helper()
	var u model.User
	ts.expect(http.StatusOK, "GET", "/api/me", token, nil, &u)
	return &u
}

func TestHealthAndMetrics(t *testing.T) {
	ts := setupTestServer(t)

	ts.expect(http.StatusOK, "GET", "/healthz", "", nil, nil)

	resp := ts.do("GET", "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "podari_http_request_duration_seconds") {
		t.Error("expected HTTP latency histogram in metrics output")
	}
}

func TestLoginEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	ts.expectError(http.StatusUnauthorized, "unauthenticated", "POST", "/api/auth/login", "",
		map[string]string{"email": "admin@example.com", "password": "wrong-password"})
	ts.expectError(http.StatusBadRequest, "validation", "POST", "/api/auth/login", "",
		map[string]string{"email": "admin@example.com"})

	// Email lookup is case-insensitive.
	ts.login("ADMIN@example.com", "password123")
}

func TestRegisterEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	u, token := ts.register("reader@example.com", "")
	if u.Role != model.RoleContributor {
		t.Errorf("expected default role contributor, got %q", u.Role)
	}
	if got := ts.me(token); got.ID != u.ID || got.Points != 0 {
		t.Errorf("unexpected profile: %+v", got)
	}

	ts.expectError(http.StatusBadRequest, "validation", "POST", "/api/auth/register", "", map[string]string{
		"name": "X", "email": "reader@example.com", "password": "password123",
	})
	ts.expectError(http.StatusBadRequest, "validation", "POST", "/api/auth/register", "", map[string]string{
		"name": "X", "email": "boss@example.com", "password": "password123", "role": "administrator",
	})
}

func TestUnauthenticatedRequests(t *testing.T) {
	ts := setupTestServer(t)

	ts.expectError(http.StatusUnauthorized, "unauthenticated", "GET", "/api/items", "", nil)
	ts.expectError(http.StatusUnauthorized, "unauthenticated", "GET", "/api/items", "not-a-token", nil)
}

func TestLogoutRevokesToken(t *testing.T) {
	ts := setupTestServer(t)
	_, token := ts.register("leaver@example.com", model.RoleContributor)

	ts.expect(http.StatusNoContent, "POST", "/api/auth/logout", token, nil, nil)
	ts.expectError(http.StatusUnauthorized, "unauthenticated", "GET", "/api/me", token, nil)
}

func TestChangePassword(t *testing.T) {
	ts := setupTestServer(t)
	_, token := ts.register("changer@example.com", model.RoleContributor)

	ts.expectError(http.StatusUnauthorized, "unauthenticated", "PUT", "/api/auth/password", token,
		map[string]string{"current_password": "wrong-password", "new_password": "newpassword1"})
	ts.expect(http.StatusOK, "PUT", "/api/auth/password", token,
		map[string]string{"current_password": "password123", "new_password": "newpassword1"}, nil)
	ts.login("changer@example.com", "newpassword1")
}

func TestDonationLifecycle(t *testing.T) {
	ts := setupTestServer(t)
	donor, donorToken := ts.register("donor@example.com", model.RoleContributor)
	_, reviewerToken := ts.register("reviewer@example.com", model.RoleReviewer)
	_, buyerToken := ts.register("buyer@example.com", model.RoleContributor)

	item := ts.submit(donorToken, 1000)
	if item.Status != model.ItemStatusPending || item.Category != "Mathematics" {
		t.Fatalf("unexpected submitted item: %+v", item)
	}

	// Contributors cannot review.
	ts.expectError(http.StatusForbidden, "forbidden", "POST", fmt.Sprintf("/api/items/%d/review", item.ID), buyerToken,
		map[string]string{"decision": "approve"})

	// Reviewers see the pending queue.
	var pending []model.Item
	ts.expect(http.StatusOK, "GET", "/api/items?status=pending", reviewerToken, nil, &pending)
	if len(pending) != 1 || pending[0].ID != item.ID {
		t.Fatalf("expected pending item in queue, got %+v", pending)
	}

	// Others cannot see the pending item.
	ts.expectError(http.StatusNotFound, "not_found", "GET", fmt.Sprintf("/api/items/%d", item.ID), buyerToken, nil)

	approved := ts.review(reviewerToken, item.ID, "approve")
	if approved.RedemptionPrice == nil || *approved.RedemptionPrice != 600 {
		t.Fatalf("expected redemption price 600, got %v", approved.RedemptionPrice)
	}
	if got := ts.me(donorToken).Points; got != 400 {
		t.Errorf("expected donor balance 400, got %d", got)
	}

	ts.expectError(http.StatusConflict, "invalid_state", "POST", fmt.Sprintf("/api/items/%d/review", item.ID), reviewerToken,
		map[string]string{"decision": "reject"})

	redeemPath := fmt.Sprintf("/api/items/%d/redeem", item.ID)
	ts.expectError(http.StatusUnprocessableEntity, "self_redemption", "POST", redeemPath, donorToken, nil)
	ts.expectError(http.StatusUnprocessableEntity, "insufficient_balance", "POST", redeemPath, buyerToken, nil)

	// Fund the buyer with their own approved donation.
	funding := ts.submit(buyerToken, 1500)
	ts.review(reviewerToken, funding.ID, "approve")
	if got := ts.me(buyerToken).Points; got != 600 {
		t.Fatalf("expected buyer balance 600, got %d", got)
	}

	var redeemed model.Item
	ts.expect(http.StatusOK, "POST", redeemPath, buyerToken, nil, &redeemed)
	if redeemed.Status != model.ItemStatusRedeemed {
		t.Errorf("expected redeemed, got %q", redeemed.Status)
	}
	if got := ts.me(buyerToken).Points; got != 0 {
		t.Errorf("expected buyer balance 0, got %d", got)
	}

	var ledger []model.LedgerEntry
	ts.expect(http.StatusOK, "GET", "/api/me/ledger", buyerToken, nil, &ledger)
	if len(ledger) != 2 || ledger[0].Kind != model.LedgerKindDebit || ledger[0].Amount != 600 {
		t.Errorf("unexpected buyer ledger: %+v", ledger)
	}

	var rec model.Reconciliation
	ts.expect(http.StatusOK, "GET", fmt.Sprintf("/api/users/%d/reconcile", donor.ID), ts.adminToken, nil, &rec)
	if !rec.Balanced || rec.Derived != 400 {
		t.Errorf("unexpected reconciliation: %+v", rec)
	}
}

func TestNotificationEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	_, donorToken := ts.register("donor@example.com", model.RoleContributor)
	_, reviewerToken := ts.register("reviewer@example.com", model.RoleReviewer)

	item := ts.submit(donorToken, 100)
	ts.review(reviewerToken, item.ID, "reject")

	var inbox []model.Notification
	ts.expect(http.StatusOK, "GET", "/api/me/notifications?unread=true", reviewerToken, nil, &inbox)
	if len(inbox) != 1 || inbox[0].Category != model.NotifyItemSubmitted {
		t.Fatalf("expected one submission notice for reviewer, got %+v", inbox)
	}

	ts.expect(http.StatusOK, "GET", "/api/me/notifications", donorToken, nil, &inbox)
	if len(inbox) != 1 || inbox[0].Category != model.NotifyItemRejected {
		t.Fatalf("expected one rejection notice for donor, got %+v", inbox)
	}

	// The reviewer cannot mark the donor's notification.
	ts.expectError(http.StatusNotFound, "not_found", "POST", fmt.Sprintf("/api/me/notifications/%d/read", inbox[0].ID), reviewerToken, nil)
	ts.expect(http.StatusNoContent, "POST", fmt.Sprintf("/api/me/notifications/%d/read", inbox[0].ID), donorToken, nil, nil)

	var result map[string]int64
	ts.expect(http.StatusOK, "POST", "/api/me/notifications/read-all", reviewerToken, nil, &result)
	if result["updated"] != 1 {
		t.Errorf("expected 1 updated, got %v", result)
	}
	ts.expect(http.StatusOK, "GET", "/api/me/notifications?unread=true", reviewerToken, nil, &inbox)
	if len(inbox) != 0 {
		t.Errorf("expected empty unread inbox, got %d", len(inbox))
	}
}

func TestListItemsFilters(t *testing.T) {
	ts := setupTestServer(t)
	donor, donorToken := ts.register("donor@example.com", model.RoleContributor)
	_, reviewerToken := ts.register("reviewer@example.com", model.RoleReviewer)
	_, otherToken := ts.register("other@example.com", model.RoleContributor)

	public := ts.submit(donorToken, 100)
	ts.review(reviewerToken, public.ID, "approve")
	hidden := ts.submit(donorToken, 100)

	var items []model.Item
	ts.expect(http.StatusOK, "GET", "/api/items", otherToken, nil, &items)
	if len(items) != 1 || items[0].ID != public.ID {
		t.Errorf("expected only the approved item, got %+v", items)
	}

	ts.expect(http.StatusOK, "GET", fmt.Sprintf("/api/items?donor_id=%d", donor.ID), donorToken, nil, &items)
	if len(items) != 2 || items[0].ID != hidden.ID {
		t.Errorf("expected both own items newest first, got %+v", items)
	}

	ts.expect(http.StatusOK, "GET", "/api/items?category=MATHEMATICS&status=approved", reviewerToken, nil, &items)
	if len(items) != 1 {
		t.Errorf("expected one approved mathematics item, got %d", len(items))
	}

	ts.expectError(http.StatusBadRequest, "validation", "GET", "/api/items?status=lost", otherToken, nil)
	ts.expectError(http.StatusBadRequest, "validation", "GET", "/api/items?category=Poetry", otherToken, nil)
	ts.expectError(http.StatusBadRequest, "validation", "GET", "/api/items?donor_id=x", otherToken, nil)
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func (ts *testServer) upload(token string, itemID int64, data []byte) *http.Response {
	ts.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("image", "cover.png")
	part.Write(data)
	mw.Close()

	req, _ := http.NewRequest("PUT", fmt.Sprintf("%s/api/items/%d/images", ts.URL, itemID), &body)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.t.Fatal(err)
	}
	ts.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestImageUploadAndGet(t *testing.T) {
	ts := setupTestServer(t)
	_, donorToken := ts.register("donor@example.com", model.RoleContributor)
	_, otherToken := ts.register("other@example.com", model.RoleContributor)
	_, reviewerToken := ts.register("reviewer@example.com", model.RoleReviewer)
	item := ts.submit(donorToken, 100)

	resp := ts.upload(donorToken, item.ID, testPNG(t, 1600, 800))
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var updated model.Item
	json.NewDecoder(resp.Body).Decode(&updated)
	want := fmt.Sprintf("/api/items/%d/images/0", item.ID)
	if len(updated.Images) != 1 || updated.Images[0] != want {
		t.Fatalf("expected image ref %q, got %v", want, updated.Images)
	}

	if resp := ts.upload(donorToken, item.ID, []byte("not an image")); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for garbage upload, got %d", resp.StatusCode)
	}
	// Non-donors cannot see a pending item, so it does not exist for them.
	if resp := ts.upload(otherToken, item.ID, testPNG(t, 10, 10)); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for non-donor upload, got %d", resp.StatusCode)
	}

	resp = ts.do("GET", want, donorToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get image: expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %q", ct)
	}
	cfg, _, err := image.DecodeConfig(resp.Body)
	if err != nil {
		t.Fatalf("decoding served image: %v", err)
	}
	if cfg.Width != 1024 || cfg.Height != 512 {
		t.Errorf("expected 1024x512, got %dx%d", cfg.Width, cfg.Height)
	}

	ts.expectError(http.StatusNotFound, "not_found", "GET", fmt.Sprintf("/api/items/%d/images/3", item.ID), donorToken, nil)

	// Approved items no longer accept images.
	ts.review(reviewerToken, item.ID, "approve")
	if resp := ts.upload(donorToken, item.ID, testPNG(t, 10, 10)); resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 after approval, got %d", resp.StatusCode)
	}
}

func TestAdminEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	user, token := ts.register("promote@example.com", model.RoleContributor)

	ts.expectError(http.StatusForbidden, "forbidden", "GET", "/api/users", token, nil)
	ts.expectError(http.StatusForbidden, "forbidden", "GET", "/api/stats", token, nil)

	var users []model.User
	ts.expect(http.StatusOK, "GET", "/api/users?role=contributor", ts.adminToken, nil, &users)
	if len(users) != 1 || users[0].ID != user.ID {
		t.Errorf("expected one contributor, got %+v", users)
	}

	_, donorToken := ts.register("donor@example.com", model.RoleContributor)
	donated := ts.submit(donorToken, 100)
	reviewPath := fmt.Sprintf("/api/items/%d/review", donated.ID)
	ts.expectError(http.StatusForbidden, "forbidden", "POST", reviewPath, token, map[string]string{"decision": "approve"})

	var promoted model.User
	ts.expect(http.StatusOK, "PUT", fmt.Sprintf("/api/users/%d/role", user.ID), ts.adminToken,
		map[string]string{"role": model.RoleReviewer}, &promoted)
	if promoted.Role != model.RoleReviewer {
		t.Errorf("expected reviewer, got %q", promoted.Role)
	}

	// The token issued before the promotion now carries reviewer rights.
	var reviewed model.Item
	ts.expect(http.StatusOK, "POST", reviewPath, token, map[string]string{"decision": "approve"}, &reviewed)
	if reviewed.Status != model.ItemStatusApproved {
		t.Errorf("expected approved, got %q", reviewed.Status)
	}
	ts.expect(http.StatusCreated, "POST", "/api/items", token, map[string]any{
		"title": "T", "author": "A", "category": "Other", "condition": "fair", "reference_price": 10,
	}, nil)

	ts.expectError(http.StatusBadRequest, "validation", "PUT", fmt.Sprintf("/api/users/%d/role", user.ID), ts.adminToken,
		map[string]string{"role": "owner"})
	ts.expectError(http.StatusNotFound, "not_found", "PUT", "/api/users/9999/role", ts.adminToken,
		map[string]string{"role": model.RoleReviewer})

	var stats model.Stats
	ts.expect(http.StatusOK, "GET", "/api/stats", ts.adminToken, nil, &stats)
	if stats.UsersByRole[model.RoleReviewer] != 1 ||
		stats.ItemsByStatus[model.ItemStatusPending] != 1 ||
		stats.ItemsByStatus[model.ItemStatusApproved] != 1 ||
		stats.PointsAwarded != 40 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := setupTestServer(t)

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/api/items", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("unexpected allow-origin %q", got)
	}

	req.Header.Set("Origin", "https://evil.example.com")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow-origin for unknown origin, got %q", got)
	}
}
