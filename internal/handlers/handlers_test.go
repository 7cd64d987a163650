package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/4xmen/medchat/internal/access"
	"github.com/4xmen/medchat/internal/audit"
	"github.com/4xmen/medchat/internal/auth"
	"github.com/4xmen/medchat/internal/chat"
	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/internal/protocol"
	"github.com/4xmen/medchat/internal/store/sqlite"
	"github.com/4xmen/medchat/internal/store/storetest"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type nopEmitter struct{}

func (nopEmitter) BroadcastToRoom(string, protocol.Event) {}
func (nopEmitter) SendTo(string, protocol.Event)          {}
func (nopEmitter) IsOnline(context.Context, string) bool  { return true }

type testServer struct {
	router *gin.Engine
	store  *sqlite.Store
	auth   *auth.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := storetest.New(t)
	log := zap.NewNop()
	authSvc := auth.New(s, "test-jwt-secret")
	checker := access.NewChecker(s)
	recorder := audit.NewRecorder(s, nil, log)
	engine := chat.New(chat.Deps{Gate: checker, Messages: s, Emitter: nopEmitter{}, Auditor: recorder, Logger: log})

	set := &Set{
		Auth:          NewAuthHandler(authSvc, log),
		Messages:      NewMessageHandler(s, checker, engine, log),
		Subscriptions: NewSubscriptionHandler(s, s, checker, recorder, log),
		Admin:         NewAdminHandler(recorder, log),
		Push:          NewPushHandler(s, "public-key", log),
	}
	router := gin.New()
	set.Mount(router.Group("/api/v1"))

	return &testServer{router: router, store: s, auth: authSvc}
}

func (ts *testServer) token(t *testing.T, u *models.User) string {
	t.Helper()
	token, err := ts.auth.GenerateToken(u)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var out map[string]any
	json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
	}{
		{"valid patient", map[string]string{"username": "alice", "email": "alice@example.com", "password": "secret1", "role": "patient"}, http.StatusCreated},
		{"duplicate username", map[string]string{"username": "alice", "email": "other@example.com", "password": "secret1", "role": "patient"}, http.StatusConflict},
		{"admin role", map[string]string{"username": "mallory", "email": "m@example.com", "password": "secret1", "role": "admin"}, http.StatusBadRequest},
		{"missing fields", map[string]string{"username": "bob"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := ts.do(t, http.MethodPost, "/api/v1/auth/register", "", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %v)", w.Code, tt.wantStatus, body)
			}
		})
	}

	w, body := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "alice", "password": "secret1"})
	if w.Code != http.StatusOK || body["token"] == "" {
		t.Fatalf("login = %d %v", w.Code, body)
	}
	w, _ = ts.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "alice", "password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t)

	for _, token := range []string{"", "invalid"} {
		w, body := ts.do(t, http.MethodGet, "/api/v1/subscriptions/mine", token, nil)
		if w.Code != http.StatusUnauthorized || body["error"] != "Authentication required" {
			t.Errorf("token %q: %d %v", token, w.Code, body)
		}
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	patient := storetest.SeedUser(t, ts.store, "pat", models.RolePatient)
	doctor := storetest.SeedUser(t, ts.store, "doc", models.RoleDoctor)
	other := storetest.SeedUser(t, ts.store, "doc2", models.RoleDoctor)
	pt, dt, ot := ts.token(t, patient), ts.token(t, doctor), ts.token(t, other)

	// only patients request, and only doctors can be requested
	if w, _ := ts.do(t, http.MethodPost, "/api/v1/subscriptions", dt, map[string]any{"doctorId": other.ID}); w.Code != http.StatusForbidden {
		t.Errorf("doctor request status = %d", w.Code)
	}
	if w, _ := ts.do(t, http.MethodPost, "/api/v1/subscriptions", pt, map[string]any{"doctorId": patient.ID}); w.Code != http.StatusNotFound {
		t.Errorf("request to non-doctor status = %d", w.Code)
	}

	w, body := ts.do(t, http.MethodPost, "/api/v1/subscriptions", pt, map[string]any{"doctorId": doctor.ID, "requestMessage": "back pain", "consentGiven": true})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d %v", w.Code, body)
	}
	subID := body["data"].(map[string]any)["id"].(string)

	if w, _ := ts.do(t, http.MethodPost, "/api/v1/subscriptions", pt, map[string]any{"doctorId": doctor.ID}); w.Code != http.StatusConflict {
		t.Errorf("duplicate open request status = %d", w.Code)
	}

	if w, _ := ts.do(t, http.MethodGet, "/api/v1/subscriptions/"+subID, ot, nil); w.Code != http.StatusForbidden {
		t.Errorf("outsider get status = %d", w.Code)
	}
	if w, _ := ts.do(t, http.MethodGet, "/api/v1/subscriptions/"+subID, dt, nil); w.Code != http.StatusOK {
		t.Errorf("doctor get status = %d", w.Code)
	}

	if w, _ := ts.do(t, http.MethodPatch, "/api/v1/subscriptions/"+subID, ot, map[string]any{"status": "approved"}); w.Code != http.StatusForbidden {
		t.Errorf("other doctor respond status = %d", w.Code)
	}
	if w, _ := ts.do(t, http.MethodPatch, "/api/v1/subscriptions/"+subID, dt, map[string]any{"status": "maybe"}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid status respond = %d", w.Code)
	}
	w, body = ts.do(t, http.MethodPatch, "/api/v1/subscriptions/"+subID, dt, map[string]any{"status": "approved", "responseMessage": "see you"})
	if w.Code != http.StatusOK || body["data"].(map[string]any)["status"] != "approved" {
		t.Fatalf("approve = %d %v", w.Code, body)
	}
	if w, _ := ts.do(t, http.MethodPatch, "/api/v1/subscriptions/"+subID, dt, map[string]any{"status": "denied"}); w.Code != http.StatusConflict {
		t.Errorf("second respond status = %d", w.Code)
	}

	w, body = ts.do(t, http.MethodGet, "/api/v1/subscriptions/mine", pt, nil)
	if w.Code != http.StatusOK || len(body["subscriptions"].([]any)) != 1 {
		t.Errorf("mine = %d %v", w.Code, body)
	}

	if w, _ := ts.do(t, http.MethodPost, "/api/v1/subscriptions/"+subID+"/cancel", pt, nil); w.Code != http.StatusOK {
		t.Errorf("cancel status = %d", w.Code)
	}
	if w, _ := ts.do(t, http.MethodPost, "/api/v1/subscriptions/"+subID+"/cancel", pt, nil); w.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d", w.Code)
	}

	// a new request is allowed once the previous one is closed
	if w, _ := ts.do(t, http.MethodPost, "/api/v1/subscriptions", pt, map[string]any{"doctorId": doctor.ID}); w.Code != http.StatusCreated {
		t.Errorf("request after cancel status = %d", w.Code)
	}

	logs, err := ts.store.ListAudit(context.Background(), "", 10)
	if err != nil {
		t.Fatal(err)
	}
	var actions []string
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	want := []string{audit.ActionSubscriptionRequest, audit.ActionSubscriptionCancel, audit.ActionSubscriptionApprove, audit.ActionSubscriptionRequest}
	if fmt.Sprint(actions) != fmt.Sprint(want) {
		t.Errorf("audit actions = %v, want %v", actions, want)
	}
}

func TestMessagesEndpoints(t *testing.T) {
	ts := newTestServer(t)
	patient := storetest.SeedUser(t, ts.store, "pat", models.RolePatient)
	doctor := storetest.SeedUser(t, ts.store, "doc", models.RoleDoctor)
	outsider := storetest.SeedUser(t, ts.store, "eve", models.RolePatient)
	sub := storetest.SeedSubscription(t, ts.store, patient.ID, doctor.ID, models.SubscriptionApproved)
	pending := storetest.SeedSubscription(t, ts.store, outsider.ID, doctor.ID, models.SubscriptionRequested)
	pt, dt, et := ts.token(t, patient), ts.token(t, doctor), ts.token(t, outsider)

	var ids []string
	for i := 0; i < 3; i++ {
		w, body := ts.do(t, http.MethodPost, "/api/v1/messages", pt, map[string]any{"subscriptionId": sub.ID, "content": fmt.Sprintf("msg %d", i)})
		if w.Code != http.StatusCreated || body["message"] != "Message sent successfully" {
			t.Fatalf("send = %d %v", w.Code, body)
		}
		data := body["data"].(map[string]any)
		if data["status"] != models.StatusDelivered || data["toUserId"] != doctor.ID {
			t.Errorf("sent message = %v", data)
		}
		ids = append(ids, data["id"].(string))
	}

	if w, body := ts.do(t, http.MethodPost, "/api/v1/messages", et, map[string]any{"subscriptionId": pending.ID, "content": "hi"}); w.Code != http.StatusForbidden || body["error"] != "Access denied to this subscription" {
		t.Errorf("send on pending = %d %v", w.Code, body)
	}
	if w, _ := ts.do(t, http.MethodPost, "/api/v1/messages", pt, map[string]any{"subscriptionId": sub.ID, "content": "  "}); w.Code != http.StatusBadRequest {
		t.Errorf("blank send status = %d", w.Code)
	}

	w, body := ts.do(t, http.MethodGet, "/api/v1/messages/"+sub.ID+"?limit=2", dt, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history = %d %v", w.Code, body)
	}
	msgs := body["messages"].([]any)
	page := body["pagination"].(map[string]any)
	if len(msgs) != 2 || msgs[0].(map[string]any)["content"] != "msg 1" || msgs[1].(map[string]any)["content"] != "msg 2" {
		t.Errorf("first page = %v", msgs)
	}
	if page["total"] != float64(3) || page["hasMore"] != true {
		t.Errorf("pagination = %v", page)
	}

	w, body = ts.do(t, http.MethodGet, "/api/v1/messages/"+sub.ID+"?limit=2&offset=2", dt, nil)
	if w.Code != http.StatusOK || len(body["messages"].([]any)) != 1 || body["pagination"].(map[string]any)["hasMore"] != false {
		t.Errorf("second page = %d %v", w.Code, body)
	}

	for _, q := range []string{"?limit=0", "?limit=101", "?offset=-1", "?limit=abc"} {
		if w, _ := ts.do(t, http.MethodGet, "/api/v1/messages/"+sub.ID+q, dt, nil); w.Code != http.StatusBadRequest {
			t.Errorf("history%s status = %d", q, w.Code)
		}
	}
	if w, _ := ts.do(t, http.MethodGet, "/api/v1/messages/"+sub.ID, et, nil); w.Code != http.StatusForbidden {
		t.Errorf("outsider history status = %d", w.Code)
	}

	if w, body := ts.do(t, http.MethodPatch, "/api/v1/messages/"+ids[0]+"/read", pt, nil); w.Code != http.StatusForbidden || body["error"] != "Access denied" {
		t.Errorf("sender read = %d %v", w.Code, body)
	}
	if w, _ := ts.do(t, http.MethodPatch, "/api/v1/messages/missing/read", dt, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing read status = %d", w.Code)
	}
	w, body = ts.do(t, http.MethodPatch, "/api/v1/messages/"+ids[0]+"/read", dt, nil)
	data, _ := body["data"].(map[string]any)
	if w.Code != http.StatusOK || data["status"] != "read" || data["readBy"] != doctor.ID || data["messageId"] != ids[0] {
		t.Errorf("read = %d %v", w.Code, body)
	}
}

func TestAdminAudit(t *testing.T) {
	ts := newTestServer(t)
	patient := storetest.SeedUser(t, ts.store, "pat", models.RolePatient)
	admin := storetest.SeedUser(t, ts.store, "root", models.RoleAdmin)

	if w, _ := ts.do(t, http.MethodGet, "/api/v1/admin/audit", ts.token(t, patient), nil); w.Code != http.StatusForbidden {
		t.Errorf("patient audit status = %d", w.Code)
	}

	at := ts.token(t, admin)
	w, body := ts.do(t, http.MethodGet, "/api/v1/admin/audit?action=message.read", at, nil)
	if w.Code != http.StatusOK || len(body["logs"].([]any)) != 0 {
		t.Errorf("audit = %d %v", w.Code, body)
	}
	if w, _ := ts.do(t, http.MethodGet, "/api/v1/admin/audit?limit=501", at, nil); w.Code != http.StatusBadRequest {
		t.Errorf("oversized limit status = %d", w.Code)
	}
}

func TestPushSubscriptions(t *testing.T) {
	ts := newTestServer(t)
	patient := storetest.SeedUser(t, ts.store, "pat", models.RolePatient)
	other := storetest.SeedUser(t, ts.store, "eve", models.RolePatient)
	pt, et := ts.token(t, patient), ts.token(t, other)
	ctx := context.Background()

	w, body := ts.do(t, http.MethodGet, "/api/v1/push/vapid-key", pt, nil)
	if w.Code != http.StatusOK || body["publicKey"] != "public-key" {
		t.Errorf("vapid key = %d %v", w.Code, body)
	}

	req := map[string]any{"endpoint": "https://push.example.com/abc", "keys": map[string]string{"p256dh": "k", "auth": "a"}}
	if w, _ := ts.do(t, http.MethodPost, "/api/v1/push/subscribe", pt, req); w.Code != http.StatusCreated {
		t.Fatalf("subscribe status = %d", w.Code)
	}
	if w, _ := ts.do(t, http.MethodPost, "/api/v1/push/subscribe", pt, map[string]any{"endpoint": "not a url", "keys": map[string]string{"p256dh": "k", "auth": "a"}}); w.Code != http.StatusBadRequest {
		t.Errorf("bad endpoint status = %d", w.Code)
	}

	// another user cannot remove it
	ts.do(t, http.MethodPost, "/api/v1/push/unsubscribe", et, map[string]string{"endpoint": "https://push.example.com/abc"})
	if subs, _ := ts.store.ListPushSubscriptions(ctx, patient.ID); len(subs) != 1 {
		t.Fatalf("subscriptions after foreign unsubscribe = %d", len(subs))
	}

	if w, _ := ts.do(t, http.MethodPost, "/api/v1/push/unsubscribe", pt, map[string]string{"endpoint": "https://push.example.com/abc"}); w.Code != http.StatusOK {
		t.Errorf("unsubscribe status = %d", w.Code)
	}
	if subs, _ := ts.store.ListPushSubscriptions(ctx, patient.ID); len(subs) != 0 {
		t.Errorf("subscriptions after unsubscribe = %d", len(subs))
	}
}
