package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	midsec "medishare/middleware/security"
	"medishare/module/chat/model"
	"medishare/module/chat/store"
	"medishare/tools/security"

	"github.com/gin-gonic/gin"
)

func newTestAPI(t *testing.T) (*httptest.Server, *store.MemoryStore, security.Options) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwtOpts := security.DefaultOptions([]byte("api-test-secret"))
	st := store.NewMemoryStore()

	r := gin.New()
	New(st).Register(r, midsec.DefaultOptions(jwtOpts))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st, jwtOpts
}

func get(t *testing.T, srv *httptest.Server, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func mustToken(t *testing.T, opts security.Options, userID, name string) string {
	t.Helper()
	tok, _, err := security.Generate(opts, userID, name)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return tok
}

func TestListChats(t *testing.T) {
	srv, st, jwtOpts := newTestAPI(t)
	ctx := context.Background()

	owner := model.Participant{UserID: "owner", Name: "Olive"}
	if _, err := st.CreateRoom(ctx, "listing-1", owner, model.Participant{UserID: "rita", Name: "Rita"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := st.CreateRoom(ctx, "listing-2", owner, model.Participant{UserID: "sam", Name: "Sam"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	time.Sleep(5 * time.Millisecond) // ensure distinct activity timestamps
	if _, err := st.AppendMessage(ctx, "listing-1", "rita", "Rita", "still available?"); err != nil {
		t.Fatalf("append: %v", err)
	}

	resp := get(t, srv, "/api/chats", mustToken(t, jwtOpts, "owner", "Olive"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var chats []model.ChatSummary
	decode(t, resp, &chats)
	if len(chats) != 2 {
		t.Fatalf("chats = %+v, want 2", chats)
	}
	// most recently active first
	if chats[0].ListingID != "listing-1" || chats[0].LastMessage != "still available?" {
		t.Fatalf("first summary = %+v", chats[0])
	}
	if chats[0].ParticipantName != "Rita" {
		t.Fatalf("summary names the caller, not the peer: %+v", chats[0])
	}

	// a user with no rooms gets an empty list, not null
	resp = get(t, srv, "/api/chats", mustToken(t, jwtOpts, "nobody", "Nobody"))
	var empty []model.ChatSummary
	decode(t, resp, &empty)
	if empty == nil || len(empty) != 0 {
		t.Fatalf("empty list = %#v", empty)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv, st, jwtOpts := newTestAPI(t)
	ctx := context.Background()

	if _, err := st.CreateRoom(ctx, "listing-1",
		model.Participant{UserID: "owner", Name: "Olive"},
		model.Participant{UserID: "rita", Name: "Rita"},
	); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, text := range []string{"first", "second", "third"} {
		if _, err := st.AppendMessage(ctx, "listing-1", "rita", "Rita", text); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	resp := get(t, srv, "/api/chats/listing-1/messages", mustToken(t, jwtOpts, "owner", "Olive"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var msgs []model.Message
	decode(t, resp, &msgs)
	if len(msgs) != 3 || msgs[0].Text != "first" || msgs[2].Text != "third" {
		t.Fatalf("history = %+v", msgs)
	}

	if resp := get(t, srv, "/api/chats/listing-1/messages", mustToken(t, jwtOpts, "mallory", "Mallory")); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider status = %d, want 403", resp.StatusCode)
	}
	if resp := get(t, srv, "/api/chats/no-such/messages", mustToken(t, jwtOpts, "owner", "Olive")); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown listing status = %d, want 404", resp.StatusCode)
	}
	if resp := get(t, srv, "/api/chats/listing-1/messages", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", resp.StatusCode)
	}
	if resp := get(t, srv, "/api/chats/listing-1/messages", "garbage"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", resp.StatusCode)
	}
}
