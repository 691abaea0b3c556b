package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/nestmate/nestmate-server/internal/auth"
	"github.com/nestmate/nestmate-server/internal/config"
	"github.com/nestmate/nestmate-server/internal/core"
	"github.com/nestmate/nestmate-server/internal/proto"
	"github.com/nestmate/nestmate-server/internal/service/inbox"
	"github.com/nestmate/nestmate-server/internal/store/sqlite"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.JWTSecret = "testsecret"
	cfg.ReadHeaderTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	return &cfg
}

// startTestServer spins up the full stack on an in-memory database.
func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := testConfig()
	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	disabled := zerolog.Nop()
	hub := core.NewHub(st, st, &disabled)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	inboxService := inbox.NewService(st, &disabled)

	server := NewServer(hub, authService, inboxService, st, cfg, &disabled)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path, token string, body any) *http.Response {
	t.Helper()
	return doJSON(t, ts, http.MethodPost, path, token, body)
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, token string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// registerUser creates a user through the public API and returns its token
// and ID.
func registerUser(t *testing.T, ts *httptest.Server, username, name string) (string, int64) {
	t.Helper()

	resp := postJSON(t, ts, "/api/register", "", RegisterRequest{
		Username: username,
		Password: "password123",
		Name:     name,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d", username, resp.StatusCode)
	}
	var authResp AuthResponse
	decodeBody(t, resp, &authResp)

	resp = doJSON(t, ts, http.MethodGet, "/api/users/me", authResp.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me %s: status %d", username, resp.StatusCode)
	}
	var me UserResponse
	decodeBody(t, resp, &me)

	return authResp.Token, me.ID
}

func createListing(t *testing.T, ts *httptest.Server, token, title string) int64 {
	t.Helper()

	resp := postJSON(t, ts, "/api/listings", token, CreateListingRequest{
		Title:    title,
		Location: "Neukölln",
		Rent:     680,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create listing: status %d", resp.StatusCode)
	}
	var listing ListingResponse
	decodeBody(t, resp, &listing)
	return listing.ID
}

func wsURL(ts *httptest.Server, token string) string {
	return strings.Replace(ts.URL, "http", "ws", 1) + "/ws?token=" + token
}

// pollUntil retries fn until it returns true or the deadline passes.
func pollUntil(t *testing.T, d time.Duration, fn func() bool) {
	t.Helper()

	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func fetchThreads(t *testing.T, ts *httptest.Server, token string) []ThreadResponse {
	t.Helper()

	resp := doJSON(t, ts, http.MethodGet, "/api/messages/threads", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("threads: status %d", resp.StatusCode)
	}
	var threads []ThreadResponse
	decodeBody(t, resp, &threads)
	return threads
}

func historyPath(listingID, otherID int64) string {
	return fmt.Sprintf("/api/messages/%d/%d", listingID, otherID)
}

func fetchHistory(t *testing.T, ts *httptest.Server, token string, listingID, otherID int64) []proto.EventMessage {
	t.Helper()

	resp := doJSON(t, ts, http.MethodGet, historyPath(listingID, otherID), token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: status %d", resp.StatusCode)
	}
	var history []proto.EventMessage
	decodeBody(t, resp, &history)
	return history
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

// sendLive connects a throwaway WebSocket session for the sender, delivers
// one message and waits for the sender's own room echo before closing.
func sendLive(t *testing.T, ts *httptest.Server, token string, receiverID, listingID int64, content string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts, token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	sendWS(t, ctx, conn, proto.InboundTypeJoin, proto.JoinData{OtherUserID: receiverID, ListingID: listingID})
	sendWS(t, ctx, conn, proto.InboundTypeSend, proto.SendData{ReceiverID: receiverID, ListingID: listingID, Content: content})

	out := readWS(t, ctx, conn)
	if out.Type != proto.OutboundTypeEvent || out.Event != proto.EventNewMessage {
		t.Fatalf("expected new_message echo, got %+v", out)
	}
}

// joinAndAwait joins a conversation and waits until the hub has processed
// the join, using the duplicate-join error as the acknowledgement.
func joinAndAwait(t *testing.T, ctx context.Context, conn *websocket.Conn, join proto.JoinData) {
	t.Helper()

	sendWS(t, ctx, conn, proto.InboundTypeJoin, join)
	sendWS(t, ctx, conn, proto.InboundTypeJoin, join)

	out := readWS(t, ctx, conn)
	if out.Type != proto.OutboundTypeError || out.Error == nil || out.Error.Code != core.ErrCodeAlreadyJoined {
		t.Fatalf("expected already_joined ack, got %+v", out)
	}
}

type outboundEnvelope struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func sendWS(t *testing.T, ctx context.Context, conn *websocket.Conn, msgType string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", msgType, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: msgType, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func readWS(t *testing.T, ctx context.Context, conn *websocket.Conn) outboundEnvelope {
	t.Helper()

	var out outboundEnvelope
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("read outbound: %v", err)
	}
	return out
}
