package http

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/edugate/internal/bus"
	"github.com/nextlevelbuilder/edugate/internal/connections"
	"github.com/nextlevelbuilder/edugate/internal/routing"
	"github.com/nextlevelbuilder/edugate/internal/store"
	"github.com/nextlevelbuilder/edugate/internal/store/sqlite"
	"github.com/nextlevelbuilder/edugate/pkg/protocol"
)

type stubLink struct {
	mu     sync.Mutex
	events chan connections.ProviderEvent
	closed bool
}

func (l *stubLink) Events() <-chan connections.ProviderEvent { return l.events }

func (l *stubLink) RequestPairingCode(context.Context, string) (string, error) {
	return "PAIR-CODE", nil
}

func (l *stubLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.events)
	}
	return nil
}

func (l *stubLink) emit(ev connections.ProviderEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.events <- ev
	}
}

type stubProvider struct {
	opened chan *stubLink
}

func (p *stubProvider) Open(context.Context, uuid.UUID) (connections.Link, error) {
	l := &stubLink{events: make(chan connections.ProviderEvent, 8)}
	p.opened <- l
	return l, nil
}

type testEnv struct {
	handler  *ConnectionHandler
	mgr      *connections.Manager
	provider *stubProvider
	bus      *bus.MessageBus
	db       *sql.DB
	srv      *httptest.Server
	tenant   uuid.UUID
}

func newTestEnv(t *testing.T, auth *Authenticator, limiter *RateLimiter) *testEnv {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tenants := sqlite.NewTenantStore(db)
	td := &store.TenantData{Name: "Hillcrest Academy", AdminPhone: "2348012345678", CreatedAt: time.Now().UTC()}
	if err := tenants.Create(context.Background(), td); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	provider := &stubProvider{opened: make(chan *stubLink, 16)}
	msgBus := bus.New()
	mgr := connections.NewManager(provider, sqlite.NewConnectionStore(db), sqlite.NewBindingStore(db),
		connections.WithEventBus(msgBus))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})

	if auth == nil {
		auth = NewAuthenticator("", "")
	}
	h := NewConnectionHandler(mgr, tenants, auth, limiter)
	h.SetHeartbeat(20 * time.Millisecond)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testEnv{handler: h, mgr: mgr, provider: provider, bus: msgBus, db: db, srv: srv, tenant: td.ID}
}

func (e *testEnv) url(tenant uuid.UUID, suffix string) string {
	return e.srv.URL + "/v1/tenants/" + tenant.String() + "/connection/" + suffix
}

func (e *testEnv) do(t *testing.T, method, url, token, body string) (*http.Response, commandResponse) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out commandResponse
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (e *testEnv) waitLink(t *testing.T) *stubLink {
	t.Helper()
	select {
	case l := <-e.provider.opened:
		return l
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for link")
		return nil
	}
}

func (e *testEnv) connect(t *testing.T) {
	t.Helper()
	e.do(t, http.MethodPost, e.url(e.tenant, "connect"), "", "")
	link := e.waitLink(t)
	link.emit(connections.ProviderEvent{Type: connections.ProviderConnected, PeerID: "2348099990000@s.whatsapp.net"})
	deadline := time.Now().Add(2 * time.Second)
	for !e.mgr.IsConnected(e.tenant) {
		if time.Now().After(deadline) {
			t.Fatal("tenant never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectLocksAfterThreeAttempts(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	for i := 1; i < connections.MaxAttempts; i++ {
		resp, body := env.do(t, http.MethodPost, env.url(env.tenant, "connect"), "", "")
		if resp.StatusCode != http.StatusAccepted || !body.Success {
			t.Fatalf("attempt %d: status=%d body=%+v", i, resp.StatusCode, body)
		}
	}

	resp, body := env.do(t, http.MethodPost, env.url(env.tenant, "connect"), "", "")
	if resp.StatusCode != http.StatusLocked {
		t.Fatalf("third attempt status = %d, want 423", resp.StatusCode)
	}
	if !body.Locked || body.LockedUntil == nil || body.Error != protocol.ErrCodeLocked {
		t.Errorf("locked body = %+v", body)
	}
	if body.RemainingSeconds <= 0 || body.RemainingSeconds > int(connections.LockDuration/time.Second) {
		t.Errorf("remaining = %d", body.RemainingSeconds)
	}

	resp, again := env.do(t, http.MethodPost, env.url(env.tenant, "refresh-qr"), "", "")
	if resp.StatusCode != http.StatusLocked || !again.LockedUntil.Equal(*body.LockedUntil) {
		t.Errorf("refresh while locked: status=%d body=%+v", resp.StatusCode, again)
	}

	resp, _ = env.do(t, http.MethodPost, env.url(env.tenant, "pairing-code"), "", `{"phoneNumber":"2348012345678"}`)
	if resp.StatusCode != http.StatusLocked {
		t.Errorf("pairing code while locked: status = %d, want 423", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, env.url(env.tenant, "reconnect"), "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reconnect status = %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPost, env.url(env.tenant, "connect"), "", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("connect after reconnect: status = %d, want 202", resp.StatusCode)
	}
}

func TestAlreadyConnected(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.connect(t)

	resp, body := env.do(t, http.MethodPost, env.url(env.tenant, "connect"), "", "")
	if resp.StatusCode != http.StatusOK || !body.Connected {
		t.Errorf("connect: status=%d body=%+v, want connected", resp.StatusCode, body)
	}
	resp, body = env.do(t, http.MethodPost, env.url(env.tenant, "refresh-qr"), "", "")
	if resp.StatusCode != http.StatusConflict || body.Error != protocol.ErrCodeAlreadyConnected {
		t.Errorf("refresh: status=%d body=%+v, want 409", resp.StatusCode, body)
	}

	resp, err := http.Get(env.url(env.tenant, "status"))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	var st struct {
		Success     bool   `json:"success"`
		Status      string `json:"status"`
		BoundPeerID string `json:"boundPeerId"`
		Tenant      struct {
			Name           string `json:"name"`
			GatewayAddress string `json:"gatewayAddress"`
		} `json:"tenant"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Status != string(connections.StatusConnected) || st.BoundPeerID == "" {
		t.Errorf("status = %+v", st)
	}
	if st.Tenant.Name != "Hillcrest Academy" || st.Tenant.GatewayAddress != "2348099990000" {
		t.Errorf("tenant fields = %+v", st.Tenant)
	}
}

func TestPairingCodeValidation(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	resp, body := env.do(t, http.MethodPost, env.url(env.tenant, "pairing-code"), "", `{"phoneNumber":"12"}`)
	if resp.StatusCode != http.StatusBadRequest || body.Error != protocol.ErrCodeInvalidPhone {
		t.Errorf("short phone: status=%d body=%+v", resp.StatusCode, body)
	}
	resp, body = env.do(t, http.MethodPost, env.url(env.tenant, "pairing-code"), "", `not json`)
	if resp.StatusCode != http.StatusBadRequest || body.Error != protocol.ErrCodeInvalidRequest {
		t.Errorf("bad body: status=%d body=%+v", resp.StatusCode, body)
	}
	resp, body = env.do(t, http.MethodPost, env.url(env.tenant, "pairing-code"), "", `{"phoneNumber":"+234 801 234 5678"}`)
	if resp.StatusCode != http.StatusAccepted || body.PhoneNumber != "2348012345678" {
		t.Errorf("valid phone: status=%d body=%+v", resp.StatusCode, body)
	}
}

func TestTenantLookup(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	resp, body := env.do(t, http.MethodGet, env.url(uuid.New(), "status"), "", "")
	if resp.StatusCode != http.StatusNotFound || body.Error != protocol.ErrCodeNotFound {
		t.Errorf("unknown tenant: status=%d body=%+v", resp.StatusCode, body)
	}
	resp, _ = env.do(t, http.MethodGet, env.srv.URL+"/v1/tenants/not-a-uuid/connection/status", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", resp.StatusCode)
	}
}

func TestAuth(t *testing.T) {
	const secret = "test-secret"
	env := newTestEnv(t, NewAuthenticator("operator-token", secret), nil)

	staff, err := SignTenantToken(secret, env.tenant, store.RoleStaff, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	admin, _ := SignTenantToken(secret, env.tenant, store.RoleAdmin, time.Hour)
	other, _ := SignTenantToken(secret, uuid.New(), store.RoleAdmin, time.Hour)
	forged, _ := SignTenantToken("wrong-secret", env.tenant, store.RoleAdmin, time.Hour)
	expired, _ := SignTenantToken(secret, env.tenant, store.RoleAdmin, -time.Minute)

	tests := []struct {
		name   string
		route  string
		method string
		token  string
		want   int
	}{
		{"no token", "status", http.MethodGet, "", http.StatusUnauthorized},
		{"operator", "status", http.MethodGet, "operator-token", http.StatusOK},
		{"tenant staff", "status", http.MethodGet, staff, http.StatusOK},
		{"other tenant", "status", http.MethodGet, other, http.StatusForbidden},
		{"forged", "status", http.MethodGet, forged, http.StatusUnauthorized},
		{"expired", "status", http.MethodGet, expired, http.StatusUnauthorized},
		{"staff reconnect", "reconnect", http.MethodPost, staff, http.StatusForbidden},
		{"admin reconnect", "reconnect", http.MethodPost, admin, http.StatusOK},
		{"operator reconnect", "reconnect", http.MethodPost, "operator-token", http.StatusOK},
		{"staff group", "group", http.MethodPost, staff, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := env.do(t, tt.method, env.url(env.tenant, tt.route), tt.token, "")
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	resp, err := http.Get(env.url(env.tenant, "status") + "?access_token=" + staff)
	if err != nil {
		t.Fatalf("query token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("query token status = %d, want 200", resp.StatusCode)
	}
}

func TestBindGroupReachesRouting(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	cache := routing.NewBindingCache(sqlite.NewBindingStore(env.db), 0, 0)
	env.bus.Subscribe("routing.binding-cache", cache.HandleEvent)
	resolver := routing.NewTenantResolver(cache, sqlite.NewTenantStore(env.db),
		sqlite.NewIdentityStore(env.db), sqlite.NewTokenStore(env.db))

	groupMsg := func(addr string) routing.Envelope {
		return routing.Envelope{
			Channel:      "whatsapp",
			Recipient:    "2348099990000",
			Sender:       "2348055555555",
			GroupAddress: addr,
			IsGroup:      true,
			Text:         "good morning",
		}
	}

	// Cache the misses first so a stale entry would hide the new binding.
	if _, ok := resolver.Resolve(ctx, groupMsg("120363000000000001@g.us")); ok {
		t.Fatal("resolved before any group binding")
	}

	resp, body := env.do(t, http.MethodPost, env.url(env.tenant, "group"), "", `{"groupAddress":"120363000000000001"}`)
	if resp.StatusCode != http.StatusOK || body.GroupAddress != "120363000000000001@g.us" {
		t.Fatalf("bind group: status=%d body=%+v", resp.StatusCode, body)
	}
	res, ok := resolver.Resolve(ctx, groupMsg("120363000000000001@g.us"))
	if !ok || res.TenantID != env.tenant || res.Source != routing.SourceGroupBinding {
		t.Fatalf("resolve after bind = %+v, %v", res, ok)
	}

	// Rebinding moves the tenant off the old group.
	resp, _ = env.do(t, http.MethodPost, env.url(env.tenant, "group"), "", `{"groupAddress":"120363000000000002@g.us"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rebind status = %d", resp.StatusCode)
	}
	if res, ok := resolver.Resolve(ctx, groupMsg("120363000000000001@g.us")); ok {
		t.Errorf("old group still resolves: %+v", res)
	}
	if res, ok := resolver.Resolve(ctx, groupMsg("120363000000000002")); !ok || res.TenantID != env.tenant {
		t.Errorf("new group = %+v, %v", res, ok)
	}

	resp, body = env.do(t, http.MethodPost, env.url(env.tenant, "group"), "", `{"groupAddress":"someone@s.whatsapp.net"}`)
	if resp.StatusCode != http.StatusBadRequest || body.Error != protocol.ErrCodeInvalidGroup {
		t.Errorf("user address as group: status=%d body=%+v", resp.StatusCode, body)
	}
}

func TestCommandRateLimit(t *testing.T) {
	env := newTestEnv(t, nil, NewRateLimiter(1, 1))

	resp, _ := env.do(t, http.MethodPost, env.url(env.tenant, "connect"), "", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first connect status = %d", resp.StatusCode)
	}
	resp, body := env.do(t, http.MethodPost, env.url(env.tenant, "connect"), "", "")
	if resp.StatusCode != http.StatusTooManyRequests || body.Error != protocol.ErrCodeRateLimited {
		t.Errorf("second connect: status=%d body=%+v, want 429", resp.StatusCode, body)
	}
	if st, _ := env.mgr.State(context.Background(), env.tenant); st.Attempts != 1 {
		t.Errorf("rate-limited call counted: attempts = %d", st.Attempts)
	}
	resp, _ = env.do(t, http.MethodPost, env.url(env.tenant, "disconnect"), "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("disconnect is not rate limited: status = %d", resp.StatusCode)
	}
}

func TestEventStreamSSE(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	resp, err := http.Get(env.url(env.tenant, "events"))
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	env.do(t, http.MethodPost, env.url(env.tenant, "connect"), "", "")
	link := env.waitLink(t)
	link.emit(connections.ProviderEvent{Type: connections.ProviderQR, QRData: "qr-data"})
	link.emit(connections.ProviderEvent{Type: connections.ProviderConnected, PeerID: "2348099990000@s.whatsapp.net"})

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			events = append(events, name)
		}
	}

	want := []string{protocol.EventConnecting, protocol.EventQR, protocol.EventConnected}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", events, want)
	}
}

// readEvents collects event names until the server ends the stream.
func readEvents(url string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	if ctx.Err() != nil {
		return events, fmt.Errorf("stream did not end after %v", events)
	}
	return events, nil
}

func TestEventStreamOpenedLate(t *testing.T) {
	t.Run("locked", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		for i := 0; i < connections.MaxAttempts; i++ {
			env.do(t, http.MethodPost, env.url(env.tenant, "connect"), "", "")
		}
		events, err := readEvents(env.url(env.tenant, "events"))
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 1 || events[0] != protocol.EventLocked {
			t.Errorf("events = %v, want [locked]", events)
		}
	})

	t.Run("connected", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		env.connect(t)
		events, err := readEvents(env.url(env.tenant, "events"))
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 1 || events[0] != protocol.EventConnected {
			t.Errorf("events = %v, want [connected]", events)
		}
	})
}

func TestEventStreamEndsOnDisconnect(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.do(t, http.MethodPost, env.url(env.tenant, "connect"), "", "")
	env.waitLink(t)

	type result struct {
		events []string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		events, err := readEvents(env.url(env.tenant, "events"))
		done <- result{events, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for env.mgr.Hub().Subscribers(env.tenant) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	env.do(t, http.MethodPost, env.url(env.tenant, "disconnect"), "", "")

	res := <-done
	if res.err != nil {
		t.Fatal(res.err)
	}
	want := []string{protocol.EventConnecting, protocol.EventDisconnected}
	if events := res.events; strings.Join(events, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestEventStreamHeartbeat(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.url(env.tenant, "events"), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if scanner.Text() == ": ping" {
			return
		}
	}
	t.Fatal("no heartbeat before timeout")
}

func TestEventStreamWebSocket(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(env.url(env.tenant, "ws"), "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	// Wait until the handler has subscribed before triggering events.
	deadline := time.Now().Add(2 * time.Second)
	for env.mgr.Hub().Subscribers(env.tenant) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.do(t, http.MethodPost, env.url(env.tenant, "connect"), "", "")
	link := env.waitLink(t)
	link.emit(connections.ProviderEvent{Type: connections.ProviderConnected, PeerID: "2348099990000@s.whatsapp.net"})

	var last connections.Event
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.Fatalf("read: %v", err)
			}
			break
		}
		if err := json.Unmarshal(data, &last); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
	}
	if last.Type != protocol.EventConnected || last.TenantID != env.tenant {
		t.Errorf("last frame = %+v, want connected", last)
	}
}

func TestSubscriptionReleasedOnClientLeave(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.url(env.tenant, "events"), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if n := env.mgr.Hub().Subscribers(env.tenant); n != 1 {
		t.Fatalf("subscribers = %d, want 1", n)
	}
	cancel()
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.mgr.Hub().Subscribers(env.tenant) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
