package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/auth"
	cfgpkg "github.com/tlgselvi/desewebv5-gitops-sub006/internal/config"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/consumer"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/envelope"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/gateway"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/idempotency"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/metrics"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/producer"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/runtime"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/server/http/controllers"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/transport"
)

const secret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	s  *Server
	rt *runtime.Runtime
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Secret = secret
	cfg.Transport = "memory"
	cfg.Idempotency.Store = "memory"
	rt, err := runtime.Open(context.Background(), runtime.Options{Config: cfg})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	env, err := envelope.New(nil, []byte(secret))
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	jm, err := auth.NewJWTManager(secret)
	if err != nil {
		t.Fatalf("jwt: %v", err)
	}
	s := New(Options{
		Deps: controllers.Deps{
			Runtime:  rt,
			Producer: producer.New(rt.Transport(), env),
			Guard:    rt.NewGuard(),
			Metrics:  metrics.New(prometheus.NewRegistry()),
			Consumers: func() []consumer.Status {
				return []consumer.Status{{Running: true, Topic: "finbot.events", Group: "analytics", Consumer: "c1"}}
			},
		},
		Gateway:       gateway.New(gateway.Options{}),
		Authenticator: jm,
	})
	return fixture{s: s, rt: rt}
}

func (f fixture) do(t *testing.T, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	f.s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealthHandler(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/v1/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var body struct {
		Status           string `json:"status"`
		ConsumersRunning int    `json:"consumersRunning"`
	}
	decode(t, w, &body)
	if body.Status != "ok" || body.ConsumersRunning != 1 {
		t.Fatalf("body: %+v", body)
	}
}

func TestConsumersHandler(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/v1/consumers", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"group":"analytics"`) {
		t.Fatalf("consumers: %d %s", w.Code, w.Body.String())
	}
}

const publishBody = `{"topic":"finbot.events","type":"finbot.account.created","source":"finbot","data":{"accountId":"a-1"}}`

func TestPublishHandler(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/v1/events/publish", publishBody, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		EntryID string          `json:"entryId"`
		Event   *envelope.Event `json:"event"`
	}
	decode(t, w, &resp)
	if resp.EntryID == "" || resp.Event == nil || resp.Event.Signature == "" {
		t.Fatalf("response: %+v", resp)
	}
	entries, err := f.rt.Transport().Range(context.Background(), "finbot.events", "", 10)
	if err != nil || len(entries) != 1 || entries[0].ID != resp.EntryID {
		t.Fatalf("stream: %v %v", entries, err)
	}
}

func TestPublishHandlerRejects(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name   string
		method string
		body   string
		code   int
	}{
		{"method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"malformed", http.MethodPost, "{", http.StatusBadRequest},
		{"unknown type", http.MethodPost, `{"topic":"t","type":"nope.nope","source":"finbot","data":{}}`, http.StatusBadRequest},
		{"missing topic", http.MethodPost, `{"type":"finbot.account.created","source":"finbot","data":{}}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, tc.method, "/v1/events/publish", tc.body, nil)
			if w.Code != tc.code {
				t.Fatalf("status: %d %s", w.Code, w.Body.String())
			}
		})
	}
	w := f.do(t, http.MethodPost, "/v1/events/publish", `{"topic":"t","type":"nope.nope","source":"finbot","data":{}}`, nil)
	if !strings.Contains(w.Body.String(), `"field":"type"`) {
		t.Fatalf("expected field in body: %s", w.Body.String())
	}
}

func TestPublishHandlerIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	h := http.Header{"Idempotency-Key": {"req-1"}}
	first := f.do(t, http.MethodPost, "/v1/events/publish", publishBody, h)
	second := f.do(t, http.MethodPost, "/v1/events/publish", publishBody, h)
	if first.Code != http.StatusAccepted || second.Code != http.StatusAccepted {
		t.Fatalf("status: %d %d", first.Code, second.Code)
	}
	if second.Header().Get(idempotency.ReplayedHeader) != "true" {
		t.Fatalf("second response not replayed")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replayed body differs")
	}
	entries, _ := f.rt.Transport().Range(context.Background(), "finbot.events", "", 10)
	if len(entries) != 1 {
		t.Fatalf("expected one append, got %d", len(entries))
	}
}

func TestPendingHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.rt.Transport()
	if err := tr.EnsureGroup(ctx, "finbot.events", "analytics"); err != nil {
		t.Fatalf("group: %v", err)
	}
	if _, err := tr.Append(ctx, "finbot.events", []byte(`{}`)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := tr.ReadGroup(ctx, "finbot.events", "analytics", "c1", 10, 0); err != nil {
		t.Fatalf("read: %v", err)
	}

	w := f.do(t, http.MethodGet, "/v1/streams/pending?topic=finbot.events&group=analytics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var resp struct {
		Count   int                      `json:"count"`
		Entries []transport.PendingEntry `json:"entries"`
	}
	decode(t, w, &resp)
	if resp.Count != 1 || resp.Entries[0].Consumer != "c1" || resp.Entries[0].DeliveryCount != 1 {
		t.Fatalf("pending: %+v", resp)
	}

	if w := f.do(t, http.MethodGet, "/v1/streams/pending?topic=finbot.events", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing group: %d", w.Code)
	}
}

func TestDLQHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, _ := json.Marshal(consumer.DeadLetter{
		OriginalID: "1-0", Topic: "finbot.events", Group: "analytics",
		Payload: "{}", Error: "boom", DeliveryCount: 5,
		DeadLetteredAt: time.Now().UTC().Format(envelope.TimestampLayout),
	})
	if _, err := f.rt.Transport().Append(ctx, transport.DeadLetterTopic("finbot.events"), rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	w := f.do(t, http.MethodGet, "/v1/streams/dlq?topic=finbot.events", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var resp struct {
		Topic string `json:"topic"`
		Items []struct {
			Record *consumer.DeadLetter `json:"record"`
		} `json:"items"`
	}
	decode(t, w, &resp)
	if resp.Topic != "finbot.events.dlq" || len(resp.Items) != 1 || resp.Items[0].Record.Error != "boom" {
		t.Fatalf("dlq: %s", w.Body.String())
	}
}

func TestMessagesHandlerPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.rt.Transport().Append(ctx, "mubot.events", []byte(`{"n":1}`)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	w := f.do(t, http.MethodGet, "/v1/streams/messages?topic=mubot.events&limit=2", "", nil)
	var page struct {
		Items []json.RawMessage `json:"items"`
		Next  string            `json:"next"`
	}
	decode(t, w, &page)
	if len(page.Items) != 2 || page.Next == "" {
		t.Fatalf("first page: %s", w.Body.String())
	}
	w = f.do(t, http.MethodGet, "/v1/streams/messages?topic=mubot.events&limit=2&start="+page.Next, "", nil)
	page.Next = ""
	decode(t, w, &page)
	if len(page.Items) != 1 || page.Next != "" {
		t.Fatalf("second page: %s", w.Body.String())
	}
	if w := f.do(t, http.MethodGet, "/v1/streams/messages?topic=mubot.events&start=garbage", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad start: %d", w.Code)
	}
}

func TestMetricsHandler(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/events/publish", publishBody, nil)
	w := f.do(t, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "eventbus_events_published_total") {
		t.Fatalf("metrics: %d", w.Code)
	}
}

func TestWebSocketRouteRequiresToken(t *testing.T) {
	f := newFixture(t)
	if w := f.do(t, http.MethodGet, "/ws", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodOptions, "/v1/events/publish", "", nil)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight: %d %v", w.Code, w.Header())
	}
}
