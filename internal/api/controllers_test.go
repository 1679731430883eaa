package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"backtest-core/internal/backtest"
	"backtest-core/internal/engine"
	"backtest-core/internal/events"
	"backtest-core/internal/market"
	"backtest-core/internal/monitor"
	"backtest-core/internal/persistence"
	"backtest-core/pkg/db"
)

const testSecret = "test-secret"

type mapSource map[string][]market.Bar

func (m mapSource) History(_ context.Context, symbol string, _, _ time.Time) ([]market.Bar, error) {
	bars, ok := m[symbol]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	return bars, nil
}

func wave(n int) []market.Bar {
	closes := make([]float64, n)
	price := 100.0
	for i := range closes {
		if (i/15)%2 == 0 {
			price += 2
		} else {
			price--
		}
		closes[i] = price
	}
	return market.FromCloses(time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), closes)
}

func newTestAPIServer(t *testing.T) (*httptest.Server, *events.Bus) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := persistence.NewRunStore(database, log)

	bus := events.NewBus()
	svc := engine.NewImpl(engine.Config{
		Engine:      backtest.NewEngine(mapSource{"BTCUSDT": wave(150), "ETHUSDT": wave(100)}, log),
		Store:       store,
		Bus:         bus,
		Concurrency: 2,
		Logger:      log,
		Meta:        engine.SystemStatus{Version: "test", DataSource: "memory"},
	})
	server := NewServer(Options{
		Engine:    svc,
		Bus:       bus,
		Metrics:   monitor.NewMetrics("test"),
		JWTSecret: testSecret,
		Logger:    log,
	})

	httpServer := httptest.NewServer(server.Router)
	t.Cleanup(func() {
		httpServer.Close()
		_ = database.Close()
	})
	return httpServer, bus
}

func testToken(t *testing.T) string {
	t.Helper()
	token, _, err := GenerateToken("tester", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func TestAuthRequired(t *testing.T) {
	ts, _ := newTestAPIServer(t)
	client := ts.Client()

	cases := []struct {
		name  string
		token string
		code  string
	}{
		{"missing", "", "MISSING_TOKEN"},
		{"garbage", "not-a-jwt", "INVALID_TOKEN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var resp errorResponse
			status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/backtests", tc.token, nil, &resp)
			if status != http.StatusUnauthorized || resp.Code != tc.code {
				t.Fatalf("expected 401 %s, got %d %+v", tc.code, status, resp)
			}
		})
	}

	forged, _, err := GenerateToken("tester", "other-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/backtests", forged, nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("token signed with another secret accepted: %d", status)
	}

	var st engine.SystemStatus
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/system/status", "", nil, &st); status != http.StatusOK || st.Version != "test" || !st.Store {
		t.Fatalf("system status: %d %+v", status, st)
	}
}

func TestRunBacktestErrors(t *testing.T) {
	ts, _ := newTestAPIServer(t)
	client := ts.Client()
	token := testToken(t)

	cases := []struct {
		name    string
		payload map[string]any
		status  int
		code    string
	}{
		{"no symbol", map[string]any{}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad date", map[string]any{"symbol": "BTCUSDT", "start": "01/02/2023"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"invalid config", map[string]any{"symbol": "BTCUSDT", "initial_capital": -1}, http.StatusBadRequest, "INVALID_CONFIG"},
		{"no data", map[string]any{"symbol": "DOGEUSDT"}, http.StatusUnprocessableEntity, "DATA_UNAVAILABLE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var resp errorResponse
			status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/backtests", token, tc.payload, &resp)
			if status != tc.status || resp.Code != tc.code {
				t.Fatalf("expected %d %s, got %d %+v", tc.status, tc.code, status, resp)
			}
		})
	}
}

func TestRespondServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid config", fmt.Errorf("%w: slow period", backtest.ErrInvalidConfig), http.StatusBadRequest, "INVALID_CONFIG"},
		{"no data", fmt.Errorf("%w: no bars for X", backtest.ErrDataUnavailable), http.StatusUnprocessableEntity, "DATA_UNAVAILABLE"},
		{"source timeout", fmt.Errorf("%w: X: %w", backtest.ErrDataUnavailable, context.DeadlineExceeded), http.StatusGatewayTimeout, "TIMEOUT"},
		{"source canceled", fmt.Errorf("%w: X: %w", backtest.ErrDataUnavailable, context.Canceled), 499, "CANCELED"},
		{"not found", engine.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"no store", engine.ErrNoStore, http.StatusServiceUnavailable, "STORE_DISABLED"},
		{"other", errors.New("disk full"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			respondServiceError(c, tt.err)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["code"] != tt.code {
				t.Fatalf("body = %s (%v), want code %s", w.Body.String(), err, tt.code)
			}
		})
	}
}

func TestBacktestLifecycle(t *testing.T) {
	ts, _ := newTestAPIServer(t)
	client := ts.Client()
	token := testToken(t)

	var created struct {
		ID      string            `json:"id"`
		Stored  bool              `json:"stored"`
		Summary backtest.Summary  `json:"summary"`
		Trades  []backtest.Trade  `json:"trades"`
		Equity  []json.RawMessage `json:"equity_curve"`
	}
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/backtests", token, map[string]any{
		"symbol":      "BTCUSDT",
		"macd_fast":   8,
		"macd_slow":   21,
		"macd_signal": 5,
	}, &created)
	if status != http.StatusCreated || created.ID == "" || !created.Stored {
		t.Fatalf("create backtest status=%d resp=%+v", status, created)
	}
	if created.Summary.MACDFast != 8 || created.Summary.CommissionRate != 0.001 || len(created.Equity) != 150 {
		t.Fatalf("unexpected summary %+v (%d points)", created.Summary, len(created.Equity))
	}

	var list []engine.RunInfo
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/backtests?symbol=BTCUSDT", token, nil, &list); status != http.StatusOK || len(list) != 1 {
		t.Fatalf("list status=%d runs=%d", status, len(list))
	}

	var detail engine.RunDetail
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/backtests/"+created.ID, token, nil, &detail); status != http.StatusOK || len(detail.Trades) != len(created.Trades) {
		t.Fatalf("detail status=%d trades=%d", status, len(detail.Trades))
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/backtests/"+created.ID+"/report?lang=zh", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "## 概览") {
		t.Fatalf("report status=%d body=%s", resp.StatusCode, body)
	}

	if status := doJSONRequest(t, client, http.MethodDelete, ts.URL+"/api/backtests/"+created.ID, token, nil, nil); status != http.StatusNoContent {
		t.Fatalf("delete status=%d", status)
	}
	var notFound errorResponse
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/backtests/"+created.ID, token, nil, &notFound); status != http.StatusNotFound || notFound.Code != "NOT_FOUND" {
		t.Fatalf("expected 404 after delete, got %d %+v", status, notFound)
	}
}

func TestRunSweep(t *testing.T) {
	ts, _ := newTestAPIServer(t)
	client := ts.Client()
	token := testToken(t)

	var rep engine.SweepReport
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/sweeps?top=2", token, map[string]any{
		"name":    "grid",
		"symbols": []string{"BTCUSDT", "ETHUSDT", "MISSING"},
		"grid":    map[string]any{"fast": []int{5, 12}, "slow": []int{26}, "signal": []int{9}},
	}, &rep)
	if status != http.StatusOK {
		t.Fatalf("sweep status=%d", status)
	}
	if len(rep.Runs) != 6 || rep.Failed != 2 || len(rep.Ranking) != 2 || rep.Best == nil {
		t.Fatalf("unexpected sweep report %+v", rep)
	}

	var resp errorResponse
	if status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/sweeps", token, map[string]any{"name": "empty"}, &resp); status != http.StatusBadRequest {
		t.Fatalf("sweep without symbols: %d %+v", status, resp)
	}
}

func TestWebsocketStreamsEvents(t *testing.T) {
	ts, _ := newTestAPIServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?topics=backtest.completed"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered after the upgrade; give it a moment.
	time.Sleep(50 * time.Millisecond)
	if status := doJSONRequest(t, ts.Client(), http.MethodPost, ts.URL+"/api/backtests", testToken(t), map[string]any{"symbol": "ETHUSDT"}, nil); status != http.StatusCreated {
		t.Fatalf("create backtest status=%d", status)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Topic   string `json:"topic"`
		Payload struct {
			RunID   string           `json:"run_id"`
			Summary backtest.Summary `json:"summary"`
		} `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Topic != string(events.EventBacktestCompleted) || msg.Payload.Summary.Symbol != "ETHUSDT" {
		t.Fatalf("unexpected message %+v", msg)
	}

	bad := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?topics=nope"
	if _, resp, err := websocket.DefaultDialer.Dial(bad, nil); err == nil || resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown topic should be rejected")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestAPIServer(t)
	_ = doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/health", "", nil, nil)

	// The request is observed after its response is written.
	want := `test_http_requests_total{code="200",method="GET",route="/health"} 1`
	var body []byte
	for i := 0; i < 20; i++ {
		resp, err := ts.Client().Get(ts.URL + "/metrics")
		if err != nil {
			t.Fatalf("metrics: %v", err)
		}
		body, _ = io.ReadAll(resp.Body)
		resp.Body.Close()
		if strings.Contains(string(body), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("http metrics missing:\n%s", body)
}

func TestGRPCHealth(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer()
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client := healthpb.NewHealthClient(conn)
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthServiceName})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health check: %v %v", resp, err)
	}

	srv.Stop(ctx)
}
