package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"meridian/backtest"
	"meridian/cache"
	"meridian/config"
	"meridian/database"
	"meridian/runner"
)

// generateBars 先跌后涨再跌的日线
func generateBars(n int) []backtest.Bar {
	bars := make([]backtest.Bar, n)
	start := int64(1704067200000)
	for i := 0; i < n; i++ {
		var c float64
		switch {
		case i < 30:
			c = 100 - float64(i)
		case i < 60:
			c = 70 + 2*float64(i-30)
		default:
			c = 128 - 2*float64(i-60)
		}
		bars[i] = backtest.Bar{Timestamp: start + int64(i)*86400000, Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return bars
}

func newTestServer(t *testing.T, modify func(cfg *config.Config)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	if err := backtest.SaveBarsCSV(filepath.Join(dir, "btc.csv"), generateBars(90)); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	cfg.Backtest.Symbol = "BTCUSDT"
	cfg.Backtest.Data.Dir = dir
	cfg.Report.Dir = filepath.Join(dir, "reports")
	if modify != nil {
		modify(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	r := runner.New(runner.Options{
		Cache:    cache.NewMemoryCache(0),
		Database: database.NewMemoryDatabase(10),
		Report:   backtest.ReportOptions{Dir: cfg.Report.Dir},
	})
	return NewServer(cfg, r, nil, "test").Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzAndMetrics(t *testing.T) {
	h := newTestServer(t, nil)

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("健康检查失败: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/version", nil)
	if !strings.Contains(rec.Body.String(), `"test"`) {
		t.Errorf("版本号错误: %s", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "meridian_http_requests_total") {
		t.Errorf("/metrics 应包含请求计数: %d", rec.Code)
	}
}

func TestListStrategiesAndDatasets(t *testing.T) {
	h := newTestServer(t, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/strategies", nil)
	var strategies struct {
		Strategies []struct {
			Name     string             `json:"name"`
			Defaults map[string]float64 `json:"defaults"`
		} `json:"strategies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &strategies); err != nil {
		t.Fatal(err)
	}
	if len(strategies.Strategies) != 5 {
		t.Errorf("应有 5 个内置策略, got %d", len(strategies.Strategies))
	}

	rec = doJSON(t, h, http.MethodGet, "/api/datasets", nil)
	var datasets struct {
		Datasets []backtest.DatasetInfo `json:"datasets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &datasets); err != nil {
		t.Fatal(err)
	}
	if len(datasets.Datasets) != 1 || datasets.Datasets[0].Name != "btc.csv" || datasets.Datasets[0].Bars != 90 {
		t.Errorf("数据集列表错误: %+v", datasets.Datasets)
	}
}

func TestRunBacktest(t *testing.T) {
	h := newTestServer(t, nil)

	req := BacktestRequest{
		Strategy: "sma_crossover",
		Params:   map[string]float64{"fast": 5, "slow": 10},
		Bars:     generateBars(90),
		Report:   true,
	}
	rec := doJSON(t, h, http.MethodPost, "/api/backtest", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("回测失败: %d %s", rec.Code, rec.Body.String())
	}
	var first BacktestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatal(err)
	}
	if !first.Success || first.Cached || first.Result == nil || first.Result.ID == "" || first.ReportPath == "" {
		t.Fatalf("回测响应错误: %+v", first)
	}
	if len(first.Result.Equity) != 90 || first.Result.Symbol != "BTCUSDT" {
		t.Errorf("回测结果错误: equity=%d symbol=%s", len(first.Result.Equity), first.Result.Symbol)
	}

	// 同一份数据通过数据集名提交，指纹相同，命中缓存
	req.Bars = nil
	req.Dataset = "btc.csv"
	req.Report = false
	rec = doJSON(t, h, http.MethodPost, "/api/backtest", req)
	var second BacktestResponse
	json.Unmarshal(rec.Body.Bytes(), &second)
	if !second.Cached || second.Fingerprint != first.Fingerprint {
		t.Errorf("相同输入应命中缓存: %+v", second)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/backtests", nil)
	var list struct {
		Runs []database.BacktestRun `json:"runs"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Runs) != 1 || list.Runs[0].ID != first.Result.ID {
		t.Fatalf("回测列表错误: %+v", list.Runs)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/backtests/"+first.Result.ID, nil)
	var stored BacktestResponse
	json.Unmarshal(rec.Body.Bytes(), &stored)
	if rec.Code != http.StatusOK || stored.Result.FinalEquity != first.Result.FinalEquity {
		t.Errorf("读取回测失败: %d", rec.Code)
	}

	if rec = doJSON(t, h, http.MethodDelete, "/api/backtests/"+first.Result.ID, nil); rec.Code != http.StatusOK {
		t.Errorf("删除回测失败: %d", rec.Code)
	}
	if rec = doJSON(t, h, http.MethodGet, "/api/backtests/"+first.Result.ID, nil); rec.Code != http.StatusNotFound {
		t.Errorf("删除后应返回 404, got %d", rec.Code)
	}
}

func TestRunBacktestErrors(t *testing.T) {
	h := newTestServer(t, func(cfg *config.Config) {
		cfg.Web.MaxBars = 100
		cfg.Web.Burst = 100
	})

	unordered := generateBars(10)
	unordered[5].Timestamp = unordered[2].Timestamp

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"非法 JSON", "{", http.StatusBadRequest},
		{"未知策略", BacktestRequest{Strategy: "nope", Bars: generateBars(10)}, http.StatusBadRequest},
		{"没有K线", BacktestRequest{Strategy: "buy_and_hold"}, http.StatusBadRequest},
		{"数据集不存在", BacktestRequest{Dataset: "missing.csv"}, http.StatusNotFound},
		{"路径穿越", BacktestRequest{Dataset: "../btc.csv"}, http.StatusNotFound},
		{"K线过多", BacktestRequest{Bars: generateBars(101)}, http.StatusRequestEntityTooLarge},
		{"时间戳非递增", BacktestRequest{Strategy: "buy_and_hold", Bars: unordered}, http.StatusBadRequest},
		{"非法参数", BacktestRequest{Params: map[string]float64{"fast": 30, "slow": 10}, Bars: generateBars(10)}, http.StatusBadRequest},
		{"未知参数", BacktestRequest{Params: map[string]float64{"typo": 1}, Bars: generateBars(10)}, http.StatusBadRequest},
		{"非法资金", BacktestRequest{InitialCapital: -5, Bars: generateBars(10)}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/backtest", tt.body)
			if rec.Code != tt.status {
				t.Errorf("状态码错误: got %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}

	rec := doJSON(t, h, http.MethodPost, "/api/backtest", BacktestRequest{Strategy: "nope", Bars: generateBars(10)}, "Accept-Language", "zh-CN,zh;q=0.9")
	if !strings.Contains(rec.Body.String(), "未知策略") {
		t.Errorf("错误消息应按 Accept-Language 本地化: %s", rec.Body.String())
	}

	// 内联K线缺少字段时返回数据错误，而不是按 0 回放
	missingClose := `{"strategy":"buy_and_hold","bars":[` +
		`{"timestamp":1,"open":1,"high":1,"low":1,"close":1,"volume":1},{"timestamp":2}]}`
	rec = doJSON(t, h, http.MethodPost, "/api/backtest", missingClose)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("缺少字段应返回 400, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Bar data is invalid") || !strings.Contains(body, "bar 1") || !strings.Contains(body, "field=open") {
		t.Errorf("应返回数据错误并指出K线下标和字段: %s", body)
	}
}

func TestRunSweep(t *testing.T) {
	h := newTestServer(t, nil)

	req := SweepRequest{
		BacktestRequest: BacktestRequest{Strategy: "sma_crossover", Dataset: "btc.csv"},
		Grid:            map[string][]float64{"fast": {3, 5, 20}, "slow": {10}},
		Rank:            true,
	}
	rec := doJSON(t, h, http.MethodPost, "/api/sweep", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("参数扫描失败: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Results []SweepRow `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("应有 3 组结果, got %d", len(resp.Results))
	}
	if resp.Results[2].Error == "" || resp.Results[0].Metrics == nil {
		t.Errorf("失败组合应排在最后: %+v", resp.Results)
	}
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, func(cfg *config.Config) {
		cfg.Web.RateLimit = 0.001
		cfg.Web.Burst = 1
	})

	body := BacktestRequest{Strategy: "buy_and_hold", Bars: generateBars(10)}
	if rec := doJSON(t, h, http.MethodPost, "/api/backtest", body); rec.Code != http.StatusOK {
		t.Fatalf("第一次请求应放行: %d", rec.Code)
	}
	rec := doJSON(t, h, http.MethodPost, "/api/backtest", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("超过突发数应返回 429, got %d", rec.Code)
	}
	// 查询接口不限流
	if rec := doJSON(t, h, http.MethodGet, "/api/strategies", nil); rec.Code != http.StatusOK {
		t.Errorf("查询接口不应限流: %d", rec.Code)
	}
}

func TestRateLimiterEviction(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || rl.Allow("a") {
		t.Fatal("突发数为 1 时第二次请求应被拒绝")
	}
	now = now.Add(time.Hour)
	rl.Allow("b")
	if _, ok := rl.clients["a"]; ok {
		t.Error("过期客户端应被清理")
	}
}

func TestWebSocketStream(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/backtest"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	defer conn.Close()

	req := StreamRequest{
		BacktestRequest: BacktestRequest{Strategy: "sma_crossover", Params: map[string]float64{"fast": 5, "slow": 10}, Dataset: "btc.csv"},
		Stride:          10,
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatal(err)
	}

	counts := map[string]int{}
	var summary struct {
		Type string `json:"type"`
		Data struct {
			FinalEquity float64          `json:"final_equity"`
			Metrics     backtest.Metrics `json:"metrics"`
		} `json:"data"`
	}
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		counts[msg.Type]++
		if msg.Type == "summary" {
			json.Unmarshal(data, &summary)
		}
		if msg.Type == "error" {
			t.Fatalf("收到错误消息: %v", msg.Data)
		}
	}

	if counts["start"] != 1 || counts["summary"] != 1 {
		t.Errorf("应收到一条 start 和一条 summary: %v", counts)
	}
	// 90 根K线，每 10 根推送一次
	if counts["equity"] != 9 {
		t.Errorf("权益点推送数错误: got %d, want 9", counts["equity"])
	}
	if counts["fill"] == 0 || summary.Data.FinalEquity <= 0 {
		t.Errorf("应推送成交和汇总: counts=%v summary=%+v", counts, summary.Data)
	}
}

func TestWebSocketStartPrecedesFirstFill(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/backtest"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	defer conn.Close()

	// buy_and_hold 在第一根K线买入，成交先于第一个权益点
	if err := conn.WriteJSON(StreamRequest{BacktestRequest: BacktestRequest{Strategy: "buy_and_hold", Dataset: "btc.csv"}}); err != nil {
		t.Fatal(err)
	}

	var types []string
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		types = append(types, msg.Type)
	}
	if len(types) < 3 || types[0] != "start" || types[1] != "fill" || types[2] != "equity" {
		t.Errorf("消息顺序错误: %v", types)
	}
}

func TestWebSocketBadRequest(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/backtest"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.WriteJSON(StreamRequest{BacktestRequest: BacktestRequest{Dataset: "missing.csv"}})
	var msg StreamMessage
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "error" {
		t.Errorf("应收到错误消息, got %s", msg.Type)
	}
}

func TestParseAcceptLanguage(t *testing.T) {
	tests := map[string]string{
		"":                  "en-US",
		"zh-CN,zh;q=0.9":    "zh-CN",
		"fr-FR,en;q=0.8":    "en-US",
		"de-DE":             "en-US",
		"zh-TW":             "zh-CN",
		"en-GB,zh-CN;q=0.5": "en-US",
	}
	for header, want := range tests {
		if got := parseAcceptLanguage(header, "en-US"); got != want {
			t.Errorf("parseAcceptLanguage(%q) = %s, want %s", header, got, want)
		}
	}
}
