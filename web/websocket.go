package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"meridian/backtest"
	"meridian/logger"
	"meridian/runner"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源（生产环境应该限制）
	},
}

const (
	wsReadTimeout  = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// StreamRequest 实时回放请求（连接建立后客户端发送的第一条消息）
type StreamRequest struct {
	BacktestRequest
	// Stride 每隔多少根K线推送一次权益点，<= 1 时逐根推送；最后一个点总是推送
	Stride int `json:"stride"`
}

// StreamMessage 推送消息
type StreamMessage struct {
	Type string      `json:"type"` // start, equity, fill, reject, summary, error
	Data interface{} `json:"data"`
}

// streamSummary 回放结束时推送的汇总（不含权益曲线）
type streamSummary struct {
	ID            string                    `json:"id"`
	Symbol        string                    `json:"symbol"`
	Strategy      string                    `json:"strategy"`
	Params        map[string]float64        `json:"params,omitempty"`
	FinalEquity   float64                   `json:"final_equity"`
	FinalCash     float64                   `json:"final_cash"`
	Trades        []backtest.Trade          `json:"trades"`
	OpenPositions []backtest.Position       `json:"open_positions"`
	Rejected      []backtest.RejectedSignal `json:"rejected"`
	Metrics       backtest.Metrics          `json:"metrics"`
	RiskMetrics   backtest.RiskMetrics      `json:"risk_metrics"`
}

// wsStreamer 把回放事件写到 websocket 连接
// 观察者由回放循环同步调用，写入只发生在处理请求的 goroutine 中
type wsStreamer struct {
	conn    *websocket.Conn
	stride  int
	total   int
	count   int
	started bool
	err     error
}

func (w *wsStreamer) send(msgType string, data interface{}) {
	if w.err != nil {
		return
	}
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := w.conn.WriteJSON(StreamMessage{Type: msgType, Data: data}); err != nil {
		w.err = err
		logger.Debug("[WS] 推送失败: %v", err)
	}
}

// begin 第一个事件之前推送 start，无论它是成交、拒绝还是权益点
func (w *wsStreamer) begin(run backtest.RunInfo) {
	if w.started {
		return
	}
	w.started = true
	w.total = run.Bars
	w.send("start", run)
}

func (w *wsStreamer) OnFill(run backtest.RunInfo, fill backtest.Fill, trade *backtest.Trade) {
	w.begin(run)
	w.send("fill", gin.H{"fill": fill, "trade": trade})
}

func (w *wsStreamer) OnReject(run backtest.RunInfo, rejected backtest.RejectedSignal) {
	w.begin(run)
	w.send("reject", rejected)
}

func (w *wsStreamer) OnEquity(run backtest.RunInfo, point backtest.EquityPoint) {
	w.begin(run)
	w.count++
	if w.stride <= 1 || w.count%w.stride == 0 || w.count == w.total {
		w.send("equity", point)
	}
}

func (w *wsStreamer) OnComplete(run backtest.RunInfo, result *backtest.BacktestResult) {}

// handleWebSocket 实时回放：读取一条 StreamRequest，逐根推送权益点，最后推送汇总
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	fail := func(message string) {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		conn.WriteJSON(StreamMessage{Type: "error", Data: message})
	}

	var req StreamRequest
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	if err := conn.ReadJSON(&req); err != nil {
		fail(s.bindError(c, err).message)
		return
	}
	bars, apiErr := s.resolve(c, &req.BacktestRequest)
	if apiErr != nil {
		fail(apiErr.message)
		return
	}

	streamer := &wsStreamer{conn: conn, stride: req.Stride}
	out, err := s.runner.Run(c.Request.Context(), runner.Request{
		Strategy:  req.Strategy,
		Params:    req.Params,
		Options:   s.options(&req.BacktestRequest),
		Bars:      bars,
		SkipCache: true,
		Observers: []backtest.Observer{streamer},
	})
	if err != nil {
		fail(s.runError(c, err).message)
		return
	}

	r := out.Result
	streamer.send("summary", streamSummary{
		ID:            r.ID,
		Symbol:        r.Symbol,
		Strategy:      r.Strategy,
		Params:        r.Params,
		FinalEquity:   r.FinalEquity,
		FinalCash:     r.FinalCash,
		Trades:        r.Trades,
		OpenPositions: r.OpenPositions,
		Rejected:      r.Rejected,
		Metrics:       r.Metrics,
		RiskMetrics:   r.RiskMetrics,
	})

	// 正常关闭
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
