package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"meridian/backtest"
	"meridian/database"
	"meridian/logger"
	"meridian/runner"
	"meridian/strategy"
)

// BacktestRequest 回测请求
// bars 与 dataset 二选一；未设置的运行参数使用配置文件中的默认值
type BacktestRequest struct {
	Strategy       string             `json:"strategy"`
	Symbol         string             `json:"symbol"`
	Params         map[string]float64 `json:"params"`
	InitialCapital float64            `json:"initial_capital"`
	BarsPerYear    float64            `json:"bars_per_year"`
	RiskFreeRate   *float64           `json:"risk_free_rate"`
	LiquidateAtEnd *bool              `json:"liquidate_at_end"`
	Bars           backtest.BarSeries `json:"bars"`
	Dataset        string             `json:"dataset"`
	Report         bool               `json:"report"`
}

// BacktestResponse 回测响应
type BacktestResponse struct {
	Success     bool                     `json:"success"`
	Message     string                   `json:"message,omitempty"`
	Result      *backtest.BacktestResult `json:"result,omitempty"`
	Fingerprint string                   `json:"fingerprint,omitempty"`
	Cached      bool                     `json:"cached"`
	ReportPath  string                   `json:"report_path,omitempty"`
}

// SweepRequest 参数扫描请求
type SweepRequest struct {
	BacktestRequest
	Grid    map[string][]float64 `json:"grid"`
	Workers int                  `json:"workers"`
	Rank    bool                 `json:"rank"`
}

// SweepRow 参数扫描结果（不含权益曲线和成交明细）
type SweepRow struct {
	Params      map[string]float64    `json:"params"`
	FinalEquity float64               `json:"final_equity,omitempty"`
	Metrics     *backtest.Metrics     `json:"metrics,omitempty"`
	RiskMetrics *backtest.RiskMetrics `json:"risk_metrics,omitempty"`
	Error       string                `json:"error,omitempty"`
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

// options 合并请求参数与配置默认值
func (s *Server) options(req *BacktestRequest) backtest.RunOptions {
	opts := s.cfg.RunOptions()
	if req.Symbol != "" {
		opts.Symbol = req.Symbol
	}
	if req.InitialCapital != 0 {
		opts.InitialCapital = req.InitialCapital
	}
	if req.BarsPerYear > 0 {
		opts.BarsPerYear = req.BarsPerYear
	}
	if req.RiskFreeRate != nil {
		opts.RiskFreeRate = *req.RiskFreeRate
	}
	if req.LiquidateAtEnd != nil {
		opts.LiquidateAtEnd = *req.LiquidateAtEnd
	}
	return opts
}

// apiError 带 HTTP 状态码的错误消息（已本地化）
type apiError struct {
	status  int
	message string
}

func (e *apiError) respond(c *gin.Context) {
	respondError(c, e.status, e.message)
}

// resolve 校验请求并加载K线
func (s *Server) resolve(c *gin.Context, req *BacktestRequest) ([]backtest.Bar, *apiError) {
	if req.Strategy == "" {
		req.Strategy = s.cfg.Strategy.Name
	}
	if !s.runner.Registry().Has(req.Strategy) {
		return nil, &apiError{http.StatusBadRequest, T(c, "err_unknown_strategy", map[string]interface{}{"Name": req.Strategy})}
	}

	bars := []backtest.Bar(req.Bars)
	if req.Dataset != "" {
		loaded, err := s.catalog.Load(req.Dataset)
		if err != nil {
			if errors.Is(err, backtest.ErrDatasetNotFound) {
				return nil, &apiError{http.StatusNotFound, T(c, "err_dataset_not_found", map[string]interface{}{"Name": req.Dataset})}
			}
			return nil, s.runError(c, err)
		}
		bars = loaded
	}
	if len(bars) == 0 {
		return nil, &apiError{http.StatusBadRequest, T(c, "err_no_bars")}
	}
	if limit := s.cfg.Web.MaxBars; limit > 0 && len(bars) > limit {
		return nil, &apiError{http.StatusRequestEntityTooLarge, T(c, "err_too_many_bars", map[string]interface{}{"Count": len(bars), "Limit": limit})}
	}
	return bars, nil
}

// bindError 请求体解码失败；K线缺少字段时返回数据错误
func (s *Server) bindError(c *gin.Context, err error) *apiError {
	var dataErr *backtest.DataIntegrityError
	if errors.As(err, &dataErr) {
		return &apiError{http.StatusBadRequest, T(c, "err_data_integrity", map[string]interface{}{"Error": err.Error()})}
	}
	return &apiError{http.StatusBadRequest, T(c, "err_invalid_request", map[string]interface{}{"Error": err.Error()})}
}

// runError 把回测错误映射为 HTTP 状态码
func (s *Server) runError(c *gin.Context, err error) *apiError {
	var dataErr *backtest.DataIntegrityError
	switch {
	case errors.As(err, &dataErr):
		return &apiError{http.StatusBadRequest, T(c, "err_data_integrity", map[string]interface{}{"Error": err.Error()})}
	case errors.Is(err, strategy.ErrInvalidParam), errors.Is(err, backtest.ErrInvalidCapital):
		return &apiError{http.StatusBadRequest, T(c, "err_invalid_param", map[string]interface{}{"Error": err.Error()})}
	case errors.Is(err, strategy.ErrUnknownStrategy):
		return &apiError{http.StatusBadRequest, T(c, "err_invalid_request", map[string]interface{}{"Error": err.Error()})}
	case errors.Is(err, runner.ErrNoBars), errors.Is(err, backtest.ErrEmptyBars):
		return &apiError{http.StatusBadRequest, T(c, "err_no_bars")}
	default:
		logger.Error("❌ 回测失败: %v", err)
		return &apiError{http.StatusInternalServerError, T(c, "err_internal", map[string]interface{}{"Error": err.Error()})}
	}
}

// runBacktest 运行回测
func (s *Server) runBacktest(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err).respond(c)
		return
	}
	bars, apiErr := s.resolve(c, &req)
	if apiErr != nil {
		apiErr.respond(c)
		return
	}

	logger.Info("📊 开始回测: 策略=%s, K线=%d", req.Strategy, len(bars))
	out, err := s.runner.Run(c.Request.Context(), runner.Request{
		Strategy:       req.Strategy,
		Params:         req.Params,
		Options:        s.options(&req),
		Bars:           bars,
		Report:         req.Report,
		ReportLanguage: GetLanguage(c),
	})
	if err != nil {
		s.runError(c, err).respond(c)
		return
	}

	c.JSON(http.StatusOK, BacktestResponse{
		Success:     true,
		Result:      out.Result,
		Fingerprint: out.Fingerprint,
		Cached:      out.Cached,
		ReportPath:  out.ReportPath,
	})
}

// runSweep 运行参数扫描
func (s *Server) runSweep(c *gin.Context) {
	var req SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err).respond(c)
		return
	}
	bars, apiErr := s.resolve(c, &req.BacktestRequest)
	if apiErr != nil {
		apiErr.respond(c)
		return
	}
	workers := req.Workers
	if workers <= 0 || workers > s.cfg.Sweep.Workers {
		workers = s.cfg.Sweep.Workers
	}

	results, err := s.runner.Sweep(c.Request.Context(), runner.SweepRequest{
		Strategy: req.Strategy,
		Base:     req.Params,
		Grid:     req.Grid,
		Options:  s.options(&req.BacktestRequest),
		Bars:     bars,
		Workers:  workers,
		Rank:     req.Rank,
	})
	if err != nil {
		s.runError(c, err).respond(c)
		return
	}

	rows := make([]SweepRow, len(results))
	for i, r := range results {
		rows[i] = SweepRow{Params: r.Params, Error: r.Error}
		if r.Result != nil {
			rows[i].FinalEquity = r.Result.FinalEquity
			rows[i].Metrics = &r.Result.Metrics
			rows[i].RiskMetrics = &r.Result.RiskMetrics
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "results": rows})
}

// listBacktests 回测记录列表
func (s *Server) listBacktests(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	runs, err := s.runner.Database().ListRuns(c.Request.Context(), &database.RunFilter{
		Symbol:   c.Query("symbol"),
		Strategy: c.Query("strategy"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, T(c, "err_internal", map[string]interface{}{"Error": err.Error()}))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "runs": runs})
}

// getBacktest 完整回测结果
func (s *Server) getBacktest(c *gin.Context) {
	id := c.Param("id")
	result, err := s.runner.Database().GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			respondError(c, http.StatusNotFound, T(c, "err_run_not_found", map[string]interface{}{"ID": id}))
			return
		}
		respondError(c, http.StatusInternalServerError, T(c, "err_internal", map[string]interface{}{"Error": err.Error()}))
		return
	}
	c.JSON(http.StatusOK, BacktestResponse{Success: true, Result: result})
}

// deleteBacktest 删除回测记录
func (s *Server) deleteBacktest(c *gin.Context) {
	id := c.Param("id")
	if err := s.runner.Database().DeleteRun(c.Request.Context(), id); err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			respondError(c, http.StatusNotFound, T(c, "err_run_not_found", map[string]interface{}{"ID": id}))
			return
		}
		respondError(c, http.StatusInternalServerError, T(c, "err_internal", map[string]interface{}{"Error": err.Error()}))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// listStrategies 已注册策略及默认参数
func (s *Server) listStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "strategies": s.runner.Registry().List()})
}

// listDatasets 数据目录中的K线数据集
func (s *Server) listDatasets(c *gin.Context) {
	datasets, err := s.catalog.List()
	if err != nil {
		respondError(c, http.StatusInternalServerError, T(c, "err_internal", map[string]interface{}{"Error": err.Error()}))
		return
	}
	stats, _ := s.catalog.Stats()
	c.JSON(http.StatusOK, gin.H{"success": true, "datasets": datasets, "stats": stats})
}
