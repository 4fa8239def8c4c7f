package backtest

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"

	"meridian/i18n"
	"meridian/utils"
)

const defaultReportDir = "backtest/reports"

// ReportOptions 报告输出参数
type ReportOptions struct {
	Dir      string // 输出目录，默认 backtest/reports
	Language string // en-US / zh-CN，默认系统语言
}

func (o ReportOptions) dir() string {
	if o.Dir == "" {
		return defaultReportDir
	}
	return o.Dir
}

// GenerateReport 生成 Markdown 回测报告，返回报告路径
func GenerateReport(result *BacktestResult, opts ReportOptions) (string, error) {
	reportDir := opts.dir()
	if err := os.MkdirAll(reportDir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	reportPath := filepath.Join(reportDir, reportBaseName(result)+".md")

	content, err := RenderReport(result, opts.Language)
	if err != nil {
		return "", fmt.Errorf("渲染报告模板失败: %w", err)
	}

	if err := os.WriteFile(reportPath, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("写入报告文件失败: %w", err)
	}

	return reportPath, nil
}

// reportBaseName 策略_标的_回测起止时间，同一次回测的报告和权益曲线文件名一致
func reportBaseName(result *BacktestResult) string {
	name := fmt.Sprintf("%s_%s_%s_%s",
		result.Strategy,
		result.Symbol,
		result.StartTime.Format("20060102"),
		result.EndTime.Format("20060102"),
	)
	if result.ID != "" {
		name += "_" + result.ID
	}
	return strings.NewReplacer("/", "-", " ", "-").Replace(name)
}

// ReportData 报告数据
type ReportData struct {
	// 基本信息
	Strategy       string
	Symbol         string
	Params         string
	GeneratedAt    string
	StartDate      string
	EndDate        string
	Duration       string
	InitialCapital string
	FinalEquity    string

	// 收益指标
	TotalReturn      string
	AnnualizedReturn string

	// 风险指标
	MaxDrawdown         string
	MaxDrawdownDuration string
	Volatility          string

	// 风险调整收益
	SharpeRatio  string
	SortinoRatio string
	CalmarRatio  string

	// 交易指标
	TotalTrades          string
	RejectedSignals      string
	WinRate              string
	ProfitFactor         string
	AvgWin               string
	AvgLoss              string
	LargestWin           string
	LargestLoss          string
	MaxConsecutiveWins   string
	MaxConsecutiveLosses string

	// 交易明细
	TopTrades []TradeRow

	// 风险指标
	VaR95  string
	VaR99  string
	CVaR95 string
	CVaR99 string

	// 结论
	Conclusion string
}

// TradeRow 交易行
type TradeRow struct {
	EntryTime  string
	ExitTime   string
	EntryPrice string
	ExitPrice  string
	Quantity   string
	PnL        string
}

func pct(v float64) string {
	return utils.FormatPercentage(v*100, 2)
}

// prepareReportData 准备报告数据
func prepareReportData(result *BacktestResult, lang string) ReportData {
	m := result.Metrics
	t := func(key string) string { return i18n.TWithLang(lang, key) }

	duration := result.EndTime.Sub(result.StartTime)
	durationStr := fmt.Sprintf("%d %s", int(duration.Hours()/24), t("unit_days"))

	topTrades := make([]TradeRow, 0, 20)
	for _, trade := range result.Trades {
		if len(topTrades) >= 20 {
			break
		}
		topTrades = append(topTrades, TradeRow{
			EntryTime:  utils.FormatMillis(trade.EntryTime, "2006-01-02 15:04"),
			ExitTime:   utils.FormatMillis(trade.ExitTime, "2006-01-02 15:04"),
			EntryPrice: fmt.Sprintf("%.4f", trade.EntryPrice),
			ExitPrice:  fmt.Sprintf("%.4f", trade.ExitPrice),
			Quantity:   fmt.Sprintf("%.4f", trade.Quantity),
			PnL:        fmt.Sprintf("%.2f", trade.PnL),
		})
	}

	profitFactor := fmt.Sprintf("%.2f", m.ProfitFactor)
	if math.IsInf(m.ProfitFactor, 1) {
		profitFactor = "∞ (" + t("no_losses") + ")"
	}

	return ReportData{
		Strategy:       result.Strategy,
		Symbol:         result.Symbol,
		Params:         formatParams(result.Params),
		GeneratedAt:    utils.ToConfiguredTimezone(time.Now()).Format("2006-01-02 15:04:05"),
		StartDate:      utils.ToConfiguredTimezone(result.StartTime).Format("2006-01-02"),
		EndDate:        utils.ToConfiguredTimezone(result.EndTime).Format("2006-01-02"),
		Duration:       durationStr,
		InitialCapital: fmt.Sprintf("%.2f", result.InitialCapital),
		FinalEquity:    fmt.Sprintf("%.2f", result.FinalEquity),

		TotalReturn:      pct(m.TotalReturn),
		AnnualizedReturn: pct(m.AnnualizedReturn),

		MaxDrawdown:         pct(m.MaxDrawdown),
		MaxDrawdownDuration: fmt.Sprintf("%d %s", m.MaxDrawdownDuration, t("unit_bars")),
		Volatility:          pct(m.Volatility),

		SharpeRatio:  fmt.Sprintf("%.2f", m.SharpeRatio),
		SortinoRatio: fmt.Sprintf("%.2f", m.SortinoRatio),
		CalmarRatio:  fmt.Sprintf("%.2f", m.CalmarRatio),

		TotalTrades:          strconv.Itoa(m.TotalTrades),
		RejectedSignals:      strconv.Itoa(m.RejectedSignals),
		WinRate:              pct(m.WinRate),
		ProfitFactor:         profitFactor,
		AvgWin:               fmt.Sprintf("%.2f", m.AvgWin),
		AvgLoss:              fmt.Sprintf("%.2f", m.AvgLoss),
		LargestWin:           fmt.Sprintf("%.2f", m.LargestWin),
		LargestLoss:          fmt.Sprintf("%.2f", m.LargestLoss),
		MaxConsecutiveWins:   fmt.Sprintf("%d %s", m.MaxConsecutiveWins, t("unit_trades")),
		MaxConsecutiveLosses: fmt.Sprintf("%d %s", m.MaxConsecutiveLosses, t("unit_trades")),

		TopTrades: topTrades,

		VaR95:  pct(result.RiskMetrics.VaR95),
		VaR99:  pct(result.RiskMetrics.VaR99),
		CVaR95: pct(result.RiskMetrics.CVaR95),
		CVaR99: pct(result.RiskMetrics.CVaR99),

		Conclusion: generateConclusion(result, lang),
	}
}

func formatParams(params map[string]float64) string {
	if len(params) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, strconv.FormatFloat(params[k], 'f', -1, 64))
	}
	return strings.Join(parts, ", ")
}

// generateConclusion 生成结论
func generateConclusion(result *BacktestResult, lang string) string {
	m := result.Metrics
	t := func(key string) string { return i18n.TWithLang(lang, key) }
	var conclusions []string

	// 收益评估
	switch {
	case m.TotalReturn > 0.5:
		conclusions = append(conclusions, t("conclusion_return_excellent"))
	case m.TotalReturn > 0.2:
		conclusions = append(conclusions, t("conclusion_return_good"))
	case m.TotalReturn > 0:
		conclusions = append(conclusions, t("conclusion_return_low"))
	default:
		conclusions = append(conclusions, t("conclusion_return_loss"))
	}

	// 风险评估
	switch {
	case m.MaxDrawdown < 0.1:
		conclusions = append(conclusions, t("conclusion_dd_low"))
	case m.MaxDrawdown < 0.2:
		conclusions = append(conclusions, t("conclusion_dd_mid"))
	default:
		conclusions = append(conclusions, t("conclusion_dd_high"))
	}

	// 夏普比率评估
	switch {
	case m.SharpeRatio > 2:
		conclusions = append(conclusions, t("conclusion_sharpe_excellent"))
	case m.SharpeRatio > 1:
		conclusions = append(conclusions, t("conclusion_sharpe_good"))
	case m.SharpeRatio > 0:
		conclusions = append(conclusions, t("conclusion_sharpe_fair"))
	default:
		conclusions = append(conclusions, t("conclusion_sharpe_poor"))
	}

	if m.TotalTrades == 0 {
		conclusions = append(conclusions, t("conclusion_no_trades"))
		return strings.Join(conclusions, "\n\n")
	}

	// 胜率评估
	switch {
	case m.WinRate > 0.6:
		conclusions = append(conclusions, t("conclusion_winrate_high"))
	case m.WinRate > 0.5:
		conclusions = append(conclusions, t("conclusion_winrate_good"))
	default:
		conclusions = append(conclusions, t("conclusion_winrate_low"))
	}

	// 利润因子评估
	switch {
	case math.IsInf(m.ProfitFactor, 1):
		conclusions = append(conclusions, t("conclusion_pf_inf"))
	case m.ProfitFactor > 2:
		conclusions = append(conclusions, t("conclusion_pf_excellent"))
	case m.ProfitFactor > 1.5:
		conclusions = append(conclusions, t("conclusion_pf_good"))
	case m.ProfitFactor > 1:
		conclusions = append(conclusions, t("conclusion_pf_fair"))
	default:
		conclusions = append(conclusions, t("conclusion_pf_poor"))
	}

	return strings.Join(conclusions, "\n\n")
}

const reportTemplate = `# {{tt "report_title"}}

{{t "report_generated_at"}}: {{.GeneratedAt}}

## {{t "report_summary"}}

- **{{t "report_symbol"}}**: {{.Symbol}}
- **{{t "report_params"}}**: {{.Params}}
- **{{t "report_period"}}**: {{.StartDate}} {{t "to"}} {{.EndDate}} ({{.Duration}})
- **{{t "report_initial_capital"}}**: {{.InitialCapital}}
- **{{t "report_final_equity"}}**: {{.FinalEquity}}
- **{{t "total_return"}}**: {{.TotalReturn}}
- **{{t "max_drawdown"}}**: {{.MaxDrawdown}}
- **{{t "sharpe_ratio"}}**: {{.SharpeRatio}}

## {{t "report_returns"}}

| {{t "metric"}} | {{t "value"}} |
|------|------|
| {{t "total_return"}} | {{.TotalReturn}} |
| {{t "annualized_return"}} | {{.AnnualizedReturn}} |

## {{t "report_risk"}}

| {{t "metric"}} | {{t "value"}} |
|------|------|
| {{t "max_drawdown"}} | {{.MaxDrawdown}} |
| {{t "max_drawdown_duration"}} | {{.MaxDrawdownDuration}} |
| {{t "volatility"}} | {{.Volatility}} |

## {{t "report_risk_adjusted"}}

| {{t "metric"}} | {{t "value"}} |
|------|------|
| {{t "sharpe_ratio"}} | {{.SharpeRatio}} |
| {{t "sortino_ratio"}} | {{.SortinoRatio}} |
| {{t "calmar_ratio"}} | {{.CalmarRatio}} |

## {{t "report_trading"}}

| {{t "metric"}} | {{t "value"}} |
|------|------|
| {{t "total_trades"}} | {{.TotalTrades}} |
| {{t "rejected_signals"}} | {{.RejectedSignals}} |
| {{t "win_rate"}} | {{.WinRate}} |
| {{t "profit_factor"}} | {{.ProfitFactor}} |
| {{t "avg_win"}} | {{.AvgWin}} |
| {{t "avg_loss"}} | {{.AvgLoss}} |
| {{t "largest_win"}} | {{.LargestWin}} |
| {{t "largest_loss"}} | {{.LargestLoss}} |
| {{t "max_consecutive_wins"}} | {{.MaxConsecutiveWins}} |
| {{t "max_consecutive_losses"}} | {{.MaxConsecutiveLosses}} |

## {{t "report_trades_detail"}}

| {{t "col_entry_time"}} | {{t "col_exit_time"}} | {{t "col_entry_price"}} | {{t "col_exit_price"}} | {{t "col_quantity"}} | {{t "col_pnl"}} |
|------|------|------|------|------|------|
{{range .TopTrades}}| {{.EntryTime}} | {{.ExitTime}} | {{.EntryPrice}} | {{.ExitPrice}} | {{.Quantity}} | {{.PnL}} |
{{end}}

## {{t "report_advanced_risk"}}

| {{t "metric"}} | {{t "value"}} | {{t "note"}} |
|------|------|------|
| VaR (95%) | {{.VaR95}} | {{t "var_note"}} |
| VaR (99%) | {{.VaR99}} | {{t "var_note"}} |
| CVaR (95%) | {{.CVaR95}} | {{t "cvar_note"}} |
| CVaR (99%) | {{.CVaR99}} | {{t "cvar_note"}} |

## {{t "report_conclusion"}}

{{.Conclusion}}

---

*{{t "report_footer"}}*
`

// RenderReport 渲染 Markdown 报告内容
func RenderReport(result *BacktestResult, lang string) (string, error) {
	if lang == "" {
		lang = i18n.GetSystemLanguage()
	}
	data := prepareReportData(result, lang)

	funcs := template.FuncMap{
		"t": func(key string) string { return i18n.TWithLang(lang, key) },
		"tt": func(key string) string {
			return i18n.TWithLang(lang, key, map[string]interface{}{"Strategy": data.Strategy})
		},
	}
	tmpl, err := template.New("report").Funcs(funcs).Parse(reportTemplate)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SaveEquityCurveCSV 保存权益曲线到 CSV
func SaveEquityCurveCSV(result *BacktestResult, dir string) (string, error) {
	if dir == "" {
		dir = defaultReportDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	csvPath := filepath.Join(dir, reportBaseName(result)+"_equity.csv")
	file, err := os.Create(csvPath)
	if err != nil {
		return "", fmt.Errorf("创建 CSV 文件失败: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"timestamp", "equity"}); err != nil {
		return "", err
	}
	for _, point := range result.Equity {
		record := []string{
			strconv.FormatInt(point.Timestamp, 10),
			strconv.FormatFloat(point.Equity, 'f', 2, 64),
		}
		if err := writer.Write(record); err != nil {
			return "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}
	return csvPath, nil
}
