package utils

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrInvalidRisk 仓位计算参数非法（风险比例 <= 0 或入场价等于止损价）
var ErrInvalidRisk = errors.New("invalid risk parameters")

// Side 持仓方向
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// PositionSize 按固定风险比例计算可开仓数量
// riskPercent 以百分比表示（2 表示 2%）
func PositionSize(capital, riskPercent, entryPrice, stopLoss float64) (float64, error) {
	if riskPercent <= 0 {
		return 0, fmt.Errorf("%w: risk percent must be positive, got %v", ErrInvalidRisk, riskPercent)
	}
	if capital <= 0 {
		return 0, fmt.Errorf("%w: capital must be positive, got %v", ErrInvalidRisk, capital)
	}
	riskPerUnit := math.Abs(entryPrice - stopLoss)
	if riskPerUnit == 0 {
		return 0, fmt.Errorf("%w: entry price equals stop loss (%v)", ErrInvalidRisk, entryPrice)
	}
	return capital * riskPercent / 100 / riskPerUnit, nil
}

// RiskRewardRatio 盈亏比 = |目标价-入场价| / |入场价-止损价|
func RiskRewardRatio(entryPrice, targetPrice, stopLoss float64) (float64, error) {
	risk := math.Abs(entryPrice - stopLoss)
	if risk == 0 {
		return 0, fmt.Errorf("%w: entry price equals stop loss (%v)", ErrInvalidRisk, entryPrice)
	}
	return math.Abs(targetPrice-entryPrice) / risk, nil
}

// PnL 计算盈亏，空头方向翻转符号
func PnL(entryPrice, exitPrice, quantity float64, side Side) float64 {
	diff := exitPrice - entryPrice
	if side == SideShort {
		diff = -diff
	}
	return diff * quantity
}

// PnLPercent 计算盈亏百分比（5 表示 5%），入场价为 0 时返回 0
func PnLPercent(entryPrice, exitPrice float64, side Side) float64 {
	if entryPrice == 0 {
		return 0
	}
	pct := (exitPrice - entryPrice) / entryPrice * 100
	if side == SideShort {
		pct = -pct
	}
	return pct
}

// WinRate 盈利笔数占比，取值 [0,1]，无交易时为 0
func WinRate(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	wins := 0
	for _, p := range pnls {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(pnls))
}

// AverageWinLoss 分别返回盈利交易和亏损交易的平均盈亏
// avgLoss 保留负号；对应子集为空时返回 0
func AverageWinLoss(pnls []float64) (avgWin, avgLoss float64) {
	var winSum, lossSum float64
	var wins, losses int
	for _, p := range pnls {
		switch {
		case p > 0:
			winSum += p
			wins++
		case p < 0:
			lossSum += p
			losses++
		}
	}
	if wins > 0 {
		avgWin = winSum / float64(wins)
	}
	if losses > 0 {
		avgLoss = lossSum / float64(losses)
	}
	return avgWin, avgLoss
}

// ProfitFactor 总盈利 / |总亏损|
// 无交易返回 0；有交易但没有亏损时返回 +Inf
func ProfitFactor(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	var gross, loss float64
	for _, p := range pnls {
		if p > 0 {
			gross += p
		} else if p < 0 {
			loss += -p
		}
	}
	if loss == 0 {
		return math.Inf(1)
	}
	return gross / loss
}

// CompoundReturn 复合收益率，输入输出均为小数（0.025 表示 2.5%）
func CompoundReturn(returns []float64) float64 {
	total := 1.0
	for _, r := range returns {
		total *= 1 + r
	}
	return total - 1
}

// Mean 算术平均，空序列为 0
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev 总体标准差，空序列为 0
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}

// allEqual 序列中所有值是否完全相同
func allEqual(values []float64) bool {
	for i := 1; i < len(values); i++ {
		if values[i] != values[0] {
			return false
		}
	}
	return true
}

// SharpeRatio 年化夏普比率 = (mean - rf/periods) / stdev * sqrt(periods)
// 收益率全部相同（标准差为 0）时返回 0
func SharpeRatio(returns []float64, periodsPerYear, riskFreeRate float64) float64 {
	if len(returns) == 0 || allEqual(returns) || periodsPerYear <= 0 {
		return 0
	}
	std := StdDev(returns)
	if std == 0 {
		return 0
	}
	excess := Mean(returns) - riskFreeRate/periodsPerYear
	return excess / std * math.Sqrt(periodsPerYear)
}

// FormatCurrency 以千分位格式化金额，如 "USD 1,234.56"
func FormatCurrency(amount float64, code string) (string, error) {
	unit, err := currency.ParseISO(strings.ToUpper(code))
	if err != nil {
		return "", fmt.Errorf("unknown currency %q: %w", code, err)
	}
	p := message.NewPrinter(language.English)
	return unit.String() + " " + p.Sprintf("%.2f", amount), nil
}

// FormatPercentage 格式化百分比数值，如 FormatPercentage(15.678, 1) = "15.7%"
func FormatPercentage(value float64, decimals int) string {
	if decimals < 0 {
		decimals = 0
	}
	return fmt.Sprintf("%.*f%%", decimals, value)
}

// ValidateTradeParams 校验下单参数
func ValidateTradeParams(symbol string, quantity, price float64) error {
	if strings.TrimSpace(symbol) == "" {
		return errors.New("symbol is empty")
	}
	if quantity <= 0 || math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return fmt.Errorf("quantity must be positive and finite, got %v", quantity)
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return fmt.Errorf("price must be positive and finite, got %v", price)
	}
	return nil
}
