package backtest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"meridian/logger"
)

// 数据文件格式
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// BarRecord Parquet 文件中的K线结构
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

var csvHeader = []string{"timestamp", "open", "high", "low", "close", "volume"}

// DetectFormat 根据扩展名推断数据格式
func DetectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet", ".pq":
		return FormatParquet
	default:
		return FormatCSV
	}
}

// LoadBars 加载K线文件，format 为空时按扩展名推断
// 加载结果已经过 ValidateBars 校验
func LoadBars(path, format string) ([]Bar, error) {
	if format == "" {
		format = DetectFormat(path)
	}

	var (
		bars []Bar
		err  error
	)
	switch format {
	case FormatCSV:
		bars, err = LoadBarsCSV(path)
	case FormatParquet:
		bars, err = LoadBarsParquet(path)
	default:
		return nil, fmt.Errorf("unsupported data format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if err := ValidateBars(bars); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Info("✅ 加载K线: %s (%d 根)", path, len(bars))
	return bars, nil
}

// LoadBarsCSV 从 CSV 文件加载K线
func LoadBarsCSV(path string) ([]Bar, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开数据文件失败: %w", err)
	}
	defer file.Close()

	bars, err := ReadBarsCSV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// ReadBarsCSV 解析 CSV K线
// 支持带表头（列名 timestamp/date/time, open, high, low, close, volume，顺序任意，可带 symbol 等额外列）
// 或不带表头（固定顺序 timestamp,open,high,low,close,volume）
// 缺失或无法解析的字段返回 *DataIntegrityError，不会跳过
func ReadBarsCSV(r io.Reader) ([]Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("读取 CSV 失败: %w", err)
	}
	if len(records) == 0 {
		return []Bar{}, nil
	}

	columns, hasHeader := csvColumns(records[0])
	if hasHeader {
		records = records[1:]
	}

	bars := make([]Bar, 0, len(records))
	for _, record := range records {
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		bar, err := parseCSVRecord(record, columns, len(bars))
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// csvColumns 识别表头，返回字段到列下标的映射
func csvColumns(first []string) (map[string]int, bool) {
	columns := make(map[string]int, len(csvHeader))
	for i, name := range first {
		switch key := strings.ToLower(strings.TrimSpace(name)); key {
		case "timestamp", "date", "time", "datetime":
			columns["timestamp"] = i
		case "open", "high", "low", "close", "volume":
			columns[key] = i
		}
	}
	if _, ok := columns["timestamp"]; ok && len(columns) > 1 {
		return columns, true
	}

	for i, name := range csvHeader {
		columns[name] = i
	}
	return columns, false
}

// parseCSVRecord 解析 CSV 记录
func parseCSVRecord(record []string, columns map[string]int, index int) (Bar, error) {
	field := func(name string) (string, error) {
		col, ok := columns[name]
		if !ok || col >= len(record) || strings.TrimSpace(record[col]) == "" {
			return "", &DataIntegrityError{Index: index, Field: name, Reason: "missing field"}
		}
		return strings.TrimSpace(record[col]), nil
	}

	raw, err := field("timestamp")
	if err != nil {
		return Bar{}, err
	}
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return Bar{}, &DataIntegrityError{Index: index, Field: "timestamp", Reason: err.Error()}
	}

	bar := Bar{Timestamp: ts}
	targets := []struct {
		name string
		dst  *float64
	}{
		{"open", &bar.Open},
		{"high", &bar.High},
		{"low", &bar.Low},
		{"close", &bar.Close},
		{"volume", &bar.Volume},
	}
	for _, t := range targets {
		raw, err := field(t.name)
		if err != nil {
			var die *DataIntegrityError
			if errors.As(err, &die) {
				die.Timestamp = ts
			}
			return Bar{}, err
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Bar{}, &DataIntegrityError{Index: index, Timestamp: ts, Field: t.name,
				Reason: fmt.Sprintf("invalid number %q", raw)}
		}
		*t.dst = v
	}
	return bar, nil
}

// ParseTimestamp 解析时间戳：Unix 毫秒（绝对值小于 1e11 的整数视为 Unix 秒）、RFC3339、2006-01-02 15:04:05、2006-01-02
func ParseTimestamp(raw string) (int64, error) {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > -1e11 && n < 1e11 {
			return n * 1000, nil
		}
		return n, nil
	}
	layouts := []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized timestamp %q", raw)
}

// SaveBarsCSV 保存K线到 CSV（带表头，时间戳为 Unix 毫秒）
func SaveBarsCSV(path string, bars []Bar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建文件失败: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, bar := range bars {
		record := []string{
			strconv.FormatInt(bar.Timestamp, 10),
			strconv.FormatFloat(bar.Open, 'f', -1, 64),
			strconv.FormatFloat(bar.High, 'f', -1, 64),
			strconv.FormatFloat(bar.Low, 'f', -1, 64),
			strconv.FormatFloat(bar.Close, 'f', -1, 64),
			strconv.FormatFloat(bar.Volume, 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// LoadBarsParquet 从 Parquet 文件加载K线
func LoadBarsParquet(path string) ([]Bar, error) {
	records, err := parquet.ReadFile[BarRecord](path)
	if err != nil {
		return nil, fmt.Errorf("读取 parquet 失败: %w", err)
	}
	bars := make([]Bar, len(records))
	for i, r := range records {
		bars[i] = Bar{
			Timestamp: r.Timestamp,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		}
	}
	return bars, nil
}

// SaveBarsParquet 保存K线到 Parquet 文件
func SaveBarsParquet(path, symbol string, bars []Bar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	records := make([]BarRecord, len(bars))
	for i, b := range bars {
		records[i] = BarRecord{
			Symbol:    symbol,
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}
	return parquet.WriteFile(path, records)
}
