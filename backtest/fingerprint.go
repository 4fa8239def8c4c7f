package backtest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"
)

// Fingerprint 回测输入的 sha256 指纹
// K线、策略名、参数和运行参数完全相同的回测结果一致，可以用指纹做结果缓存的 key
func Fingerprint(bars []Bar, strategy string, params map[string]float64, opts RunOptions) string {
	h := sha256.New()
	var buf [8]byte

	writeUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	writeFloat := func(v float64) { writeUint(math.Float64bits(v)) }
	writeString := func(s string) {
		writeUint(uint64(len(s)))
		h.Write([]byte(s))
	}

	writeUint(uint64(len(bars)))
	for _, b := range bars {
		writeUint(uint64(b.Timestamp))
		writeFloat(b.Open)
		writeFloat(b.High)
		writeFloat(b.Low)
		writeFloat(b.Close)
		writeFloat(b.Volume)
	}

	writeString(strategy)
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeUint(uint64(len(keys)))
	for _, k := range keys {
		writeString(k)
		writeFloat(params[k])
	}

	barsPerYear := opts.BarsPerYear
	if barsPerYear <= 0 {
		barsPerYear = defaultBarsPerYear
	}
	writeString(opts.Symbol)
	writeFloat(opts.InitialCapital)
	writeFloat(barsPerYear)
	writeFloat(opts.RiskFreeRate)
	if opts.LiquidateAtEnd {
		writeUint(1)
	} else {
		writeUint(0)
	}

	return hex.EncodeToString(h.Sum(nil))
}
