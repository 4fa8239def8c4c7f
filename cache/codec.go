package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"meridian/backtest"
)

func encodeResult(result *backtest.BacktestResult) ([]byte, error) {
	if result == nil {
		return nil, errors.New("cannot cache nil result")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result failed: %w", err)
	}
	return data, nil
}

func decodeResult(data []byte) (*backtest.BacktestResult, error) {
	var result backtest.BacktestResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode result failed: %w", err)
	}
	return &result, nil
}
