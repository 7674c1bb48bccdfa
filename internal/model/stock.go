package model

import "time"

// Stock is the reference record for a listed instrument.
type Stock struct {
	ID       int64  `json:"id"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Sector   string `json:"sector,omitempty"`
	Industry string `json:"industry,omitempty"`
}

// PriceBar is one day's OHLCV record for a stock.
// Bars are unique per (stock, date) and ordered by date ascending for
// indicator computation. Only the Indicators field is mutated after insert.
type PriceBar struct {
	ID      int64     `json:"id"`
	StockID int64     `json:"stock_id"`
	Date    time.Time `json:"date"`
	Open    float64   `json:"open"`
	High    float64   `json:"high"`
	Low     float64   `json:"low"`
	Close   float64   `json:"close"`
	Volume  int64     `json:"volume"`

	Indicators IndicatorSet `json:"indicators"`
}

// IndicatorSet holds the computed technical indicators for one bar.
// A nil field means the indicator is still in its warm-up period for
// that bar — not enough prior history exists. That is never an error.
type IndicatorSet struct {
	MA5           *float64 `json:"ma_5"`
	MA10          *float64 `json:"ma_10"`
	MA20          *float64 `json:"ma_20"`
	MA50          *float64 `json:"ma_50"`
	EMA12         *float64 `json:"ema_12"`
	EMA26         *float64 `json:"ema_26"`
	MACD          *float64 `json:"macd"`
	MACDSignal    *float64 `json:"macd_signal"`
	MACDHistogram *float64 `json:"macd_histogram"`
	RSI           *float64 `json:"rsi"`
}

// RefreshResult reports the outcome of an indicator recompute for one stock.
type RefreshResult struct {
	Symbol       string `json:"symbol"`
	UpdatedCount int    `json:"updated_count"`
	Skipped      bool   `json:"skipped,omitempty"` // true when the stock has no price history
	Error        string `json:"error,omitempty"`
}
