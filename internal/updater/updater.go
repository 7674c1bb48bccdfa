// Package updater recomputes the persisted technical indicators for
// stocks from their full price history. Every refresh is a full
// recompute: all indicator columns of every bar are rewritten from
// scratch, so repeated runs over unchanged history are idempotent.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"stockanalysis/internal/metrics"
	"stockanalysis/internal/model"
	"stockanalysis/internal/series"
)

// Persisted precision per indicator family. Values are carried as full
// float64 through the math and rounded once, here, at the storage
// boundary.
const (
	maDecimals   = 2 // MA, EMA, RSI columns
	macdDecimals = 4 // MACD, signal, histogram columns
)

// Updater orchestrates indicator recomputes against a price history
// store.
type Updater struct {
	store model.PriceHistoryStore
	log   *slog.Logger
	m     *metrics.Metrics // may be nil

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-symbol, serializes concurrent refreshes
}

// New creates an updater. Metrics may be nil.
func New(store model.PriceHistoryStore, logger *slog.Logger, m *metrics.Metrics) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{
		store: store,
		log:   logger,
		m:     m,
		locks: make(map[string]*sync.Mutex),
	}
}

// RefreshStock recomputes and persists every indicator for one stock.
//
// A stock with no price history is a no-op: nothing is written and the
// result reports Skipped. On a persistence failure the remaining bar
// writes are abandoned and the error is returned; bars written before
// the failure keep their fresh values, which is safe because the next
// successful refresh rewrites everything.
func (u *Updater) RefreshStock(ctx context.Context, symbol string) (model.RefreshResult, error) {
	lock := u.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	result := model.RefreshResult{Symbol: symbol}

	bars, err := u.store.PriceHistory(ctx, symbol)
	if err != nil {
		result.Error = err.Error()
		return result, fmt.Errorf("load price history for %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		result.Skipped = true
		return result, nil
	}

	prices := make([]float64, len(bars))
	for i, b := range bars {
		prices[i] = b.Close
	}
	bundle := series.ComputeAll(prices)

	for i, b := range bars {
		ind := indicatorSetAt(bundle, i)
		if err := u.store.SaveIndicators(ctx, b.ID, ind); err != nil {
			if u.m != nil {
				u.m.RefreshErrorsTotal.Inc()
			}
			result.Error = err.Error()
			return result, fmt.Errorf("save indicators for %s bar %d: %w", symbol, b.ID, err)
		}
		result.UpdatedCount++
	}

	elapsed := time.Since(start)
	if u.m != nil {
		u.m.RefreshDur.Observe(elapsed.Seconds())
		u.m.BarsUpdatedTotal.Add(float64(result.UpdatedCount))
		u.m.StocksRefreshed.Inc()
	}
	u.log.Info("indicators refreshed",
		slog.String("symbol", symbol),
		slog.Int("bars", result.UpdatedCount),
		slog.Duration("elapsed", elapsed),
	)
	return result, nil
}

// RefreshAll recomputes indicators for every known stock. One stock's
// failure is recorded in its result and does not stop the sweep;
// context cancellation does, between stocks.
func (u *Updater) RefreshAll(ctx context.Context) ([]model.RefreshResult, error) {
	symbols, err := u.store.ListSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}

	results := make([]model.RefreshResult, 0, len(symbols))
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := u.RefreshStock(ctx, sym)
		if err != nil {
			u.log.Warn("refresh failed", slog.String("symbol", sym), slog.String("err", err.Error()))
		}
		results = append(results, res)
	}
	return results, nil
}

func (u *Updater) symbolLock(symbol string) *sync.Mutex {
	u.mu.Lock()
	defer u.mu.Unlock()
	lock, ok := u.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		u.locks[symbol] = lock
	}
	return lock
}

// indicatorSetAt maps the computed series at one bar index to the
// persisted column set. Warm-up NaNs become nil pointers.
func indicatorSetAt(b series.Bundle, i int) model.IndicatorSet {
	return model.IndicatorSet{
		MA5:           roundPtr(b.MA5[i], maDecimals),
		MA10:          roundPtr(b.MA10[i], maDecimals),
		MA20:          roundPtr(b.MA20[i], maDecimals),
		MA50:          roundPtr(b.MA50[i], maDecimals),
		EMA12:         roundPtr(b.EMA12[i], maDecimals),
		EMA26:         roundPtr(b.EMA26[i], maDecimals),
		MACD:          roundPtr(b.MACD.Line[i], macdDecimals),
		MACDSignal:    roundPtr(b.MACD.Signal[i], macdDecimals),
		MACDHistogram: roundPtr(b.MACD.Histogram[i], macdDecimals),
		RSI:           roundPtr(b.RSI[i], maDecimals),
	}
}

func roundPtr(v float64, decimals int) *float64 {
	if !series.Defined(v) {
		return nil
	}
	pow := math.Pow(10, float64(decimals))
	r := math.Round(v*pow) / pow
	return &r
}
