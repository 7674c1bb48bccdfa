// Package series provides technical indicator calculations over an
// ordered close-price series.
//
// All functions are pure: they take a slice of closing prices (one per
// bar, ascending date) and return slices of the same length, aligned to
// the input index space. A value inside an indicator's warm-up period
// is math.NaN(); use Defined to test it. Intermediate math stays in
// float64 throughout — rounding happens only at the persistence
// boundary, never between indicator stages.
package series

import "math"

// Default periods matching the persisted indicator columns.
const (
	MACDFastPeriod   = 12
	MACDSlowPeriod   = 26
	MACDSignalPeriod = 9
	RSIPeriod        = 14
)

// Defined reports whether an indicator value is outside its warm-up
// period.
func Defined(v float64) bool { return !math.IsNaN(v) }

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// MA computes the simple moving average with the given period.
// out[i] is defined iff i >= period-1 and equals the arithmetic mean of
// the period most recent prices up to and including i.
// Uses a rolling window sum for a single O(n) pass.
func MA(prices []float64, period int) []float64 {
	out := nanSlice(len(prices))
	if period <= 0 || len(prices) < period {
		return out
	}

	sum := 0.0
	for i, p := range prices {
		sum += p
		if i >= period {
			sum -= prices[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes the exponential moving average with the given period.
// The first defined value, at index period-1, is the simple average of
// the first period prices (SMA seed). From there on:
//
//	ema[i] = price[i]*k + ema[i-1]*(1-k), k = 2/(period+1)
func EMA(prices []float64, period int) []float64 {
	out := nanSlice(len(prices))
	if period <= 0 || len(prices) < period {
		return out
	}

	sum := 0.0
	for _, p := range prices[:period] {
		sum += p
	}
	out[period-1] = sum / float64(period)

	k := 2.0 / float64(period+1)
	for i := period; i < len(prices); i++ {
		out[i] = prices[i]*k + out[i-1]*(1-k)
	}
	return out
}

// MACDResult holds the three MACD output series, all aligned to the
// input index space.
type MACDResult struct {
	Line      []float64 // emaFast - emaSlow
	Signal    []float64 // EMA(signalPeriod) of the defined MACD values
	Histogram []float64 // Line - Signal
}

// MACD computes the MACD line, signal line, and histogram.
//
// The signal line is the EMA of the *compacted* sequence of defined
// MACD values (warm-up NaNs removed before the EMA, the result
// left-padded back to the input length). Since the defined MACD values
// occupy a contiguous tail of the series, the padding restores exact
// bar alignment.
func MACD(prices []float64, fastPeriod, slowPeriod, signalPeriod int) MACDResult {
	n := len(prices)
	emaFast := EMA(prices, fastPeriod)
	emaSlow := EMA(prices, slowPeriod)

	line := nanSlice(n)
	compact := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if Defined(emaFast[i]) && Defined(emaSlow[i]) {
			line[i] = emaFast[i] - emaSlow[i]
			compact = append(compact, line[i])
		}
	}

	sig := EMA(compact, signalPeriod)
	signal := nanSlice(n)
	offset := n - len(compact)
	for j, v := range sig {
		signal[offset+j] = v
	}

	hist := nanSlice(n)
	for i := 0; i < n; i++ {
		if Defined(line[i]) && Defined(signal[i]) {
			hist[i] = line[i] - signal[i]
		}
	}

	return MACDResult{Line: line, Signal: signal, Histogram: hist}
}

// RSI computes the Relative Strength Index using Wilder's smoothing.
//
// Requires at least period+1 prices, otherwise every value is
// undefined. out[i] is defined from index period onward: the seed
// averages are the simple means of the first period gains/losses
// (deltas of bars 1..period), and each later bar folds its delta in via
// Wilder smoothing before producing a value. When the average loss is
// exactly zero the RSI is 100.
func RSI(prices []float64, period int) []float64 {
	n := len(prices)
	out := nanSlice(n)
	if period <= 0 || n < period+1 {
		return out
	}

	var sumGain, sumLoss float64
	for i := 1; i <= period; i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			sumGain += delta
		} else {
			sumLoss -= delta
		}
	}
	avgGain := sumGain / float64(period)
	avgLoss := sumLoss / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	p := float64(period)
	for i := period + 1; i < n; i++ {
		delta := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// Bundle holds every indicator series the updater persists, computed in
// one pass over a stock's close prices.
type Bundle struct {
	MA5, MA10, MA20, MA50 []float64
	EMA12, EMA26          []float64
	MACD                  MACDResult
	RSI                   []float64
}

// ComputeAll computes the full standard indicator set for a close
// series.
func ComputeAll(prices []float64) Bundle {
	return Bundle{
		MA5:   MA(prices, 5),
		MA10:  MA(prices, 10),
		MA20:  MA(prices, 20),
		MA50:  MA(prices, 50),
		EMA12: EMA(prices, MACDFastPeriod),
		EMA26: EMA(prices, MACDSlowPeriod),
		MACD:  MACD(prices, MACDFastPeriod, MACDSlowPeriod, MACDSignalPeriod),
		RSI:   RSI(prices, RSIPeriod),
	}
}
