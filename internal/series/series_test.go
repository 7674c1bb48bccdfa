package series

import (
	"math"
	"testing"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func assertUndefined(t *testing.T, label string, values []float64, upto int) {
	t.Helper()
	for i := 0; i < upto && i < len(values); i++ {
		if Defined(values[i]) {
			t.Errorf("%s: index %d should be undefined, got %.6f", label, i, values[i])
		}
	}
}

// ────────────────────────────────────────────────────────────
// MA Correctness
// ────────────────────────────────────────────────────────────

func TestMA_Period3(t *testing.T) {
	// Prices: 10, 11, 12, 13, 14, 15
	// MA(3): undefined, undefined, 11, 12, 13, 14
	prices := []float64{10, 11, 12, 13, 14, 15}
	out := MA(prices, 3)

	if len(out) != len(prices) {
		t.Fatalf("length: got %d, want %d", len(out), len(prices))
	}
	assertUndefined(t, "MA(3) warm-up", out, 2)
	expected := []float64{11, 12, 13, 14}
	for i, want := range expected {
		assertClose(t, "MA(3)", out[i+2], want, 1e-9)
	}
}

func TestMA_ShorterThanPeriod(t *testing.T) {
	out := MA([]float64{100, 101, 102}, 5)
	assertUndefined(t, "MA(5) short series", out, len(out))
}

func TestMA_ExactMeanOfWindow(t *testing.T) {
	// MA(4) at the last index of 1, 3, 5, 7, 9, 11:
	// (5+7+9+11)/4 = 8
	out := MA([]float64{1, 3, 5, 7, 9, 11}, 4)
	assertClose(t, "MA(4) last", out[5], 8.0, 1e-9)
	assertClose(t, "MA(4) first defined", out[3], (1+3+5+7)/4.0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Period3(t *testing.T) {
	// EMA(3): k = 2/(3+1) = 0.5
	// Prices: 100, 102, 104, 103, 105
	// Index 2: SMA seed = (100+102+104)/3 = 102.0
	// Index 3: 103*0.5 + 102.0*0.5 = 102.5
	// Index 4: 105*0.5 + 102.5*0.5 = 103.75
	prices := []float64{100, 102, 104, 103, 105}
	out := EMA(prices, 3)

	assertUndefined(t, "EMA(3) warm-up", out, 2)
	assertClose(t, "EMA(3) seed", out[2], 102.0, 1e-9)
	assertClose(t, "EMA(3) index 3", out[3], 102.5, 1e-9)
	assertClose(t, "EMA(3) index 4", out[4], 103.75, 1e-9)
}

func TestEMA_SeedEqualsSMA(t *testing.T) {
	prices := []float64{44, 44.25, 44.50, 43.75, 44.50, 44.25, 44}
	ema := EMA(prices, 5)
	ma := MA(prices, 5)
	assertClose(t, "EMA(5) seed == SMA(5)", ema[4], ma[4], 1e-9)
}

func TestEMA_ShorterThanPeriod(t *testing.T) {
	out := EMA([]float64{1, 2}, 3)
	assertUndefined(t, "EMA(3) short series", out, len(out))
}

// ────────────────────────────────────────────────────────────
// MACD Correctness
// ────────────────────────────────────────────────────────────

func TestMACD_LinearSeries(t *testing.T) {
	// Prices 1..6 with MACD(2, 3, 2). Hand-calculated:
	// EMA(2) (k=2/3):   -, 1.5, 2.5, 3.5, 4.5, 5.5
	// EMA(3) (k=0.5):   -, -,   2.0, 3.0, 4.0, 5.0
	// Line:             -, -,   0.5, 0.5, 0.5, 0.5
	// Signal = EMA(2) of compacted [0.5 0.5 0.5 0.5], padded back:
	//                   -, -,   -,   0.5, 0.5, 0.5
	// Histogram:        -, -,   -,   0.0, 0.0, 0.0
	prices := []float64{1, 2, 3, 4, 5, 6}
	res := MACD(prices, 2, 3, 2)

	assertUndefined(t, "MACD line warm-up", res.Line, 2)
	assertUndefined(t, "MACD signal warm-up", res.Signal, 3)
	assertUndefined(t, "MACD histogram warm-up", res.Histogram, 3)

	for i := 2; i < 6; i++ {
		assertClose(t, "MACD line", res.Line[i], 0.5, 1e-9)
	}
	for i := 3; i < 6; i++ {
		assertClose(t, "MACD signal", res.Signal[i], 0.5, 1e-9)
		assertClose(t, "MACD histogram", res.Histogram[i], 0.0, 1e-9)
	}
}

func TestMACD_DefaultWarmup(t *testing.T) {
	// With the default 12/26/9 configuration, the line becomes defined
	// at index 25 and the signal at index 25+8 = 33.
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 100 + float64(i)
	}
	res := MACD(prices, MACDFastPeriod, MACDSlowPeriod, MACDSignalPeriod)

	assertUndefined(t, "MACD line warm-up", res.Line, 25)
	if !Defined(res.Line[25]) {
		t.Error("MACD line should be defined at index 25")
	}
	assertUndefined(t, "MACD signal warm-up", res.Signal, 33)
	if !Defined(res.Signal[33]) {
		t.Error("MACD signal should be defined at index 33")
	}
}

func TestMACD_HistogramIdentity(t *testing.T) {
	prices := []float64{10, 12, 11, 14, 13, 17, 16, 19, 18, 22, 21, 25, 24, 23, 26}
	res := MACD(prices, 3, 5, 3)

	for i := range prices {
		lineDef, sigDef := Defined(res.Line[i]), Defined(res.Signal[i])
		if lineDef && sigDef {
			assertClose(t, "histogram identity", res.Histogram[i], res.Line[i]-res.Signal[i], 1e-9)
		} else if Defined(res.Histogram[i]) {
			t.Errorf("histogram defined at %d but line/signal are not", i)
		}
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness (Wilder's Method)
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Prices: 44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84
	//
	// Deltas (bars 1-5): +0.34, -0.25, -0.48, +0.72, +0.50
	// Seed: avgGain = (0.34+0.72+0.50)/5 = 0.312
	//       avgLoss = (0.25+0.48)/5      = 0.146
	// Index 5: RS = 0.312/0.146 → RSI = 68.112
	//
	// Index 6 (delta +0.27): avgGain = (0.312*4+0.27)/5 = 0.3036
	//                        avgLoss = (0.146*4)/5      = 0.1168 → RSI = 72.219
	// Index 7 (delta +0.32): RSI = 76.658
	// Index 8 (delta +0.42): RSI = 81.509
	prices := []float64{44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84}
	out := RSI(prices, 5)

	assertUndefined(t, "RSI(5) warm-up", out, 5)
	assertClose(t, "RSI(5) index 5", out[5], 68.112, 0.1)
	assertClose(t, "RSI(5) index 6", out[6], 72.219, 0.1)
	assertClose(t, "RSI(5) index 7", out[7], 76.658, 0.1)
	assertClose(t, "RSI(5) index 8", out[8], 81.509, 0.2)
}

func TestRSI_FirstDefinedIndexIsPeriod(t *testing.T) {
	// The output stays aligned to the bar index space: with exactly
	// period+1 prices, only out[period] is defined.
	prices := make([]float64, RSIPeriod+1)
	for i := range prices {
		prices[i] = 100 + float64(i%3)
	}
	out := RSI(prices, RSIPeriod)

	assertUndefined(t, "RSI warm-up", out, RSIPeriod)
	if !Defined(out[RSIPeriod]) {
		t.Errorf("RSI should be defined at index %d", RSIPeriod)
	}
}

func TestRSI_ShorterThanPeriodPlusOne(t *testing.T) {
	prices := make([]float64, RSIPeriod)
	for i := range prices {
		prices[i] = float64(100 + i)
	}
	out := RSI(prices, RSIPeriod)
	assertUndefined(t, "RSI short series", out, len(out))
}

func TestRSI_AllGains_Is100(t *testing.T) {
	// Strictly rising prices: avgLoss stays 0, RSI is exactly 100.
	prices := make([]float64, 12)
	for i := range prices {
		prices[i] = 100 + float64(i)
	}
	out := RSI(prices, 5)
	for i := 5; i < len(out); i++ {
		assertClose(t, "RSI all gains", out[i], 100.0, 1e-12)
	}
}

func TestRSI_AllLosses_NearZero(t *testing.T) {
	prices := make([]float64, 12)
	for i := range prices {
		prices[i] = 200 - float64(i)
	}
	out := RSI(prices, 5)
	assertClose(t, "RSI all losses", out[len(out)-1], 0.0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// ComputeAll
// ────────────────────────────────────────────────────────────

func TestComputeAll_LengthsMatchInput(t *testing.T) {
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 100 + 5*math.Sin(float64(i)/4)
	}
	b := ComputeAll(prices)

	for label, s := range map[string][]float64{
		"MA5": b.MA5, "MA10": b.MA10, "MA20": b.MA20, "MA50": b.MA50,
		"EMA12": b.EMA12, "EMA26": b.EMA26,
		"MACD line": b.MACD.Line, "MACD signal": b.MACD.Signal, "MACD histogram": b.MACD.Histogram,
		"RSI": b.RSI,
	} {
		if len(s) != len(prices) {
			t.Errorf("%s: length %d, want %d", label, len(s), len(prices))
		}
	}

	// Spot-check warm-up boundaries.
	assertUndefined(t, "MA50 warm-up", b.MA50, 49)
	if !Defined(b.MA50[49]) {
		t.Error("MA50 should be defined at index 49")
	}
	if !Defined(b.RSI[RSIPeriod]) {
		t.Error("RSI should be defined at index 14")
	}
}
