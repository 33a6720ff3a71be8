// Package synth generates deterministic random-walk bars for backtests,
// property tests and the demo feed.
package synth

import (
	"math"
	"math/rand"
	"time"

	"chanlun-engine/internal/model"
)

// Params configures a generated series. Zero fields take the defaults below.
type Params struct {
	Symbol     string
	Bars       int
	Seed       int64
	Start      time.Time     // default 2024-01-02 09:30 UTC
	Interval   time.Duration // default 1m
	StartPrice float64       // default 100
	Volatility float64       // per-bar relative step, default 0.004
}

func (p *Params) defaults() {
	if p.Start.IsZero() {
		p.Start = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	}
	if p.Interval == 0 {
		p.Interval = time.Minute
	}
	if p.StartPrice == 0 {
		p.StartPrice = 100
	}
	if p.Volatility == 0 {
		p.Volatility = 0.004
	}
}

// Walker produces one bar at a time. Not safe for concurrent use.
type Walker struct {
	p    Params
	rng  *rand.Rand
	last float64
	n    int
}

// NewWalker starts a random walk.
func NewWalker(p Params) *Walker {
	p.defaults()
	return &Walker{p: p, rng: rand.New(rand.NewSource(p.Seed)), last: p.StartPrice}
}

// Next returns the next bar. Bars are always well formed: high and low bracket
// open and close, and timestamps advance by Interval.
func (w *Walker) Next() model.Bar {
	open := w.last
	step := w.rng.NormFloat64() * w.p.Volatility * open
	closePx := math.Max(open+step, 0.01)
	wick := math.Abs(w.rng.NormFloat64()) * w.p.Volatility * open * 0.5
	high := math.Max(open, closePx) + wick*w.rng.Float64()
	low := math.Max(math.Min(open, closePx)-wick*w.rng.Float64(), 0.005)

	b := model.Bar{
		Symbol: w.p.Symbol,
		TS:     w.p.Start.Add(time.Duration(w.n) * w.p.Interval),
		Open:   round4(open),
		High:   round4(high),
		Low:    round4(low),
		Close:  round4(closePx),
		Volume: float64(w.rng.Intn(1000) + 1),
	}
	// Rounding can pull the wicks inside the body by a hair.
	b.High = math.Max(b.High, math.Max(b.Open, b.Close))
	b.Low = math.Min(b.Low, math.Min(b.Open, b.Close))

	w.last = closePx
	w.n++
	return b
}

// Generate returns p.Bars bars.
func Generate(p Params) []model.Bar {
	w := NewWalker(p)
	out := make([]model.Bar, p.Bars)
	for i := range out {
		out[i] = w.Next()
	}
	return out
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
