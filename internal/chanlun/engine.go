package chanlun

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chanlun-engine/internal/model"
)

// DefaultGapThreshold is the minimum merged-bar distance between the two
// endpoints of a stroke.
const DefaultGapThreshold = 4

// Config controls a structure engine.
type Config struct {
	GapThreshold int          // 0 means DefaultGapThreshold
	DecisionLog  bool         // log every stroke decision at info level
	Logger       *slog.Logger // used for the decision log; nil means slog.Default()
}

func (c Config) withDefaults() (Config, error) {
	if c.GapThreshold == 0 {
		c.GapThreshold = DefaultGapThreshold
	}
	if c.GapThreshold < 1 {
		return c, fmt.Errorf("%w: got %d", ErrInvalidGapThreshold, c.GapThreshold)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c, nil
}

// Outcome describes what one accepted bar did to the engine.
type Outcome struct {
	Finalized bool               // a merged bar was closed
	Pivot     model.PivotKind    // kind of the fractal detected, if any
	Event     *model.StrokeEvent // non-nil when the stroke state changed
}

// Engine is the incremental structure engine for a single instrument. It owns
// the merged series and every label on it. Not safe for concurrent use.
type Engine struct {
	symbol string
	cfg    Config

	merger   Merger
	series   []model.MergedBar
	pivots   []Pivot
	stroke   *StrokeValidator
	lastTS   time.Time
	accepted int
	halted   *CorrectionExhaustedError
}

// NewEngine creates an empty engine for symbol.
func NewEngine(symbol string, cfg Config) (*Engine, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	e := &Engine{symbol: symbol, cfg: cfg}
	e.stroke = NewStrokeValidator(cfg.GapThreshold, e.traceLogger())
	return e, nil
}

func (e *Engine) traceLogger() *slog.Logger {
	if !e.cfg.DecisionLog {
		return nil
	}
	return e.cfg.Logger.With(slog.String("component", "chanlun"), slog.String("symbol", e.symbol))
}

// Update feeds one raw bar and returns the stroke event it caused, if any.
// A rejected bar leaves the engine unchanged. After a correction exhausts,
// the engine is halted and rejects every bar until Reset.
func (e *Engine) Update(bar model.Bar) (*model.StrokeEvent, error) {
	out, err := e.Step(bar)
	return out.Event, err
}

// Step is Update with the full outcome.
func (e *Engine) Step(bar model.Bar) (Outcome, error) {
	if e.halted != nil {
		return Outcome{}, &HaltedError{Cause: e.halted}
	}
	if err := ValidateBar(bar); err != nil {
		return Outcome{}, err
	}
	if e.accepted > 0 && !bar.TS.After(e.lastTS) {
		return Outcome{}, &OutOfOrderError{Last: e.lastTS, Got: bar.TS}
	}
	if bar.Symbol == "" {
		bar.Symbol = e.symbol
	}

	// Keep enough to roll back if the stroke step fails.
	prevMerger, prevLen := e.merger, len(e.series)

	var out Outcome
	closed, ok := e.merger.Accept(bar)
	if ok {
		out.Finalized = true
		e.series = append(e.series, closed)
		if DetectLatest(e.series) {
			mid := len(e.series) - 2
			out.Pivot = e.series[mid].Pivot
			e.pivots = append(e.pivots, pivotAt(e.series, mid))

			d, err := e.stroke.Step(e.series, e.pivots)
			if err != nil {
				e.series[mid].Pivot = model.PivotNone
				e.series = e.series[:prevLen]
				e.pivots = e.pivots[:len(e.pivots)-1]
				e.merger = prevMerger
				var ce *CorrectionExhaustedError
				if errors.As(err, &ce) {
					e.halted = ce
				}
				return Outcome{}, err
			}
			if d.Kind == model.EventConfirmed || d.Kind == model.EventCorrected {
				e.relabel()
			}
			if d.Kind != "" {
				out.Event = e.event(bar.TS, d)
			}
		}
	}

	e.lastTS = bar.TS
	e.accepted++
	return out, nil
}

// relabel marks exactly the effective pivots as stroke endpoints.
func (e *Engine) relabel() {
	eff := e.stroke.state.Effective
	j := 0
	for k, p := range e.pivots {
		on := j < len(eff) && eff[j] == k
		if on {
			j++
		}
		e.series[p.Index].IsStroke = on
	}
}

func (e *Engine) event(ts time.Time, d Decision) *model.StrokeEvent {
	s := e.stroke.state
	ev := &model.StrokeEvent{
		Symbol:    e.symbol,
		TS:        ts,
		Kind:      d.Kind,
		Direction: s.Direction,
		Candidate: e.pivots[s.Candidate].Point(),
		Popped:    d.Popped,
	}
	if s.HasValid() {
		vp := e.pivots[s.Valid].Point()
		ev.Valid = &vp
	}
	return ev
}

// Symbol returns the instrument this engine tracks.
func (e *Engine) Symbol() string { return e.symbol }

// GapThreshold returns the effective gap threshold.
func (e *Engine) GapThreshold() int { return e.cfg.GapThreshold }

// Accepted returns the number of raw bars accepted so far.
func (e *Engine) Accepted() int { return e.accepted }

// Halted returns the exhaustion that stopped the engine, or nil while it runs.
func (e *Engine) Halted() *CorrectionExhaustedError { return e.halted }

// LastTS returns the timestamp of the last accepted bar.
func (e *Engine) LastTS() time.Time { return e.lastTS }

// Merged returns a copy of the finalized merged series with its labels.
func (e *Engine) Merged() []model.MergedBar {
	return append([]model.MergedBar(nil), e.series...)
}

// Pivots returns a copy of the pivot view.
func (e *Engine) Pivots() []Pivot {
	return append([]Pivot(nil), e.pivots...)
}

// State returns a copy of the stroke validator state.
func (e *Engine) State() StrokeState {
	return e.stroke.State()
}

// Candidate returns the raw-bar aggregate still open for merging.
func (e *Engine) Candidate() (model.Bar, bool) {
	return e.merger.Candidate()
}

// Segments computes the segments over the current stroke endpoints.
func (e *Engine) Segments() []model.Segment {
	return BuildSegments(e.series)
}

// Reset discards all state, keeping symbol and config.
func (e *Engine) Reset() {
	e.merger = Merger{}
	e.series = nil
	e.pivots = nil
	e.stroke = NewStrokeValidator(e.cfg.GapThreshold, e.traceLogger())
	e.lastTS = time.Time{}
	e.accepted = 0
	e.halted = nil
}
