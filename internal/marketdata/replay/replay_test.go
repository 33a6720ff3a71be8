package replay

import (
	"context"
	"testing"
	"time"

	"chanlun-engine/internal/model"
)

type memSource map[string][]model.Bar

func (m memSource) ReadBars(symbol string, after time.Time) ([]model.Bar, error) {
	var out []model.Bar
	for _, b := range m[symbol] {
		if b.TS.After(after) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m memSource) Symbols() ([]string, error) {
	var out []string
	for s := range m {
		out = append(out, s)
	}
	return out, nil
}

var t0 = time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)

func mk(sym string, minute int) model.Bar {
	return model.Bar{Symbol: sym, TS: t0.Add(time.Duration(minute) * time.Minute), Open: 1, High: 2, Low: 0.5, Close: 1.5}
}

func TestReplayer_MergesInTimeOrder(t *testing.T) {
	src := memSource{
		"AAPL": {mk("AAPL", 0), mk("AAPL", 2), mk("AAPL", 4)},
		"MSFT": {mk("MSFT", 1), mk("MSFT", 3)},
	}
	out := make(chan model.Bar, 10)
	n, err := New(src).Run(context.Background(), nil, time.Time{}, 0, out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 5 {
		t.Fatalf("emitted %d, want 5", n)
	}
	close(out)
	var prev time.Time
	for b := range out {
		if b.TS.Before(prev) {
			t.Fatalf("bar %v emitted after %v", b.TS, prev)
		}
		prev = b.TS
	}
}

func TestReplayer_FromFilter(t *testing.T) {
	src := memSource{"AAPL": {mk("AAPL", 0), mk("AAPL", 1), mk("AAPL", 2)}}
	out := make(chan model.Bar, 10)
	n, err := New(src).Run(context.Background(), []string{"AAPL"}, t0, 0, out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 2 {
		t.Errorf("emitted %d, want 2", n)
	}
}

func TestReplayer_Cancel(t *testing.T) {
	src := memSource{"AAPL": {mk("AAPL", 0), mk("AAPL", 60)}}
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.Bar, 10)

	done := make(chan error, 1)
	go func() {
		_, err := New(src).Run(ctx, nil, time.Time{}, 1, out)
		done <- err
	}()
	<-out // first bar, then the replayer sleeps on the capped gap
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replayer did not stop on cancel")
	}
}
