package csvload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRead_HeaderVariants(t *testing.T) {
	in := "Date,Open,High,Low,Close,Volume\n" +
		"2024-01-15,10,12,9,11,1000\n" +
		"2024-01-16,11,13,10,12.5,\n"
	bars, err := Read(strings.NewReader(in), "AAPL")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	b := bars[1]
	if b.Symbol != "AAPL" || b.Close != 12.5 || b.Volume != 0 {
		t.Errorf("unexpected bar %+v", b)
	}
	if !b.TS.Equal(time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ts = %v", b.TS)
	}
}

func TestRead_SymbolColumnWins(t *testing.T) {
	in := "symbol,ts,o,h,l,c\nMSFT,1705311000,1,2,0.5,1.5\n"
	bars, err := Read(strings.NewReader(in), "DEFAULT")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if bars[0].Symbol != "MSFT" {
		t.Errorf("symbol = %q, want MSFT", bars[0].Symbol)
	}
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"missing close column", "ts,open,high,low\n1,1,1,1\n"},
		{"bad price", "ts,open,high,low,close\n1705311000,x,2,0.5,1\n"},
		{"bad time", "ts,open,high,low,close\nyesterday,1,2,0.5,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Read(strings.NewReader(tt.in), "X"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	for _, s := range []string{
		"2024-01-15T09:30:00Z",
		"2024-01-15 09:30:00",
		"2024-01-15 09:30",
		"1705311000",
		"1705311000000",
	} {
		got, err := ParseTime(s)
		if err != nil {
			t.Errorf("ParseTime(%q): %v", s, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseTime(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("AAPL.csv", "ts,open,high,low,close\n1705311000,1,2,0.5,1.5\n1705311060,1.5,2.5,1,2\n")
	write("MSFT.csv", "ts,open,high,low,close\n1705311000,5,6,4,5.5\n")
	write("notes.txt", "ignored")

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 || len(got["AAPL"]) != 2 || len(got["MSFT"]) != 1 {
		t.Errorf("unexpected grouping: %v", got)
	}

	single, err := Load(filepath.Join(dir, "MSFT.csv"))
	if err != nil {
		t.Fatalf("Load file: %v", err)
	}
	if len(single["MSFT"]) != 1 {
		t.Errorf("single file load: %v", single)
	}
}
