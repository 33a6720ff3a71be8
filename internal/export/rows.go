package export

import (
	"chanlun-engine/internal/model"
)

// MergedRow is the flat form of an annotated merged bar. Times are unix ms.
type MergedRow struct {
	Symbol   string  `json:"symbol" parquet:"symbol"`
	TS       int64   `json:"ts" parquet:"ts"`
	Open     float64 `json:"open" parquet:"open"`
	High     float64 `json:"high" parquet:"high"`
	Low      float64 `json:"low" parquet:"low"`
	Close    float64 `json:"close" parquet:"close"`
	Volume   float64 `json:"volume" parquet:"volume"`
	Pivot    string  `json:"pivot,omitempty" parquet:"pivot,optional"`
	IsStroke bool    `json:"is_stroke" parquet:"is_stroke"`
}

// SegmentRow is the flat form of a segment.
type SegmentRow struct {
	Symbol     string  `json:"symbol" parquet:"symbol"`
	Start      int64   `json:"start" parquet:"start"`
	End        int64   `json:"end" parquet:"end"`
	Direction  int32   `json:"direction" parquet:"direction"`
	StartPrice float64 `json:"start_price" parquet:"start_price"`
	EndPrice   float64 `json:"end_price" parquet:"end_price"`
}

// MergedRows flattens an annotated merged series.
func MergedRows(merged []model.MergedBar) []MergedRow {
	rows := make([]MergedRow, len(merged))
	for i, m := range merged {
		rows[i] = MergedRow{
			Symbol:   m.Symbol,
			TS:       m.TS.UnixMilli(),
			Open:     m.Open,
			High:     m.High,
			Low:      m.Low,
			Close:    m.Close,
			Volume:   m.Volume,
			Pivot:    m.Pivot.String(),
			IsStroke: m.IsStroke,
		}
	}
	return rows
}

// SegmentRows flattens segments.
func SegmentRows(segments []model.Segment) []SegmentRow {
	rows := make([]SegmentRow, len(segments))
	for i, s := range segments {
		rows[i] = SegmentRow{
			Symbol:     s.Symbol,
			Start:      s.Start.UnixMilli(),
			End:        s.End.UnixMilli(),
			Direction:  int32(s.Direction),
			StartPrice: s.StartPrice,
			EndPrice:   s.EndPrice,
		}
	}
	return rows
}
