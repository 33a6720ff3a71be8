package chanlun

import "chanlun-engine/internal/model"

// strokePoint is a stroke endpoint seen by the segment scan.
type strokePoint struct {
	bar   *model.MergedBar
	price float64
}

// BuildSegments groups the stroke endpoints of series (bars that are pivots
// and marked IsStroke) into segments. A segment ends when price undercuts the
// segment start, fails to make a new extreme, and then breaks the failure
// point. The trailing open segment is included when it has moved at all.
func BuildSegments(series []model.MergedBar) []model.Segment {
	var points []strokePoint
	for i := range series {
		b := &series[i]
		if b.Pivot != model.PivotNone && b.IsStroke {
			points = append(points, strokePoint{bar: b, price: b.Extreme()})
		}
	}
	if len(points) < 3 {
		return nil
	}

	var (
		segments  []model.Segment
		start     = points[0]
		last      strokePoint
		fail      strokePoint
		failArmed bool
		dir       int
	)
	for _, p := range points[1:] {
		switch dir {
		case 0:
			if p.price > start.price {
				dir = 1
			} else {
				dir = -1
			}
			last = p

		case 1:
			switch {
			case p.price > last.price:
				last, failArmed = p, false
			case !failArmed && p.price <= start.price:
				fail, failArmed = last, true
			case failArmed && p.price < fail.price:
				segments = append(segments, newSegment(start, fail, 1))
				start, last, dir, failArmed = fail, p, -1, false
			}

		case -1:
			switch {
			case p.price < last.price:
				last, failArmed = p, false
			case !failArmed && p.price >= start.price:
				fail, failArmed = last, true
			case failArmed && p.price > fail.price:
				segments = append(segments, newSegment(start, fail, -1))
				start, last, dir, failArmed = fail, p, 1, false
			}
		}
	}
	if last.bar != nil && last.bar != start.bar {
		segments = append(segments, newSegment(start, last, dir))
	}
	return segments
}

func newSegment(from, to strokePoint, dir int) model.Segment {
	return model.Segment{
		Symbol:     from.bar.Symbol,
		Start:      from.bar.TS,
		End:        to.bar.TS,
		Direction:  dir,
		StartPrice: from.price,
		EndPrice:   to.price,
	}
}
