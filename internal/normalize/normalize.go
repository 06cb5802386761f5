// Package normalize merges candle series from several providers into one ordered series.
package normalize

import (
	"math"
	"slices"
	"sort"
	"time"

	"TopSignals/internal/model"
)

// Unit is the time unit a provider uses for record timestamps.
type Unit int

const (
	Milliseconds Unit = iota
	Seconds
)

// RawRecord is a provider record before canonicalization.
type RawRecord struct {
	Time   int64
	Unit   Unit
	Open   *float64
	High   *float64
	Low    *float64
	Close  float64
	Volume *float64
}

// Millis returns the record timestamp in milliseconds.
func (r RawRecord) Millis() int64 {
	if r.Unit == Seconds {
		return r.Time * 1000
	}
	return r.Time
}

// ProviderSeries is one provider's contribution to a merge.
// Lower Priority wins when two providers supply the same timestamp.
type ProviderSeries struct {
	Tag      string
	Priority int
	Records  []RawRecord
}

type slot struct {
	candle   model.Candle
	priority int
	tag      string
}

// Merge combines inputs into one series sorted by timestamp. On a timestamp clash
// the record of the provider with the lower Priority value is kept; equal priorities
// fall back to the lexically smaller tag so the result never depends on input order.
// IsLimited is set when the earliest merged record is later than desiredEarliest,
// or when nothing was merged at all.
func Merge(inputs []ProviderSeries, desiredEarliest time.Time) model.Series {
	byTime := make(map[int64]slot)
	for _, in := range inputs {
		for _, r := range in.Records {
			c, ok := canonical(r)
			if !ok {
				continue
			}
			cur, exists := byTime[c.Time]
			if exists && !outranks(in.Priority, in.Tag, cur.priority, cur.tag) {
				continue
			}
			byTime[c.Time] = slot{candle: c, priority: in.Priority, tag: in.Tag}
		}
	}

	if len(byTime) == 0 {
		return model.Series{Candles: []model.Candle{}, SourceTags: []string{}, IsLimited: true}
	}

	candles := make([]model.Candle, 0, len(byTime))
	tags := make(map[string]struct{})
	for _, s := range byTime {
		candles = append(candles, s.candle)
		tags[s.tag] = struct{}{}
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })

	sourceTags := make([]string, 0, len(tags))
	for t := range tags {
		sourceTags = append(sourceTags, t)
	}
	slices.Sort(sourceTags)

	first, last := candles[0].At(), candles[len(candles)-1].At()
	return model.Series{
		Candles:    candles,
		SourceTags: sourceTags,
		IsLimited:  !desiredEarliest.IsZero() && first.After(desiredEarliest),
		RangeStart: first,
		RangeEnd:   last,
	}
}

func outranks(p int, tag string, curP int, curTag string) bool {
	if p != curP {
		return p < curP
	}
	return tag < curTag
}

func canonical(r RawRecord) (model.Candle, bool) {
	if r.Close <= 0 || math.IsNaN(r.Close) || math.IsInf(r.Close, 0) {
		return model.Candle{}, false
	}
	ts := r.Millis()
	if ts <= 0 {
		return model.Candle{}, false
	}
	return model.Candle{
		Time:   ts,
		Open:   finite(r.Open),
		High:   finite(r.High),
		Low:    finite(r.Low),
		Close:  r.Close,
		Volume: finite(r.Volume),
	}, true
}

func finite(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return model.Float(*v)
}

// FromCloses builds raw records from parallel timestamp and close slices.
func FromCloses(times []int64, closes []float64, unit Unit) []RawRecord {
	n := min(len(times), len(closes))
	out := make([]RawRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, RawRecord{Time: times[i], Unit: unit, Close: closes[i]})
	}
	return out
}
