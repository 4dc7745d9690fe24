package matrix

import (
	"sort"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	loudness "loudness-monitor/internal/loudness/domain"
)

const sketchAccuracy = 0.01

// Cell is the aggregate of one stream's measurements in one slot.
type Cell struct {
	StreamID    loudness.StreamID `json:"stream_id"`
	Slot        string            `json:"slot"`
	AvgDB       float64           `json:"avg_db"`
	SampleCount int               `json:"sample_count"`
	// Timestamp is the latest contributing measurement.
	Timestamp time.Time       `json:"representative_timestamp"`
	P95DB     *float64        `json:"p95_db,omitempty"`
	Status    loudness.Status `json:"status,omitempty"`
}

// Row is one stream of the matrix.
type Row struct {
	StreamID    loudness.StreamID `json:"-"`
	ChannelName string            `json:"channelName"`
	IP          string            `json:"ip"`
	Readings    map[string]string `json:"readings"`
	Cells       map[string]Cell   `json:"cells"`
}

// Options tune an aggregation.
type Options struct {
	Policy     Policy
	Thresholds loudness.Thresholds
	// Percentiles enables p95 per cell.
	Percentiles bool
	Format      Formatter
}

type accumulator struct {
	sum    float64
	count  int
	latest time.Time
	sketch *ddsketch.DDSketch
}

func (a *accumulator) add(m loudness.Measurement, percentiles bool) {
	a.sum += m.AvgDB
	a.count++
	if m.Timestamp.After(a.latest) {
		a.latest = m.Timestamp
	}
	if !percentiles {
		return
	}
	if a.sketch == nil {
		sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
		if err != nil {
			return
		}
		a.sketch = sketch
	}
	_ = a.sketch.Add(m.AvgDB)
}

type cellKey struct {
	stream loudness.StreamID
	slot   string
}

// Aggregate buckets the day's measurements into one row per stream. Streams
// without data still get a row with empty maps. Measurements outside the day
// or discarded by the policy are ignored. Rows follow the stream order given.
func Aggregate(day Day, streams []loudness.Stream, measurements []loudness.Measurement, opts Options) []Row {
	groups := make(map[cellKey]*accumulator)
	for _, m := range measurements {
		if !day.Contains(m.Timestamp) {
			continue
		}
		slot, ok := opts.Policy.Slot(m.Timestamp)
		if !ok {
			continue
		}
		key := cellKey{stream: m.StreamID, slot: slot}
		acc := groups[key]
		if acc == nil {
			acc = &accumulator{}
			groups[key] = acc
		}
		acc.add(m, opts.Percentiles)
	}

	rows := make([]Row, 0, len(streams))
	index := make(map[loudness.StreamID]int, len(streams))
	for _, s := range streams {
		index[s.ID] = len(rows)
		rows = append(rows, Row{
			StreamID:    s.ID,
			ChannelName: s.Name,
			IP:          StripMcastURL(s.McastURL),
			Readings:    map[string]string{},
			Cells:       map[string]Cell{},
		})
	}

	for key, acc := range groups {
		pos, ok := index[key.stream]
		if !ok {
			continue
		}
		cell := Cell{
			StreamID:    key.stream,
			Slot:        key.slot,
			AvgDB:       acc.sum / float64(acc.count),
			SampleCount: acc.count,
			Timestamp:   acc.latest,
		}
		if acc.sketch != nil {
			if p95, err := acc.sketch.GetValueAtQuantile(0.95); err == nil {
				cell.P95DB = &p95
			}
		}
		if status, ok := opts.Thresholds.Classify(cell.AvgDB); ok {
			cell.Status = status
		}
		rows[pos].Cells[key.slot] = cell
		rows[pos].Readings[key.slot] = opts.Format.Reading(cell)
	}
	return rows
}

// SlotLabels returns every slot label present in rows, ascending. Fixed
// policies always list their enumerated slots.
func SlotLabels(rows []Row, policy Policy) []string {
	seen := make(map[string]struct{})
	for _, slot := range policy.Slots() {
		seen[slot] = struct{}{}
	}
	for _, row := range rows {
		for slot := range row.Cells {
			seen[slot] = struct{}{}
		}
	}
	labels := make([]string, 0, len(seen))
	for slot := range seen {
		labels = append(labels, slot)
	}
	sort.Strings(labels)
	return labels
}
