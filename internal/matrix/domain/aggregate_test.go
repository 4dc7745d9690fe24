package matrix

import (
	"math"
	"math/rand"
	"reflect"
	"strconv"
	"testing"
	"time"

	loudness "loudness-monitor/internal/loudness/domain"
)

func mustDay(t *testing.T, value string) Day {
	t.Helper()
	day, err := ParseDay(value)
	if err != nil {
		t.Fatalf("parse day: %v", err)
	}
	return day
}

func at(value string) time.Time {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return ts
}

var testStreams = []loudness.Stream{
	{ID: 1, Name: "News", McastURL: "udp://239.0.0.1:1234?pkt_size=1316"},
	{ID: 2, Name: "Sport", McastURL: "udp://239.0.0.2:1234"},
}

func TestAggregateScenarioHourlyMean(t *testing.T) {
	day := mustDay(t, "2025-01-01")
	measurements := []loudness.Measurement{
		{ID: 1, StreamID: 1, Timestamp: at("2025-01-01T14:03:00Z"), AvgDB: -23.4},
		{ID: 2, StreamID: 1, Timestamp: at("2025-01-01T14:07:00Z"), AvgDB: -22.8},
	}

	rows := Aggregate(day, testStreams, measurements, Options{Policy: DynamicHourly()})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if got := rows[0].Readings["14:00"]; got != "-23.1 dB" {
		t.Fatalf("expected -23.1 dB, got %q", got)
	}
	cell := rows[0].Cells["14:00"]
	if cell.SampleCount != 2 || !cell.Timestamp.Equal(at("2025-01-01T14:07:00Z")) {
		t.Fatalf("unexpected cell: %+v", cell)
	}
	if rows[0].IP != "239.0.0.1:1234" || rows[0].ChannelName != "News" {
		t.Fatalf("unexpected row identity: %+v", rows[0])
	}
	if len(rows[1].Readings) != 0 || rows[1].Readings == nil {
		t.Fatalf("stream without data should have empty readings, got %+v", rows[1].Readings)
	}
}

func TestFormatDBRoundsHalfAwayFromZero(t *testing.T) {
	cases := map[float64]string{
		-23.25: "-23.3 dB",
		0.25:   "0.3 dB",
		-0.75:  "-0.8 dB",
		-23.14: "-23.1 dB",
		0:      "0.0 dB",
	}
	for in, want := range cases {
		if got := FormatDB(in); got != want {
			t.Fatalf("FormatDB(%v): expected %q, got %q", in, want, got)
		}
	}
	if got := RoundTenth(-23.25); got != -23.3 {
		t.Fatalf("RoundTenth(-23.25): expected -23.3, got %v", got)
	}
}

func TestAggregateReadingRoundsHalfAwayFromZero(t *testing.T) {
	day := mustDay(t, "2025-01-01")
	measurements := []loudness.Measurement{
		{ID: 1, StreamID: 1, Timestamp: at("2025-01-01T14:03:00Z"), AvgDB: -23.0},
		{ID: 2, StreamID: 1, Timestamp: at("2025-01-01T14:07:00Z"), AvgDB: -23.5},
	}
	rows := Aggregate(day, testStreams, measurements, Options{Policy: DynamicHourly()})
	if got := rows[0].Readings["14:00"]; got != "-23.3 dB" {
		t.Fatalf("expected -23.3 dB, got %q", got)
	}
}

func TestAggregateEmptyDayListsEveryStream(t *testing.T) {
	rows := Aggregate(mustDay(t, "2025-01-01"), testStreams, nil, Options{})
	if len(rows) != len(testStreams) {
		t.Fatalf("expected %d rows, got %d", len(testStreams), len(rows))
	}
	for _, row := range rows {
		if len(row.Readings) != 0 || len(row.Cells) != 0 {
			t.Fatalf("expected empty maps, got %+v", row)
		}
	}
}

func TestAggregateHalfOpenDay(t *testing.T) {
	day := mustDay(t, "2025-01-01")
	measurements := []loudness.Measurement{
		{StreamID: 1, Timestamp: at("2025-01-01T00:00:00Z"), AvgDB: -20},
		{StreamID: 1, Timestamp: at("2025-01-02T00:00:00Z"), AvgDB: -40},
		{StreamID: 1, Timestamp: at("2024-12-31T23:59:59Z"), AvgDB: -40},
	}
	rows := Aggregate(day, testStreams, measurements, Options{})
	if len(rows[0].Cells) != 1 || rows[0].Readings["00:00"] != "-20.0 dB" {
		t.Fatalf("expected only the midnight sample, got %+v", rows[0].Readings)
	}
}

func TestAggregateFixedSlotsExcludeOffSchedule(t *testing.T) {
	policy, err := FixedHourly(DefaultFixedSlots())
	if err != nil {
		t.Fatalf("fixed policy: %v", err)
	}
	measurements := []loudness.Measurement{
		{StreamID: 1, Timestamp: at("2025-01-01T08:59:59Z"), AvgDB: -10},
		{StreamID: 1, Timestamp: at("2025-01-01T09:00:00Z"), AvgDB: -20},
		{StreamID: 1, Timestamp: at("2025-01-01T18:00:00Z"), AvgDB: -10},
	}
	rows := Aggregate(mustDay(t, "2025-01-01"), testStreams, measurements, Options{Policy: policy})
	if len(rows[0].Cells) != 1 {
		t.Fatalf("expected one cell, got %+v", rows[0].Cells)
	}
	if _, ok := rows[0].Cells["08:00"]; ok {
		t.Fatalf("08:59:59 must be excluded")
	}
	if rows[0].Cells["09:00"].SampleCount != 1 {
		t.Fatalf("unexpected 09:00 cell: %+v", rows[0].Cells["09:00"])
	}
}

func TestAggregateMinuteBuckets(t *testing.T) {
	policy, err := DynamicMinutes(5)
	if err != nil {
		t.Fatalf("minute policy: %v", err)
	}
	measurements := []loudness.Measurement{
		{StreamID: 2, Timestamp: at("2025-01-01T14:03:00Z"), AvgDB: -20},
		{StreamID: 2, Timestamp: at("2025-01-01T14:04:59Z"), AvgDB: -22},
		{StreamID: 2, Timestamp: at("2025-01-01T14:05:00Z"), AvgDB: -30},
	}
	rows := Aggregate(mustDay(t, "2025-01-01"), testStreams, measurements, Options{Policy: policy})
	if got := rows[1].Readings; got["14:00"] != "-21.0 dB" || got["14:05"] != "-30.0 dB" {
		t.Fatalf("unexpected readings: %+v", got)
	}
}

func TestAggregateDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	measurements := randomMeasurements(rng, 500)
	day := mustDay(t, "2025-01-01")
	opts := Options{Policy: DynamicHourly(), Percentiles: true}

	first := Aggregate(day, testStreams, measurements, opts)
	for i := 0; i < 5; i++ {
		if again := Aggregate(day, testStreams, measurements, opts); !reflect.DeepEqual(first, again) {
			t.Fatalf("aggregation differs on run %d", i)
		}
	}
}

func TestAggregateMeanProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	day := mustDay(t, "2025-01-01")
	policy, _ := DynamicMinutes(15)

	for round := 0; round < 50; round++ {
		measurements := randomMeasurements(rng, 1+rng.Intn(300))
		rows := Aggregate(day, testStreams, measurements, Options{Policy: policy})

		type key struct {
			stream loudness.StreamID
			slot   string
		}
		sums := map[key]float64{}
		counts := map[key]int{}
		for _, m := range measurements {
			if !day.Contains(m.Timestamp) {
				continue
			}
			slot, _ := policy.Slot(m.Timestamp)
			k := key{m.StreamID, slot}
			sums[k] += m.AvgDB
			counts[k]++
		}

		cells := 0
		for _, row := range rows {
			for slot, cell := range row.Cells {
				cells++
				k := key{row.StreamID, slot}
				if counts[k] != cell.SampleCount {
					t.Fatalf("round %d %v: count %d, want %d", round, k, cell.SampleCount, counts[k])
				}
				want := sums[k] / float64(counts[k])
				if math.Abs(cell.AvgDB-want) > 1e-9 {
					t.Fatalf("round %d %v: avg %v, want %v", round, k, cell.AvgDB, want)
				}
			}
		}
		if cells != len(counts) {
			t.Fatalf("round %d: %d cells, want %d", round, cells, len(counts))
		}
	}
}

func TestAggregateThresholdsAndPercentile(t *testing.T) {
	thresholds, _ := loudness.NewThresholds(-23, -18)
	measurements := make([]loudness.Measurement, 0, 100)
	base := at("2025-01-01T10:00:00Z")
	for i := 1; i <= 100; i++ {
		measurements = append(measurements, loudness.Measurement{
			StreamID:  1,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			AvgDB:     -float64(i),
		})
	}
	rows := Aggregate(mustDay(t, "2025-01-01"), testStreams, measurements, Options{
		Thresholds:  thresholds,
		Percentiles: true,
	})
	cell := rows[0].Cells["10:00"]
	if cell.Status != loudness.StatusTooLow {
		t.Fatalf("expected too_low for mean %v, got %q", cell.AvgDB, cell.Status)
	}
	if cell.P95DB == nil {
		t.Fatalf("expected p95")
	}
	if math.Abs(*cell.P95DB-(-6)) > 1 {
		t.Fatalf("p95 %v not close to -6", *cell.P95DB)
	}
}

func TestAggregateAnnotatesInZone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	measurements := []loudness.Measurement{
		{StreamID: 1, Timestamp: at("2025-01-01T14:07:00Z"), AvgDB: -22.8},
	}
	rows := Aggregate(mustDay(t, "2025-01-01"), testStreams, measurements, Options{
		Format: Formatter{Annotate: true, Location: loc},
	})
	if got := rows[0].Readings["14:00"]; got != "-22.8 dB (09:07 EST)" {
		t.Fatalf("unexpected annotated reading %q", got)
	}
}

func TestSlotLabels(t *testing.T) {
	policy, _ := FixedHourly([]string{"10:00", "09:00"})
	rows := []Row{{Cells: map[string]Cell{"09:00": {}}}}
	got := SlotLabels(rows, policy)
	if !reflect.DeepEqual(got, []string{"09:00", "10:00"}) {
		t.Fatalf("unexpected labels %v", got)
	}
}

func TestStripMcastURL(t *testing.T) {
	cases := map[string]string{
		"udp://239.0.0.1:1234?pkt_size=1316": "239.0.0.1:1234",
		"rtp://239.0.0.9:5000":               "239.0.0.9:5000",
		"239.0.0.1:1234?x=1":                 "239.0.0.1:1234",
		"%zz":                                "%zz",
	}
	for in, want := range cases {
		if got := StripMcastURL(in); got != want {
			t.Fatalf("StripMcastURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func randomMeasurements(rng *rand.Rand, n int) []loudness.Measurement {
	base := at("2024-12-31T22:00:00Z")
	out := make([]loudness.Measurement, 0, n)
	seen := map[loudness.Key]struct{}{}
	for len(out) < n {
		m := loudness.Measurement{
			ID:        int64(len(out) + 1),
			StreamID:  loudness.StreamID(1 + rng.Intn(2)),
			Timestamp: base.Add(time.Duration(rng.Intn(28*3600)) * time.Second),
			AvgDB:     -60 + rng.Float64()*50,
		}
		if _, dup := seen[m.Key()]; dup {
			continue
		}
		seen[m.Key()] = struct{}{}
		out = append(out, m)
	}
	return out
}

func TestParsePolicy(t *testing.T) {
	cases := []struct {
		in   string
		kind PolicyKind
		ok   bool
	}{
		{"", PolicyDynamicHourly, true},
		{"hourly", PolicyDynamicHourly, true},
		{"fixed-hourly", PolicyFixedHourly, true},
		{"5m", PolicyDynamicMinute, true},
		{"60m", PolicyDynamicHourly, true},
		{"0m", "", false},
		{"61m", "", false},
		{"weekly", "", false},
	}
	for _, tc := range cases {
		p, err := ParsePolicy(tc.in, nil)
		if (err == nil) != tc.ok {
			t.Fatalf("ParsePolicy(%q) err = %v", tc.in, err)
		}
		if tc.ok && p.Kind() != tc.kind {
			t.Fatalf("ParsePolicy(%q) kind = %s, want %s", tc.in, p.Kind(), tc.kind)
		}
	}
	p, _ := ParsePolicy("15m", nil)
	if p.String() != "15m" {
		t.Fatalf("unexpected string %q", p.String())
	}
	if _, err := FixedHourly([]string{"9:30"}); err == nil {
		t.Fatalf("expected invalid slot error")
	}
	if got := strconv.Itoa(len(DefaultFixedSlots())); got != "9" {
		t.Fatalf("expected 9 default slots, got %s", got)
	}
}

func TestParseDay(t *testing.T) {
	day, err := ParseDay("2025-03-09")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if day.End().Sub(day.Start()) != 24*time.Hour || day.String() != "2025-03-09" {
		t.Fatalf("unexpected day %v..%v", day.Start(), day.End())
	}
	for _, bad := range []string{"", "2025-13-01", "01/02/2025", "2025-1-1"} {
		if _, err := ParseDay(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
