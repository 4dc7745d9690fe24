package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"loudness-monitor/internal/auth"
	loudness "loudness-monitor/internal/loudness/domain"
	"loudness-monitor/internal/syncclient"
)

func TestSummarizeKeepsLatestPerStream(t *testing.T) {
	base := time.Date(2025, 1, 1, 14, 0, 0, 0, time.UTC)
	items := []loudness.Measurement{
		{StreamID: 2, Timestamp: base, AvgDB: -20},
		{StreamID: 1, Timestamp: base.Add(time.Minute), AvgDB: -21},
		{StreamID: 2, Timestamp: base.Add(2 * time.Minute), AvgDB: -22, Status: loudness.StatusTooLow},
	}
	rows := summarize(items)
	if len(rows) != 2 || rows[0].StreamID != 1 || rows[1].StreamID != 2 {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if rows[1].Count != 2 || rows[1].Latest.AvgDB != -22 {
		t.Fatalf("unexpected latest %+v", rows[1])
	}

	var buf bytes.Buffer
	printSummary(&buf, rows)
	if !strings.Contains(buf.String(), "stream 2: 2 samples, latest -22.0 dB") || !strings.Contains(buf.String(), "(too_low)") {
		t.Fatalf("unexpected summary %q", buf.String())
	}
}

func TestReportFormats(t *testing.T) {
	var buf bytes.Buffer
	report(&buf, syncclient.PollResult{Skipped: true}, nil)
	report(&buf, syncclient.PollResult{Fetched: 3, Added: 1, Watermark: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}, nil)
	out := buf.String()
	if !strings.Contains(out, "poll skipped") || !strings.Contains(out, "fetched 3, added 1, watermark 2025-01-01T00:00:00Z") {
		t.Fatalf("unexpected report %q", out)
	}
}

func TestMintTokenRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	cfg := config{secret: "s3cret", subject: "probe-1", role: "analyzer", ttl: time.Hour}
	if err := mint(&buf, cfg); err != nil {
		t.Fatalf("mint: %v", err)
	}
	claims, err := auth.ParseJWT(strings.TrimSpace(buf.String()), []byte("s3cret"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "probe-1" || claims.Role != "analyzer" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	cfg.role = "root"
	if err := mint(&buf, cfg); err == nil {
		t.Fatalf("expected unknown role error")
	}
}
