package journal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	appconfig "tradeflow/config"
)

func TestNewSessionDisabled(t *testing.T) {
	s, err := NewSession(context.Background(), appconfig.JournalConfig{Enabled: false}, "grid", "BTCUSDT")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s != nil {
		t.Fatal("expected nil session when journal is disabled")
	}
}

func TestNilSessionIsSafe(t *testing.T) {
	var s *Session
	s.RecordFill(FillRecord{})
	s.RecordChunk(ChunkRecord{})
	s.RecordCancel(CancelRecord{})
	if err := s.Close(context.Background()); err != nil {
		t.Errorf("nil session Close: %v", err)
	}
}

func TestSessionAccumulatesRecords(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSession(context.Background(), appconfig.JournalConfig{
		Enabled:   true,
		Directory: dir,
	}, "grid", "BTCUSDT")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s == nil {
		t.Fatal("expected session")
	}
	if s.ID == "" {
		t.Error("expected non-empty session id")
	}

	s.RecordFill(FillRecord{Symbol: "BTCUSDT", Side: "BUY", OrderID: 1, Price: 49000, Quantity: 0.01})
	s.RecordFill(FillRecord{Symbol: "BTCUSDT", Side: "SELL", OrderID: 2, Price: 50000, Quantity: 0.01, Profit: 10})
	s.RecordCancel(CancelRecord{Symbol: "BTCUSDT", OrderID: 3})

	fills, chunks, cancels := s.Counts()
	if fills != 2 || chunks != 0 || cancels != 1 {
		t.Errorf("expected counts 2/0/1, got %d/%d/%d", fills, chunks, cancels)
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 2 {
		t.Fatalf("expected fills and cancels files, got %v", names)
	}
	for _, n := range names {
		if !strings.HasPrefix(n, "grid_BTCUSDT_") || filepath.Ext(n) != ".parquet" {
			t.Errorf("unexpected journal file name %q", n)
		}
	}
}

func TestSessionEmptyWritesNothing(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSession(context.Background(), appconfig.JournalConfig{
		Enabled:   true,
		Directory: dir,
	}, "twap", "ETHUSDT")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no files for empty session, got %d", len(entries))
	}
}

func TestS3Key(t *testing.T) {
	s := &Session{engine: "twap", symbol: "BTCUSDT"}
	key := s.s3Key("twap_BTCUSDT_chunks_20260829120000.parquet")
	want := "engine=twap/symbol=BTCUSDT/date=0001-01-01/twap_BTCUSDT_chunks_20260829120000.parquet"
	if key != want {
		t.Errorf("s3Key = %q, want %q", key, want)
	}
}
