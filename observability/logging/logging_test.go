package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerRenamesStandardKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Info("exchange finalized", slog.Uint64("exchangeId", 7))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["message"] != "exchange finalized" {
		t.Fatalf("unexpected message %v", line["message"])
	}
	if line["severity"] != "INFO" {
		t.Fatalf("unexpected severity %v", line["severity"])
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("expected timestamp key, got %v", line)
	}
	if line["exchangeId"] != float64(7) {
		t.Fatalf("unexpected exchangeId %v", line["exchangeId"])
	}
}

func TestHandlerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, ParseLevel("warn")))
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info line to be filtered, got %s", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatalf("expected warn line to be written")
	}
}

func TestWriterRotatesFiles(t *testing.T) {
	if w := Writer(Options{}); w == nil {
		t.Fatalf("expected stdout writer")
	}
	path := t.TempDir() + "/funds.log"
	w := Writer(Options{File: path, MaxSizeMB: 1})
	if _, err := w.Write([]byte("line\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if closer, ok := w.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
}
