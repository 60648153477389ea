package recorder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRecorderRotation(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "recorder_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tempDir)

	r, err := NewRecorder(tempDir)
	if err != nil {
		t.Fatal(err)
	}

	// Create more than MaxRotatedFiles
	for i := 0; i < MaxRotatedFiles+2; i++ {
		err := r.Start("conn")
		if err != nil {
			t.Fatal(err)
		}
		r.RecordEvent("connected", "hub")
		time.Sleep(10 * time.Millisecond) // Ensure different mod times
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatal(err)
	}

	// We should only have MaxRotatedFiles
	if len(entries) != MaxRotatedFiles {
		t.Errorf("expected %d files, got %d", MaxRotatedFiles, len(entries))
	}
}

func TestRecorderFrames(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "recorder_frames_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tempDir)

	r, err := NewRecorder(tempDir)
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Start("conn-1"); err != nil {
		t.Fatal(err)
	}

	r.RecordFrame("out", []byte(`{"interactionName":"OpenForm","callbackId":"1"}`))
	r.RecordFrame("in", []byte(`{"callbackId":"1","result":[]}`))
	r.RecordFrame("in", []byte("\x1f\x8b not json"))
	r.Close()

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file, got %d", len(entries))
	}

	content, err := os.ReadFile(filepath.Join(tempDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}

	var events []Event
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			t.Fatalf("unreadable trace line %q: %v", scanner.Text(), err)
		}
		events = append(events, evt)
	}

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != "frame-out" || events[1].Type != "frame-in" {
		t.Errorf("wrong event types: %s, %s", events[0].Type, events[1].Type)
	}
	payload, ok := events[0].Payload.(map[string]interface{})
	if !ok {
		t.Fatalf("JSON frame not stored structurally: %T", events[0].Payload)
	}
	if payload["interactionName"] != "OpenForm" {
		t.Errorf("frame body lost: %v", payload)
	}
	// Non-JSON payloads survive as strings
	if _, ok := events[2].Payload.(string); !ok {
		t.Errorf("binary frame not kept as string: %T", events[2].Payload)
	}
}

func TestRecorderNoTraceBeforeStart(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "recorder_idle_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tempDir)

	r, err := NewRecorder(tempDir)
	if err != nil {
		t.Fatal(err)
	}

	// Logging before Start is a silent no-op
	r.RecordFrame("in", []byte(`{}`))
	r.RecordEvent("connected", "hub")

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no trace files, got %d", len(entries))
	}
}
