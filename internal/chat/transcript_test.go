package chat

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileTranscriptWritesPerSubjectNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	transcript, err := NewFileTranscript(TranscriptConfig{Dir: dir, QueueSize: 16}, nil)
	if err != nil {
		t.Fatalf("NewFileTranscript failed: %v", err)
	}

	transcript.Log(TranscriptEvent{SubjectID: "math", Role: "user", Text: "질문"})
	transcript.Log(TranscriptEvent{SubjectID: "math", Role: "assistant", Text: apologyText, Failed: true})
	if err := transcript.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "math.ndjson"))
	if err != nil {
		t.Fatalf("transcript file not written: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("transcript has %d lines, want 2", len(lines))
	}

	var first, second TranscriptEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("failed to unmarshal first line: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("failed to unmarshal second line: %v", err)
	}
	if first.Role != "user" || first.Text != "질문" {
		t.Errorf("first event = %+v", first)
	}
	if second.Role != "assistant" || !second.Failed {
		t.Errorf("second event = %+v", second)
	}
	if first.Time.IsZero() {
		t.Error("event timestamp not populated")
	}
}

func TestFileTranscriptCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	transcript, err := NewFileTranscript(TranscriptConfig{Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("NewFileTranscript failed: %v", err)
	}
	if err := transcript.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := transcript.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
