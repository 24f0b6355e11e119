package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TranscriptEvent is one chat turn as recorded in the transcript log.
type TranscriptEvent struct {
	Time      time.Time `json:"ts"`
	SubjectID string    `json:"subject_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Failed    bool      `json:"failed,omitempty"`
}

// TranscriptLogger records chat turns for offline review. Logging must never
// block a send; implementations drop events under backpressure.
type TranscriptLogger interface {
	Log(event TranscriptEvent)
}

type noopTranscript struct{}

func (noopTranscript) Log(TranscriptEvent) {}

// NoopTranscript returns a logger that discards everything.
func NoopTranscript() TranscriptLogger { return noopTranscript{} }

// TranscriptConfig controls NDJSON transcript logging.
type TranscriptConfig struct {
	Dir       string
	QueueSize int
}

// FileTranscript appends one NDJSON line per chat turn to a per-subject file
// under the configured directory. Writes happen on a single background
// goroutine fed by a bounded queue.
type FileTranscript struct {
	dir    string
	queue  chan TranscriptEvent
	logger *slog.Logger

	files map[string]*os.File

	closeOnce sync.Once
	done      chan struct{}
}

// NewFileTranscript creates the transcript directory and starts the writer.
func NewFileTranscript(cfg TranscriptConfig, logger *slog.Logger) (*FileTranscript, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}

	t := &FileTranscript{
		dir:    cfg.Dir,
		queue:  make(chan TranscriptEvent, cfg.QueueSize),
		logger: logger,
		files:  make(map[string]*os.File),
		done:   make(chan struct{}),
	}
	go t.run()
	return t, nil
}

// Log enqueues an event. Events are dropped, not blocked on, when the queue is
// full.
func (t *FileTranscript) Log(event TranscriptEvent) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	select {
	case t.queue <- event:
	default:
		t.logger.Warn("transcript queue full, dropping event", "subject_id", event.SubjectID)
	}
}

func (t *FileTranscript) run() {
	defer close(t.done)
	for event := range t.queue {
		t.write(event)
	}
	for _, f := range t.files {
		if err := f.Close(); err != nil {
			t.logger.Warn("failed to close transcript file", "error", err)
		}
	}
}

func (t *FileTranscript) write(event TranscriptEvent) {
	f, ok := t.files[event.SubjectID]
	if !ok {
		var err error
		f, err = os.OpenFile(filepath.Join(t.dir, event.SubjectID+".ndjson"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			t.logger.Warn("failed to open transcript file", "subject_id", event.SubjectID, "error", err)
			return
		}
		t.files[event.SubjectID] = f
	}

	line, err := json.Marshal(event)
	if err != nil {
		t.logger.Warn("failed to marshal transcript event", "error", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		t.logger.Warn("failed to write transcript line", "subject_id", event.SubjectID, "error", err)
	}
}

// Close drains the queue and closes every open file.
func (t *FileTranscript) Close() error {
	t.closeOnce.Do(func() {
		close(t.queue)
	})
	<-t.done
	return nil
}

var _ TranscriptLogger = (*FileTranscript)(nil)
