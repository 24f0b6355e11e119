// Package chat implements the per-subject conversation session: ordered
// message history, turn sequencing against the model gateway, and failure
// substitution.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/haeun-dev/suneung-tutor/internal/domain"
	"github.com/haeun-dev/suneung-tutor/internal/gateway"
	"github.com/haeun-dev/suneung-tutor/internal/prompt"
)

// apologyText replaces the assistant reply whenever the gateway fails. The
// chat surface has no error affordance besides the message stream itself, so
// failures never escape as errors.
const apologyText = "죄송해요, 답변을 생성하는 중 오류가 발생했어요. 다시 시도해주세요."

var errGatewayUnbound = errors.New("no model bound to session; setup required")

// Session is the conversational state for one subject. History is append-only
// between setups; every user turn yields exactly one assistant message,
// substituted with an apology on gateway failure.
type Session struct {
	subjectID    string
	newGenerator gateway.Factory
	logger       *slog.Logger
	transcript   TranscriptLogger

	// sendMu serializes gateway round trips so overlapping sends cannot
	// interleave their appends.
	sendMu sync.Mutex

	mu           sync.Mutex
	subject      domain.Subject
	systemPrompt string
	generator    gateway.Generator
	history      []domain.Message
	pending      bool
	epoch        int64
	closed       bool
	watchers     map[int64]chan []domain.Message
	nextWatcher  int64
}

func newSession(subjectID string, factory gateway.Factory, logger *slog.Logger, transcript TranscriptLogger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if transcript == nil {
		transcript = noopTranscript{}
	}
	return &Session{
		subjectID:    subjectID,
		newGenerator: factory,
		logger:       logger,
		transcript:   transcript,
		watchers:     make(map[int64]chan []domain.Message),
	}
}

// Setup initializes or re-initializes the session for the subject: history is
// reset to a single greeting, the system prompt is rebuilt, and a fresh
// generator is bound. Calling it again fully discards prior history; any
// in-flight reply from before the call is discarded on arrival.
func (s *Session) Setup(subject domain.Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.subject = subject
	s.systemPrompt = prompt.ForSubject(subject.Name)
	s.generator = s.newGenerator(s.systemPrompt)
	s.history = []domain.Message{{Text: prompt.Greeting(subject.Name), IsFromUser: false}}
	s.pending = false
	s.epoch++
	s.broadcastLocked()

	s.logger.Info("chat session initialized", "subject_id", subject.ID)
}

// Send appends the user turn, performs one gateway round trip, and appends
// exactly one assistant message: the model text on success, the fixed apology
// on any failure. Blank input is a no-op with no gateway call.
func (s *Session) Send(ctx context.Context, text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	epoch := s.epoch
	gen := s.generator
	s.history = append(s.history, domain.Message{Text: trimmed, IsFromUser: true})
	s.pending = true
	s.broadcastLocked()
	s.mu.Unlock()

	s.transcript.Log(TranscriptEvent{SubjectID: s.subjectID, Role: "user", Text: trimmed})

	var reply string
	var err error
	if gen == nil {
		err = errGatewayUnbound
	} else {
		reply, err = gen.Generate(ctx, trimmed)
	}

	failed := err != nil
	if failed {
		s.logger.Warn("gateway call failed", "subject_id", s.subjectID, "error", err)
		reply = apologyText
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.epoch != epoch {
		// The session was disposed or re-initialized mid-flight; the reply
		// belongs to a history that no longer exists.
		return
	}
	s.history = append(s.history, domain.Message{Text: reply, IsFromUser: false})
	s.pending = false
	s.broadcastLocked()

	s.transcript.Log(TranscriptEvent{SubjectID: s.subjectID, Role: "assistant", Text: reply, Failed: failed})
}

// History returns a copy of the current ordered message list.
func (s *Session) History() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Pending reports whether a gateway round trip is in flight.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Watch streams history snapshots: the current list immediately, then the full
// list after every append. Slow watchers are conflated to the latest snapshot.
// The channel closes when ctx is cancelled or the session is closed.
func (s *Session) Watch(ctx context.Context) <-chan []domain.Message {
	out := make(chan []domain.Message, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(out)
		return out
	}
	snapshot := make([]domain.Message, len(s.history))
	copy(snapshot, s.history)
	out <- snapshot
	s.nextWatcher++
	id := s.nextWatcher
	s.watchers[id] = out
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if ch, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(ch)
		}
	}()

	return out
}

// broadcastLocked pushes the current history to every watcher. Callers hold mu.
func (s *Session) broadcastLocked() {
	if len(s.watchers) == 0 {
		return
	}
	snapshot := make([]domain.Message, len(s.history))
	copy(snapshot, s.history)
	for _, ch := range s.watchers {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
}

// Close disposes the session. Watchers are terminated and any in-flight
// gateway result is discarded on arrival.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
}
