package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haeun-dev/suneung-tutor/internal/domain"
	"github.com/haeun-dev/suneung-tutor/internal/gateway"
)

type fakeGenerator struct {
	mu        sync.Mutex
	reply     string
	err       error
	calls     int
	lastText  string
	active    int
	maxActive int

	// when set, Generate blocks until release is closed.
	started chan struct{}
	release chan struct{}
}

func (f *fakeGenerator) Generate(_ context.Context, userText string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.lastText = userText
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	started := f.started
	release := f.release
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}

	f.mu.Lock()
	f.active--
	reply, err := f.reply, f.err
	f.mu.Unlock()
	return reply, err
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestSession(gen gateway.Generator) (*Session, *string) {
	var capturedPrompt string
	factory := func(systemInstruction string) gateway.Generator {
		capturedPrompt = systemInstruction
		return gen
	}
	return newSession("math", factory, nil, nil), &capturedPrompt
}

func mathSubject() domain.Subject {
	s, _ := domain.SubjectByID("math")
	return s
}

func TestSetupResetsHistoryToGreeting(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: "답변"}
	s, capturedPrompt := newTestSession(gen)

	s.Setup(mathSubject())

	history := s.History()
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].IsFromUser {
		t.Error("greeting must not be a user message")
	}
	if !strings.Contains(history[0].Text, "수학") {
		t.Errorf("greeting missing subject name: %q", history[0].Text)
	}
	if !strings.Contains(*capturedPrompt, `"수학"`) {
		t.Errorf("system prompt missing subject name: %q", *capturedPrompt)
	}
}

func TestSetupTwiceFullyReplacesHistory(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: "답변"}
	s, _ := newTestSession(gen)

	s.Setup(mathSubject())
	s.Send(context.Background(), "미분이 뭐예요?")
	if got := len(s.History()); got != 3 {
		t.Fatalf("history length after send = %d, want 3", got)
	}

	english, _ := domain.SubjectByID("english")
	s.Setup(english)

	history := s.History()
	if len(history) != 1 {
		t.Fatalf("history length after re-setup = %d, want 1", len(history))
	}
	if !strings.Contains(history[0].Text, "영어") {
		t.Errorf("greeting belongs to the old subject: %q", history[0].Text)
	}
}

func TestSendBlankIsNoOp(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: "답변"}
	s, _ := newTestSession(gen)
	s.Setup(mathSubject())

	for _, text := range []string{"", "   ", "\n\t "} {
		s.Send(context.Background(), text)
	}

	if got := len(s.History()); got != 1 {
		t.Errorf("history length = %d, want 1", got)
	}
	if gen.callCount() != 0 {
		t.Errorf("gateway called %d times for blank input, want 0", gen.callCount())
	}
}

func TestSendAppendsUserAndAssistantMessages(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: "미분은 순간 변화율입니다."}
	s, _ := newTestSession(gen)
	s.Setup(mathSubject())

	s.Send(context.Background(), "  미분이 뭐예요?  ")

	history := s.History()
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if !history[1].IsFromUser || history[1].Text != "미분이 뭐예요?" {
		t.Errorf("user message = %+v, want trimmed user turn", history[1])
	}
	if history[2].IsFromUser || history[2].Text != "미분은 순간 변화율입니다." {
		t.Errorf("assistant message = %+v", history[2])
	}
	if s.Pending() {
		t.Error("pending must clear after the round trip")
	}
	gen.mu.Lock()
	lastText := gen.lastText
	gen.mu.Unlock()
	if lastText != "미분이 뭐예요?" {
		t.Errorf("gateway received %q, want the trimmed text", lastText)
	}
}

func TestSendFailureAppendsExactlyOneApology(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{err: errors.New("quota exceeded")}
	s, _ := newTestSession(gen)
	s.Setup(mathSubject())

	before := len(s.History())
	s.Send(context.Background(), "질문")

	history := s.History()
	if len(history) != before+2 {
		t.Fatalf("history grew by %d, want 2 (user + apology)", len(history)-before)
	}
	last := history[len(history)-1]
	if last.IsFromUser || last.Text != apologyText {
		t.Errorf("substitute message = %+v, want fixed apology", last)
	}
}

func TestSendWithoutSetupAppendsApology(t *testing.T) {
	t.Parallel()

	factory := func(string) gateway.Generator { return nil }
	s := newSession("math", factory, nil, nil)

	s.Send(context.Background(), "질문")

	history := s.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[1].Text != apologyText {
		t.Errorf("expected apology for unbound gateway, got %q", history[1].Text)
	}
}

func TestWatchReplaysThenPushes(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: "답변"}
	s, _ := newTestSession(gen)
	s.Setup(mathSubject())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := s.Watch(ctx)

	first := receiveHistory(t, stream)
	if len(first) != 1 {
		t.Fatalf("replayed history length = %d, want 1", len(first))
	}

	s.Send(context.Background(), "질문")

	// Watchers are conflated to the latest snapshot; wait for the full turn.
	deadline := time.After(2 * time.Second)
	for {
		history := receiveHistoryOrNil(t, stream, deadline)
		if len(history) == 3 {
			return
		}
	}
}

func TestUserAppendVisibleBeforeGatewayCall(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{
		reply:   "답변",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s, _ := newTestSession(gen)
	s.Setup(mathSubject())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Send(context.Background(), "질문")
	}()

	<-gen.started
	history := s.History()
	if len(history) != 2 || !history[1].IsFromUser {
		t.Errorf("user turn not visible during gateway call: %+v", history)
	}
	if !s.Pending() {
		t.Error("session must report pending during the round trip")
	}

	close(gen.release)
	<-done
}

func TestSetupDiscardsInFlightReply(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{
		reply:   "늦은 답변",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s, _ := newTestSession(gen)
	s.Setup(mathSubject())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Send(context.Background(), "질문")
	}()

	<-gen.started
	s.Setup(mathSubject()) // re-initialize while the reply is in flight
	close(gen.release)
	<-done

	history := s.History()
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1 (stale reply must be discarded)", len(history))
	}
}

func TestOverlappingSendsSerialize(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: "답변"}
	s, _ := newTestSession(gen)
	s.Setup(mathSubject())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Send(context.Background(), "질문")
		}()
	}
	wg.Wait()

	gen.mu.Lock()
	maxActive := gen.maxActive
	gen.mu.Unlock()
	if maxActive > 1 {
		t.Errorf("gateway calls overlapped (max %d concurrent), want serialized", maxActive)
	}

	history := s.History()
	if len(history) != 9 {
		t.Fatalf("history length = %d, want 9 (greeting + 4 turns)", len(history))
	}
	// After the greeting, turns must strictly alternate user/assistant.
	for i := 1; i < len(history); i++ {
		wantUser := i%2 == 1
		if history[i].IsFromUser != wantUser {
			t.Fatalf("history[%d].IsFromUser = %v, appends interleaved", i, history[i].IsFromUser)
		}
	}
}

func TestClosedSessionDiscardsReply(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{
		reply:   "답변",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s, _ := newTestSession(gen)
	s.Setup(mathSubject())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Send(context.Background(), "질문")
	}()

	<-gen.started
	s.Close()
	close(gen.release)
	<-done

	if got := len(s.History()); got != 2 {
		t.Errorf("history length = %d, want 2 (no append after close)", got)
	}
}

func TestManagerReusesAndResetsSessions(t *testing.T) {
	t.Parallel()

	factory := func(string) gateway.Generator { return &fakeGenerator{reply: "답변"} }
	m := NewManager(factory, nil, nil)
	defer m.Close()

	a := m.Session("math")
	if m.Session("math") != a {
		t.Error("expected the same session instance per subject")
	}
	if m.Session("english") == a {
		t.Error("expected distinct sessions per subject")
	}

	m.Reset("math")
	if m.Session("math") == a {
		t.Error("expected a fresh session after reset")
	}
}

func receiveHistory(t *testing.T, stream <-chan []domain.Message) []domain.Message {
	t.Helper()
	select {
	case history, ok := <-stream:
		if !ok {
			t.Fatal("history stream closed unexpectedly")
		}
		return history
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for history snapshot")
		return nil
	}
}

func receiveHistoryOrNil(t *testing.T, stream <-chan []domain.Message, deadline <-chan time.Time) []domain.Message {
	t.Helper()
	select {
	case history, ok := <-stream:
		if !ok {
			t.Fatal("history stream closed unexpectedly")
		}
		return history
	case <-deadline:
		t.Fatal("timed out waiting for full turn")
		return nil
	}
}
