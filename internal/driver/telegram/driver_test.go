package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"hookrelay/pkg/hookrelay"
)

func TestDriverSubmitsDecodedInvocations(t *testing.T) {
	t.Parallel()

	updates := make(chan Update, 4)
	updates <- Update{
		ID:      "tg:100:0",
		Chat:    ChatRef{ID: "100", Type: hookrelay.ChannelTypeGroup},
		Actor:   ActorRef{ID: "9", IsBot: true},
		Message: MessagePayload{ID: "0", Text: "/ping"},
	}
	updates <- Update{
		ID:      "tg:100:1",
		Chat:    ChatRef{ID: "100", Type: hookrelay.ChannelTypeGroup},
		Actor:   ActorRef{ID: "42"},
		Message: MessagePayload{ID: "1", Text: "hello there"},
	}
	updates <- Update{
		ID:      "tg:100:2",
		Chat:    ChatRef{ID: "100", Type: hookrelay.ChannelTypeGroup},
		Actor:   ActorRef{ID: "42"},
		Message: MessagePayload{ID: "2", Text: "/ping"},
	}
	updates <- Update{
		ID:      "tg:100:3",
		Chat:    ChatRef{ID: "100", Type: hookrelay.ChannelTypeGroup},
		Actor:   ActorRef{ID: "42"},
		Message: MessagePayload{ID: "3", Text: "/ping extra"},
	}
	close(updates)

	sink := &stubInvocationSink{commands: []hookrelay.RegisteredCommand{
		{ModuleName: "pingpong", Command: hookrelay.CommandDescriptor{Name: "ping"}},
	}}
	transport := &stubTransport{}
	driver := newTestDriver(t, ChannelSource{Updates: updates}, transport)

	if err := driver.Start(context.Background(), sink); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	submitted := sink.submitted()
	if len(submitted) != 1 || submitted[0].CommandName != "ping" || submitted[0].Caller.ID != "42" {
		t.Fatalf("submitted = %+v", submitted)
	}
	if len(transport.responders) != 1 || transport.responders[0].Message.ID != "2" {
		t.Fatalf("responders = %+v", transport.responders)
	}
	if len(transport.replies) != 1 {
		t.Fatalf("rejection replies = %d, want 1", len(transport.replies))
	}
	if !strings.Contains(transport.replies[0].Text, "unexpected argument") || transport.replyTo[0] != 3 {
		t.Fatalf("rejection reply = %+v to %d", transport.replies[0], transport.replyTo[0])
	}
}

func TestDriverUnregisteredCommandGetsNoReply(t *testing.T) {
	t.Parallel()

	texts := []string{"/weather", "/weather berlin", `/weather "berlin`, "/weather city=berlin extra"}
	updates := make(chan Update, len(texts))
	for index, text := range texts {
		id := strconv.Itoa(index)
		updates <- Update{
			ID:      "tg:100:" + id,
			Chat:    ChatRef{ID: "100", Type: hookrelay.ChannelTypeGroup},
			Actor:   ActorRef{ID: "42"},
			Message: MessagePayload{ID: id, Text: text},
		}
	}
	close(updates)

	sink := &stubInvocationSink{commands: []hookrelay.RegisteredCommand{
		{ModuleName: "pingpong", Command: hookrelay.CommandDescriptor{Name: "ping"}},
	}}
	transport := &stubTransport{}
	driver := newTestDriver(t, ChannelSource{Updates: updates}, transport)

	if err := driver.Start(context.Background(), sink); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if len(transport.replies) != 0 {
		t.Fatalf("replies = %+v, want none for unregistered commands", transport.replies)
	}
	submitted := sink.submitted()
	if len(submitted) != len(texts) {
		t.Fatalf("submitted = %d, want %d", len(submitted), len(texts))
	}
	for _, invocation := range submitted {
		if invocation.CommandName != "weather" || len(invocation.RawArguments) != 0 {
			t.Fatalf("invocation = %+v, want bare weather", invocation)
		}
	}
}

func TestDriverSubmitErrorDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	updates := make(chan Update, 2)
	for _, id := range []string{"1", "2"} {
		updates <- Update{
			ID:      "tg:100:" + id,
			Chat:    ChatRef{ID: "100", Type: hookrelay.ChannelTypeGroup},
			Message: MessagePayload{ID: id, Text: "/ping"},
		}
	}
	close(updates)

	sink := &stubInvocationSink{submitErr: errors.New("draining")}
	driver := newTestDriver(t, ChannelSource{Updates: updates}, &stubTransport{})

	if err := driver.Start(context.Background(), sink); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if got := sink.attempts(); got != 2 {
		t.Fatalf("submit attempts = %d, want 2", got)
	}
}

func TestDriverSessionReadyFiltersMentionsAndPublishesMenu(t *testing.T) {
	t.Parallel()

	updates := make(chan Update)
	sink := &stubInvocationSink{commands: []hookrelay.RegisteredCommand{
		{ModuleName: "pingpong", Command: hookrelay.CommandDescriptor{Name: "ping"}},
	}}
	transport := &stubTransport{}
	driver := newTestDriver(t, ChannelSource{Updates: updates}, transport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- driver.Start(ctx, sink)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		err := driver.SessionReady(ctx, "HookRelayBot")
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session ready failed: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := transport.published(); len(got) != 1 || got[0].Command.Name != "ping" {
		t.Fatalf("published = %+v", got)
	}

	updates <- Update{ID: "tg:1:1", Chat: ChatRef{ID: "1"}, Message: MessagePayload{ID: "1", Text: "/ping@otherbot"}}
	updates <- Update{ID: "tg:1:2", Chat: ChatRef{ID: "1"}, Message: MessagePayload{ID: "2", Text: "/ping@hookrelaybot"}}
	close(updates)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop")
	}

	submitted := sink.submitted()
	if len(submitted) != 1 || submitted[0].CommandName != "ping" {
		t.Fatalf("submitted = %+v", submitted)
	}
}

func TestDriverStartRejectsNilSink(t *testing.T) {
	t.Parallel()

	driver := newTestDriver(t, ChannelSource{}, &stubTransport{})
	if err := driver.Start(context.Background(), nil); err == nil {
		t.Fatal("expected nil sink error")
	}
	if err := driver.SessionReady(context.Background(), "bot"); err == nil {
		t.Fatal("expected not started error")
	}
}

func newTestDriver(t *testing.T, source UpdateSource, transport ReplyTransport) *Driver {
	t.Helper()

	driver, err := NewDriver(
		source,
		transport,
		WithName("telegram-test"),
		WithDriverLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("new driver failed: %v", err)
	}
	if driver.Name() != "telegram-test" {
		t.Fatalf("name = %q", driver.Name())
	}

	return driver
}

type stubInvocationSink struct {
	commands  []hookrelay.RegisteredCommand
	submitErr error

	mu          sync.Mutex
	invocations []*hookrelay.Invocation
	calls       int
}

func (s *stubInvocationSink) ListCommands(context.Context) ([]hookrelay.RegisteredCommand, error) {
	return append([]hookrelay.RegisteredCommand(nil), s.commands...), nil
}

func (s *stubInvocationSink) Submit(_ context.Context, invocation *hookrelay.Invocation, _ hookrelay.Responder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.submitErr != nil {
		return s.submitErr
	}
	s.invocations = append(s.invocations, invocation)

	return nil
}

func (s *stubInvocationSink) submitted() []*hookrelay.Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*hookrelay.Invocation(nil), s.invocations...)
}

func (s *stubInvocationSink) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

type stubTransport struct {
	mu         sync.Mutex
	responders []Update
	replies    []hookrelay.Reply
	replyTo    []int
	commands   []hookrelay.RegisteredCommand
}

func (s *stubTransport) Responder(update Update) hookrelay.Responder {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.responders = append(s.responders, update)
	return noopResponder{}
}

func (s *stubTransport) SendReply(_ context.Context, _ ChatRef, replyTo int, reply hookrelay.Reply) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.replies = append(s.replies, reply)
	s.replyTo = append(s.replyTo, replyTo)
	return 1, nil
}

func (s *stubTransport) PublishCommands(_ context.Context, commands []hookrelay.RegisteredCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commands = append([]hookrelay.RegisteredCommand(nil), commands...)
	return nil
}

func (s *stubTransport) published() []hookrelay.RegisteredCommand {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]hookrelay.RegisteredCommand(nil), s.commands...)
}

type noopResponder struct{}

func (noopResponder) Defer(context.Context) error                  { return nil }
func (noopResponder) Reply(context.Context, hookrelay.Reply) error { return nil }
