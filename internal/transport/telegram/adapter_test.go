package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "tasktracker/internal/transport"
	logx "tasktracker/pkg/logx"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []string
	commands [][]tele.Command
	stop     chan struct{}
	once     sync.Once
}

func newFakeBot() *fakeBot { return &fakeBot{stop: make(chan struct{})} }

func (b *fakeBot) Start() { <-b.stop }
func (b *fakeBot) Stop()  { b.once.Do(func() { close(b.stop) }) }

func (b *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, what.(string))
	return &tele.Message{ID: len(b.sent)}, nil
}

func (b *fakeBot) SetCommands(opts ...interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = append(b.commands, opts[0].([]tele.Command))
	return nil
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("splitText short = %q", got)
	}
	long := strings.Repeat("line\n", 10) // 50 runes
	got := splitText(long, 20)
	for _, c := range got {
		if len([]rune(c)) > 20 {
			t.Fatalf("chunk too long: %q", c)
		}
	}
	if strings.Join(got, "\n") != strings.TrimRight(long, "\n") {
		t.Fatalf("chunks lost content: %q", got)
	}
}

func TestSendTextChunks(t *testing.T) {
	t.Parallel()
	bot := newFakeBot()
	a := newAdapter(bot, logx.Nop())
	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 7}, strings.Repeat("x", telegramTextLimit+10), nil)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if ref.MessageID != 1 || ref.ChatID != 7 || len(bot.sent) != 2 {
		t.Fatalf("ref = %+v, sent = %d", ref, len(bot.sent))
	}
}

func TestHandleMessageForwardsAndDrops(t *testing.T) {
	t.Parallel()
	bot := newFakeBot()
	a := newAdapter(bot, logx.Nop())
	out := make(chan kit.Update, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx, out); err != nil {
		t.Fatal(err)
	}

	m := &tele.Message{ID: 3, Chat: &tele.Chat{ID: 9}, Sender: &tele.User{ID: 42, Username: "sam"}, Text: "/tasks"}
	a.handleMessage(m)
	a.handleMessage(m)
	a.handleMessage(&tele.Message{ID: 4}) // no chat: ignored

	up := <-out
	if up.Message.FromID != 42 || up.Message.ChatID != 9 || up.Message.Text != "/tasks" {
		t.Fatalf("update = %+v", up.Message)
	}
	if a.droppedUpdates.Load() != 1 {
		t.Fatalf("dropped = %d", a.droppedUpdates.Load())
	}

	sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer scancel()
	if err := a.Stop(sctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestUpdateMenuCommandsOnlyOnChange(t *testing.T) {
	t.Parallel()
	bot := newFakeBot()
	a := newAdapter(bot, logx.Nop())
	cmds := []kit.BotCommand{{Command: "tasks", Description: "List tasks"}, {Command: "done"}}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := a.UpdateMenuCommands(ctx, cmds); err != nil {
			t.Fatal(err)
		}
	}
	if len(bot.commands) != 1 {
		t.Fatalf("SetCommands calls = %d, want 1", len(bot.commands))
	}
	if bot.commands[0][1].Description != "done" {
		t.Fatalf("empty description not defaulted: %+v", bot.commands[0])
	}
}
