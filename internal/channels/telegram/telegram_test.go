package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type fakeClient struct {
	mu       sync.Mutex
	sent     []*tgbot.SendMessageParams
	answered []string
}

func (f *fakeClient) SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, params)
	return &models.Message{}, nil
}

func (f *fakeClient) AnswerCallbackQuery(ctx context.Context, params *tgbot.AnswerCallbackQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, params.CallbackQueryID)
	return true, nil
}

func (f *fakeClient) Start(ctx context.Context) { <-ctx.Done() }

func newTestAdapter(t *testing.T) (*Adapter, *fakeClient) {
	t.Helper()
	client := &fakeClient{}
	a := New("test-token", nil)
	a.newBot = func(token string, opts ...tgbot.Option) (BotClient, error) {
		return client, nil
	}
	return a, client
}

func TestSplitMessagePrefersNewlineBoundary(t *testing.T) {
	text := strings.Repeat("a", 10) + "\n" + strings.Repeat("b", 10)
	chunks := splitMessage(text, 15)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0] != strings.Repeat("a", 10) {
		t.Fatalf("expected first chunk to break at newline, got %q", chunks[0])
	}
}

func TestSplitMessageUnderLimitIsUnchanged(t *testing.T) {
	chunks := splitMessage("short", 4096)
	if len(chunks) != 1 || chunks[0] != "short" {
		t.Fatalf("unexpected split: %+v", chunks)
	}
}

func TestSendMessageSplitsLongText(t *testing.T) {
	a, client := newTestAdapter(t)
	a.client = client
	text := strings.Repeat("x", 5000)
	if err := a.SendMessage(context.Background(), 123, text, SendOptions{}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if len(client.sent) < 2 {
		t.Fatalf("expected message to be split into multiple sends, got %d", len(client.sent))
	}
}

func TestRequestApprovalTimesOutToDeny(t *testing.T) {
	a, client := newTestAdapter(t)
	a.client = client

	decisionCh := make(chan string, 1)
	// RequestApproval derives its 5-minute timeout from ctx, so a parent
	// context with a short deadline makes the timeout path fire quickly.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := a.RequestApproval(ctx, 123, "req-1", "Allow?", func(decision string) {
		decisionCh <- decision
	}); err != nil {
		t.Fatalf("RequestApproval() error = %v", err)
	}

	select {
	case decision := <-decisionCh:
		if decision != "deny" {
			t.Fatalf("expected deny, got %s", decision)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for approval timeout to resolve")
	}
}

func TestResolveApprovalCancelsTimeout(t *testing.T) {
	a, _ := newTestAdapter(t)
	_, cancel := context.WithCancel(context.Background())
	a.approvals["req-2"] = &pendingApproval{cancel: cancel}

	if !a.ResolveApproval("req-2", "approve") {
		t.Fatalf("expected ResolveApproval to succeed for pending request")
	}
	if a.ResolveApproval("req-2", "approve") {
		t.Fatalf("expected second ResolveApproval to report not-pending")
	}
}
