package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mahdi-taghi/business-assistant-ari/internal/bus"
	"github.com/mahdi-taghi/business-assistant-ari/internal/models"
	"github.com/mahdi-taghi/business-assistant-ari/internal/pipeline"
)

type fakeAsker struct {
	mu    sync.Mutex
	asked []pipeline.Question
}

func (a *fakeAsker) Ask(ctx context.Context, q pipeline.Question) *pipeline.Result {
	a.mu.Lock()
	a.asked = append(a.asked, q)
	a.mu.Unlock()
	return &pipeline.Result{
		Answer:     "پاسخ به: " + q.Text,
		Model:      "m",
		TokensUsed: 7,
		Outcome:    pipeline.OutcomeAnswered,
	}
}

type fakeBus struct {
	mu        sync.Mutex
	pending   []bus.Request
	responses []models.ResponseEnvelope
	readErrs  int
}

func (b *fakeBus) ReadRequests(ctx context.Context, cursor string, count int64, block time.Duration) ([]bus.Request, string, error) {
	b.mu.Lock()
	if b.readErrs > 0 {
		b.readErrs--
		b.mu.Unlock()
		return nil, cursor, errors.New("connection reset")
	}
	if len(b.pending) > 0 {
		req := b.pending[0]
		b.pending = b.pending[1:]
		b.mu.Unlock()
		return []bus.Request{req}, req.EntryID, nil
	}
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, cursor, ctx.Err()
	case <-time.After(block):
		return nil, cursor, nil
	}
}

func (b *fakeBus) Respond(ctx context.Context, env models.ResponseEnvelope) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses = append(b.responses, env)
	return "1-0", nil
}

func (b *fakeBus) published() []models.ResponseEnvelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.ResponseEnvelope(nil), b.responses...)
}

func TestRunAnswersAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &fakeBus{
		readErrs: 1,
		pending: []bus.Request{
			{EntryID: "1-0", Envelope: models.RequestEnvelope{MessageID: "m1", UserID: "u", ChatID: "c", Content: "سلام", IsFirstMessage: true}},
			{EntryID: "2-0", Err: &models.MissingFieldError{Field: models.FieldContent}},
			{EntryID: "3-0", Envelope: models.RequestEnvelope{MessageID: "m2", UserID: "u", ChatID: "c", Content: "دوم"}},
		},
	}
	a := &fakeAsker{}
	w := New(b, a, Config{
		Block:        20 * time.Millisecond,
		Heartbeat:    10 * time.Millisecond,
		ErrorBackoff: 5 * time.Millisecond,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return w.Processed() == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	out := b.published()
	require.Len(t, out, 2)
	require.Equal(t, "m1", out[0].MessageID)
	require.Equal(t, "پاسخ به: سلام", out[0].Content)
	require.Equal(t, SuggestTitle(out[0].Content), out[0].Metadata.SuggestedTitle)
	require.Equal(t, 7, out[0].TokensUsed)
	require.Equal(t, "m2", out[1].MessageID)
	require.Empty(t, out[1].Metadata.SuggestedTitle)
	require.Len(t, a.asked, 2)
}

func TestSuggestTitle(t *testing.T) {
	require.Equal(t, "کوتاه", SuggestTitle("کوتاه"))

	long := "این یک پاسخ بسیار طولانی است که باید برای عنوان کوتاه شود تا جا شود"
	title := SuggestTitle(long)
	require.Len(t, []rune(title), TitleRunes)
	require.Equal(t, string([]rune(long)[:TitleRunes]), title)
}

func TestWorkerOverRedisStreams(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := bus.DefaultConfig()
	cfg.RetryDelay = 0
	c := bus.New(client, cfg, zerolog.Nop())
	ctx := context.Background()

	cursor, err := c.ResponseCursor(ctx)
	require.NoError(t, err)
	messageID, _, err := c.Publish(ctx, &models.RequestEnvelope{
		UserID: "u1", UserRole: "analyst", ChatID: "c1", MessageRole: models.RoleUser, Content: "چند؟",
	})
	require.NoError(t, err)

	w := New(c, &fakeAsker{}, Config{Block: 50 * time.Millisecond}, zerolog.Nop())
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()

	d, err := c.AwaitResponse(ctx, messageID, bus.AwaitOptions{Cursor: cursor, Timeout: 2 * time.Second, MaxRetries: 1})
	cancel()
	require.NoError(t, <-done)

	require.NoError(t, err)
	require.NotNil(t, d)
	require.Equal(t, "پاسخ به: چند؟", d.Envelope.Content)
	require.Equal(t, "c1", d.Envelope.ChatID)
	require.Equal(t, "m", d.Envelope.Metadata.Model)
}
