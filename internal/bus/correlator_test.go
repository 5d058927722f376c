package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mahdi-taghi/business-assistant-ari/internal/models"
)

func newTestCorrelator(t *testing.T) (*Correlator, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := DefaultConfig()
	cfg.RetryDelay = 0
	return New(client, cfg, zerolog.Nop()), client, mr
}

func request(chatID, content string) *models.RequestEnvelope {
	return &models.RequestEnvelope{
		UserID:      "u1",
		UserRole:    models.DefaultUserRole,
		ChatID:      chatID,
		MessageRole: models.RoleUser,
		Content:     content,
	}
}

func response(messageID, chatID, content string) models.ResponseEnvelope {
	return models.ResponseEnvelope{
		MessageID: messageID,
		UserID:    "u1",
		ChatID:    chatID,
		Content:   content,
		Metadata:  models.ResponseMetadata{Model: "test", ProcessingTime: "0.1s"},
	}
}

func TestPublishStoresMapping(t *testing.T) {
	c, client, mr := newTestCorrelator(t)
	ctx := context.Background()

	messageID, entryID, err := c.Publish(ctx, request("c1", "hello"))
	require.NoError(t, err)
	require.NotEmpty(t, messageID)

	mapped, err := client.Get(ctx, "msg_map:"+messageID).Result()
	require.NoError(t, err)
	require.Equal(t, entryID, mapped)
	require.Greater(t, mr.TTL("msg_map:"+messageID), time.Duration(0))

	msgs, err := client.XRange(ctx, "chat_stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", msgs[0].Values[models.FieldContent])
	require.Equal(t, messageID, msgs[0].Values[models.FieldMessageID])
}

func TestPublishKeepsCallerMessageID(t *testing.T) {
	c, _, _ := newTestCorrelator(t)
	env := request("c1", "hi")
	env.MessageID = "fixed-id"

	messageID, _, err := c.Publish(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, "fixed-id", messageID)
	require.NotEmpty(t, env.Timestamp)
}

func TestResponseCursor(t *testing.T) {
	c, _, _ := newTestCorrelator(t)
	ctx := context.Background()

	cursor, err := c.ResponseCursor(ctx)
	require.NoError(t, err)
	require.Equal(t, CursorStart, cursor)

	id, err := c.Respond(ctx, response("m0", "c1", "old"))
	require.NoError(t, err)

	cursor, err = c.ResponseCursor(ctx)
	require.NoError(t, err)
	require.Equal(t, id, cursor)
}

func TestAwaitResponseSkipsForeignEntries(t *testing.T) {
	c, _, _ := newTestCorrelator(t)
	ctx := context.Background()

	cursor, err := c.ResponseCursor(ctx)
	require.NoError(t, err)
	messageID, _, err := c.Publish(ctx, request("c1", "q"))
	require.NoError(t, err)

	_, err = c.Respond(ctx, response("someone-else", "c2", "not yours"))
	require.NoError(t, err)
	want, err := c.Respond(ctx, response(messageID, "c1", "answer"))
	require.NoError(t, err)

	d, err := c.AwaitResponse(ctx, messageID, AwaitOptions{Cursor: cursor, Timeout: time.Second, MaxRetries: 1})
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Equal(t, want, d.EntryID)
	require.Equal(t, "answer", d.Envelope.Content)
	require.Equal(t, "test", d.Envelope.Metadata.Model)
}

func TestAwaitResponseArrivesWhileBlocked(t *testing.T) {
	c, _, _ := newTestCorrelator(t)
	ctx := context.Background()

	cursor, err := c.ResponseCursor(ctx)
	require.NoError(t, err)
	messageID, _, err := c.Publish(ctx, request("c1", "q"))
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_, _ = c.Respond(context.Background(), response(messageID, "c1", "late"))
	}()

	d, err := c.AwaitResponse(ctx, messageID, AwaitOptions{Cursor: cursor, Timeout: 2 * time.Second, MaxRetries: 1})
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Equal(t, "late", d.Envelope.Content)
}

func TestAwaitResponseExhaustsRetries(t *testing.T) {
	c, _, _ := newTestCorrelator(t)
	ctx := context.Background()

	var progress []string
	start := time.Now()
	d, err := c.AwaitResponse(ctx, "never", AwaitOptions{
		Cursor:     CursorStart,
		Timeout:    50 * time.Millisecond,
		MaxRetries: 3,
		Progress: func(attempt, total int) {
			progress = append(progress, fmt.Sprintf("%d/%d", attempt, total))
		},
	})
	require.NoError(t, err)
	require.Nil(t, d)
	require.Equal(t, []string{"1/3", "2/3"}, progress)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestAwaitResponseCancelled(t *testing.T) {
	c, _, _ := newTestCorrelator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := c.AwaitResponse(ctx, "m1", AwaitOptions{Timeout: time.Second, MaxRetries: 3})
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, d)
}

func TestCleanupRemovesEntriesAndMapping(t *testing.T) {
	c, client, _ := newTestCorrelator(t)
	ctx := context.Background()

	messageID, _, err := c.Publish(ctx, request("c1", "q"))
	require.NoError(t, err)
	respID, err := c.Respond(ctx, response(messageID, "c1", "a"))
	require.NoError(t, err)

	require.NoError(t, c.Cleanup(ctx, messageID, respID))

	require.Zero(t, client.XLen(ctx, "chat_stream").Val())
	require.Zero(t, client.XLen(ctx, "response_stream").Val())
	require.Zero(t, client.Exists(ctx, "msg_map:"+messageID).Val())

	// Second run finds nothing and still succeeds.
	require.NoError(t, c.Cleanup(ctx, messageID, respID))
	require.NoError(t, c.Cleanup(ctx, "", ""))
}

func TestCleanupWithoutResponse(t *testing.T) {
	c, client, _ := newTestCorrelator(t)
	ctx := context.Background()

	messageID, _, err := c.Publish(ctx, request("c1", "q"))
	require.NoError(t, err)
	other, _, err := c.Publish(ctx, request("c1", "q2"))
	require.NoError(t, err)

	require.NoError(t, c.Cleanup(ctx, messageID, ""))

	msgs, err := client.XRange(ctx, "chat_stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, other, msgs[0].Values[models.FieldMessageID])
	require.Equal(t, int64(1), client.Exists(ctx, "msg_map:"+other).Val())
}

func TestCleanupChatOnlyTouchesThatChat(t *testing.T) {
	c, client, _ := newTestCorrelator(t)
	ctx := context.Background()

	var mine []string
	for i := 0; i < 130; i++ {
		chat := "c1"
		if i%2 == 1 {
			chat = "c2"
		}
		id, _, err := c.Publish(ctx, request(chat, fmt.Sprintf("q%d", i)))
		require.NoError(t, err)
		_, err = c.Respond(ctx, response(id, chat, "a"))
		require.NoError(t, err)
		if chat == "c1" {
			mine = append(mine, id)
		}
	}

	deleted, err := c.CleanupChat(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 130, deleted)

	require.Equal(t, int64(65), client.XLen(ctx, "chat_stream").Val())
	require.Equal(t, int64(65), client.XLen(ctx, "response_stream").Val())
	for _, id := range mine {
		require.Zero(t, client.Exists(ctx, "msg_map:"+id).Val())
	}

	keys, err := client.Keys(ctx, "msg_map:*").Result()
	require.NoError(t, err)
	require.Len(t, keys, 65)

	deleted, err = c.CleanupChat(ctx, "c1")
	require.NoError(t, err)
	require.Zero(t, deleted)
}

func TestReadRequests(t *testing.T) {
	c, client, _ := newTestCorrelator(t)
	ctx := context.Background()

	id, _, err := c.Publish(ctx, request("c1", "q"))
	require.NoError(t, err)
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: "chat_stream",
		Values: map[string]any{models.FieldChatID: "c1"},
	}).Err())

	reqs, cursor, err := c.ReadRequests(ctx, CursorStart, 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	require.NoError(t, reqs[0].Err)
	require.Equal(t, id, reqs[0].Envelope.MessageID)
	require.Error(t, reqs[1].Err)
	require.Equal(t, reqs[1].EntryID, cursor)

	reqs, next, err := c.ReadRequests(ctx, cursor, 10, 20*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, reqs)
	require.Equal(t, cursor, next)
}
