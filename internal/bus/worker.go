package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mahdi-taghi/business-assistant-ari/internal/models"
)

// Request is one entry read from the request stream. Err is set when the
// entry lacks required fields; Envelope is then incomplete.
type Request struct {
	EntryID  string
	Envelope models.RequestEnvelope
	Err      error
}

// ReadRequests blocks up to block for request entries after cursor and
// returns them with the cursor to continue from. A timeout yields no entries
// and no error.
func (c *Correlator) ReadRequests(ctx context.Context, cursor string, count int64, block time.Duration) ([]Request, string, error) {
	if cursor == "" {
		cursor = CursorStart
	}
	if block < time.Millisecond {
		block = time.Millisecond
	}

	streams, err := c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{c.cfg.RequestStream, cursor},
		Count:   count,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, cursor, nil
	}
	if err != nil {
		return nil, cursor, fmt.Errorf("read requests: %w", err)
	}

	var out []Request
	for _, s := range streams {
		for _, msg := range s.Messages {
			cursor = msg.ID
			env, err := models.ParseRequest(msg.Values)
			out = append(out, Request{EntryID: msg.ID, Envelope: env, Err: err})
		}
	}
	return out, cursor, nil
}

// Respond appends env to the response stream.
func (c *Correlator) Respond(ctx context.Context, env models.ResponseEnvelope) (string, error) {
	if env.Timestamp == "" {
		env.Timestamp = models.Now()
	}
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.ResponseStream,
		MaxLen: c.cfg.MaxLen,
		Approx: true,
		Values: env.Values(),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish response: %w", err)
	}
	return id, nil
}
