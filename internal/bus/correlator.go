// Package bus correlates requests and responses exchanged with detached
// workers over two Redis streams.
//
// A session publishes a RequestEnvelope to the request stream and records a
// message_id -> entry id mapping with a TTL. A worker answers on the response
// stream echoing the message_id. The session reads the response stream from
// a cursor, ignores entries carrying other ids, and deletes both entries and
// the mapping once it is done. Correlation is by message_id only; the order
// of the response stream is never relied on.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mahdi-taghi/business-assistant-ari/internal/crypto"
	"github.com/mahdi-taghi/business-assistant-ari/internal/metrics"
	"github.com/mahdi-taghi/business-assistant-ari/internal/models"
)

// CursorNew reads only entries appended after the read starts.
const CursorNew = "$"

// CursorStart reads a stream from its first entry.
const CursorStart = "0-0"

// Config names the streams and bounds the bus state.
type Config struct {
	RequestStream  string
	ResponseStream string
	MappingPrefix  string
	MaxLen         int64         // approximate cap of each stream
	MappingTTL     time.Duration // lifetime of message_id -> entry id mappings
	RetryDelay     time.Duration // pause between await attempts
}

// DefaultConfig returns the stream names and limits used in production.
func DefaultConfig() Config {
	return Config{
		RequestStream:  "chat_stream",
		ResponseStream: "response_stream",
		MappingPrefix:  "msg_map:",
		MaxLen:         10000,
		MappingTTL:     time.Hour,
		RetryDelay:     2 * time.Second,
	}
}

// Correlator publishes requests, awaits matching responses and cleans up.
type Correlator struct {
	rdb    redis.Cmdable
	cfg    Config
	logger zerolog.Logger
}

// New creates a Correlator. Zero fields of cfg take DefaultConfig values.
func New(rdb redis.Cmdable, cfg Config, logger zerolog.Logger) *Correlator {
	def := DefaultConfig()
	if cfg.RequestStream == "" {
		cfg.RequestStream = def.RequestStream
	}
	if cfg.ResponseStream == "" {
		cfg.ResponseStream = def.ResponseStream
	}
	if cfg.MappingPrefix == "" {
		cfg.MappingPrefix = def.MappingPrefix
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = def.MaxLen
	}
	if cfg.MappingTTL <= 0 {
		cfg.MappingTTL = def.MappingTTL
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	return &Correlator{
		rdb:    rdb,
		cfg:    cfg,
		logger: logger.With().Str("component", "bus").Logger(),
	}
}

// Config returns the effective configuration.
func (c *Correlator) Config() Config { return c.cfg }

func (c *Correlator) mappingKey(messageID string) string {
	return c.cfg.MappingPrefix + messageID
}

// Publish appends env to the request stream and records its mapping. An
// empty message id or timestamp is filled in. If the mapping cannot be
// stored the entry is removed again and an error is returned.
func (c *Correlator) Publish(ctx context.Context, env *models.RequestEnvelope) (messageID, entryID string, err error) {
	if env.MessageID == "" {
		env.MessageID = crypto.NewMessageID()
	}
	if env.Timestamp == "" {
		env.Timestamp = models.Now()
	}

	entryID, err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.RequestStream,
		MaxLen: c.cfg.MaxLen,
		Approx: true,
		Values: env.Values(),
	}).Result()
	if err != nil {
		return "", "", fmt.Errorf("publish request: %w", err)
	}

	if err := c.rdb.Set(ctx, c.mappingKey(env.MessageID), entryID, c.cfg.MappingTTL).Err(); err != nil {
		if derr := c.rdb.XDel(context.WithoutCancel(ctx), c.cfg.RequestStream, entryID).Err(); derr != nil {
			c.logger.Warn().Err(derr).Str("entry_id", entryID).Msg("failed to roll back request entry")
		}
		return "", "", fmt.Errorf("store correlation mapping: %w", err)
	}

	c.logger.Debug().
		Str("message_id", env.MessageID).
		Str("entry_id", entryID).
		Str("chat_id", env.ChatID).
		Msg("request published")
	return env.MessageID, entryID, nil
}

// ResponseCursor returns the id of the newest response entry, or CursorStart
// when the stream is empty. Taking it before Publish guarantees a fast
// worker's response is not skipped.
func (c *Correlator) ResponseCursor(ctx context.Context) (string, error) {
	msgs, err := c.rdb.XRevRangeN(ctx, c.cfg.ResponseStream, "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("read response cursor: %w", err)
	}
	if len(msgs) == 0 {
		return CursorStart, nil
	}
	return msgs[0].ID, nil
}

// Delivery is a response matched to an outstanding request.
type Delivery struct {
	EntryID  string
	Envelope models.ResponseEnvelope
}

// AwaitOptions bound a wait for one response.
type AwaitOptions struct {
	Cursor     string        // response stream position to read after; "" means CursorNew
	Timeout    time.Duration // per attempt
	MaxRetries int           // total attempts
	// Progress is called after every attempt but the last that saw no match.
	Progress func(attempt, maxAttempts int)
}

// AwaitResponse waits for the response carrying messageID. It returns nil,
// nil when every attempt times out; the total wait is bounded by
// Timeout*MaxRetries plus the retry delays. Entries with other message ids
// are skipped. A cancelled ctx returns ctx.Err().
func (c *Correlator) AwaitResponse(ctx context.Context, messageID string, opts AwaitOptions) (*Delivery, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	cursor := opts.Cursor
	if cursor == "" {
		cursor = CursorNew
	}

	start := time.Now()
	defer func() { metrics.BusWaitDuration.Observe(time.Since(start).Seconds()) }()

	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		d, next, err := c.awaitAttempt(ctx, messageID, cursor, opts.Timeout)
		cursor = next
		if d != nil {
			return d, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn().Err(err).Int("attempt", attempt).Str("message_id", messageID).Msg("response read failed")
		}

		if attempt < opts.MaxRetries {
			if opts.Progress != nil {
				opts.Progress(attempt, opts.MaxRetries)
			}
			if err := sleep(ctx, c.cfg.RetryDelay); err != nil {
				return nil, err
			}
		}
	}

	metrics.CorrelationTimeouts.Inc()
	c.logger.Info().Str("message_id", messageID).Int("attempts", opts.MaxRetries).Msg("no response within retry budget")
	return nil, nil
}

// awaitAttempt blocks for up to timeout, skipping foreign entries, and
// returns the advanced cursor.
func (c *Correlator) awaitAttempt(ctx context.Context, messageID, cursor string, timeout time.Duration) (*Delivery, string, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		// go-redis treats a zero block as "forever".
		if remaining < time.Millisecond {
			return nil, cursor, nil
		}

		streams, err := c.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{c.cfg.ResponseStream, cursor},
			Count:   10,
			Block:   remaining,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return nil, cursor, nil
		}
		if err != nil {
			return nil, cursor, err
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				cursor = msg.ID
				env, err := models.ParseResponse(msg.Values)
				if err != nil {
					c.logger.Warn().Err(err).Str("entry_id", msg.ID).Msg("skipping malformed response entry")
					continue
				}
				if env.MessageID != messageID {
					continue
				}
				return &Delivery{EntryID: msg.ID, Envelope: env}, cursor, nil
			}
		}
	}
}

// Cleanup deletes the request entry recorded for messageID, the response
// entry responseEntryID when given, and the mapping. Absent keys and entries
// are not errors. Every step is attempted even if an earlier one fails.
func (c *Correlator) Cleanup(ctx context.Context, messageID, responseEntryID string) error {
	if messageID == "" && responseEntryID == "" {
		return nil
	}
	var errs []error

	if messageID != "" {
		key := c.mappingKey(messageID)
		reqID, err := c.rdb.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			errs = append(errs, fmt.Errorf("read mapping: %w", err))
		default:
			if err := c.rdb.XDel(ctx, c.cfg.RequestStream, reqID).Err(); err != nil {
				errs = append(errs, fmt.Errorf("delete request entry: %w", err))
			}
		}
	}

	if responseEntryID != "" {
		if err := c.rdb.XDel(ctx, c.cfg.ResponseStream, responseEntryID).Err(); err != nil {
			errs = append(errs, fmt.Errorf("delete response entry: %w", err))
		}
	}

	if messageID != "" {
		if err := c.rdb.Del(ctx, c.mappingKey(messageID)).Err(); err != nil {
			errs = append(errs, fmt.Errorf("delete mapping: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		metrics.CleanupFailures.WithLabelValues("message").Inc()
		return err
	}
	return nil
}

const sweepChunk = 100

// CleanupChat removes every entry of both streams tagged with chatID and the
// mappings of the messages found. It returns the number of stream entries
// deleted.
func (c *Correlator) CleanupChat(ctx context.Context, chatID string) (int, error) {
	var (
		total      int
		messageIDs = map[string]struct{}{}
		errs       []error
	)
	for _, stream := range []string{c.cfg.RequestStream, c.cfg.ResponseStream} {
		n, err := c.sweep(ctx, stream, chatID, messageIDs)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep %s: %w", stream, err))
		}
	}

	if len(messageIDs) > 0 {
		keys := make([]string, 0, len(messageIDs))
		for id := range messageIDs {
			keys = append(keys, c.mappingKey(id))
		}
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			errs = append(errs, fmt.Errorf("delete mappings: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		metrics.CleanupFailures.WithLabelValues("chat").Inc()
		return total, err
	}
	c.logger.Debug().Str("chat_id", chatID).Int("deleted", total).Msg("chat entries swept")
	return total, nil
}

// sweep scans stream in chunks and deletes the entries of chatID.
func (c *Correlator) sweep(ctx context.Context, stream, chatID string, messageIDs map[string]struct{}) (int, error) {
	deleted := 0
	start := "-"
	for {
		msgs, err := c.rdb.XRangeN(ctx, stream, start, "+", sweepChunk).Result()
		if err != nil {
			return deleted, err
		}
		// The range is inclusive; drop the entry the previous chunk ended on.
		if start != "-" && len(msgs) > 0 && msgs[0].ID == start {
			msgs = msgs[1:]
		}
		if len(msgs) == 0 {
			return deleted, nil
		}

		var ids []string
		for _, m := range msgs {
			if fmt.Sprint(m.Values[models.FieldChatID]) != chatID {
				continue
			}
			ids = append(ids, m.ID)
			if mid, ok := m.Values[models.FieldMessageID].(string); ok && mid != "" {
				messageIDs[mid] = struct{}{}
			}
		}
		if len(ids) > 0 {
			if err := c.rdb.XDel(ctx, stream, ids...).Err(); err != nil {
				return deleted, err
			}
			deleted += len(ids)
		}
		start = msgs[len(msgs)-1].ID
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
