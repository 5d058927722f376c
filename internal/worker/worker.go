// Package worker consumes the request stream, answers each question with the
// query pipeline and publishes the correlated response.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mahdi-taghi/business-assistant-ari/internal/bus"
	"github.com/mahdi-taghi/business-assistant-ari/internal/metrics"
	"github.com/mahdi-taghi/business-assistant-ari/internal/models"
	"github.com/mahdi-taghi/business-assistant-ari/internal/pipeline"
)

// TitleRunes is the length of the chat title suggested on a first message.
const TitleRunes = 40

// Asker answers one question.
type Asker interface {
	Ask(ctx context.Context, q pipeline.Question) *pipeline.Result
}

// Bus is the worker side of the message bus.
type Bus interface {
	ReadRequests(ctx context.Context, cursor string, count int64, block time.Duration) ([]bus.Request, string, error)
	Respond(ctx context.Context, env models.ResponseEnvelope) (string, error)
}

// Config controls the read loop.
type Config struct {
	StartID      string        // request stream position to start after
	Block        time.Duration // blocking read timeout
	Heartbeat    time.Duration // idle log interval; 0 disables it
	ErrorBackoff time.Duration // pause after a failed read
}

// Worker is a single sequential consumer. Run several processes to scale.
type Worker struct {
	bus    Bus
	asker  Asker
	cfg    Config
	logger zerolog.Logger

	processed atomic.Int64
	lastSeen  atomic.Int64 // unix nanos of the last request
}

// New creates a worker.
func New(b Bus, a Asker, cfg Config, logger zerolog.Logger) *Worker {
	if cfg.StartID == "" {
		cfg.StartID = bus.CursorStart
	}
	if cfg.Block <= 0 {
		cfg.Block = 15 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	w := &Worker{
		bus:    b,
		asker:  a,
		cfg:    cfg,
		logger: logger.With().Str("component", "worker").Logger(),
	}
	w.lastSeen.Store(time.Now().UnixNano())
	return w
}

// Processed returns the number of requests answered so far.
func (w *Worker) Processed() int64 { return w.processed.Load() }

// Run reads and answers requests until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Str("start_id", w.cfg.StartID).
		Dur("block", w.cfg.Block).
		Msg("worker listening")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.loop(ctx) })
	if w.cfg.Heartbeat > 0 {
		g.Go(func() error { return w.heartbeat(ctx) })
	}

	err := g.Wait()
	w.logger.Info().Int64("processed", w.Processed()).Msg("worker stopped")
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	cursor := w.cfg.StartID
	for {
		if ctx.Err() != nil {
			return nil
		}

		reqs, next, err := w.bus.ReadRequests(ctx, cursor, 1, w.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error().Err(err).Msg("request read failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.cfg.ErrorBackoff):
			}
			continue
		}
		cursor = next

		for _, req := range reqs {
			w.Handle(ctx, req)
		}
	}
}

// Handle answers one request and publishes the response. Incomplete
// requests are skipped.
func (w *Worker) Handle(ctx context.Context, req bus.Request) {
	w.lastSeen.Store(time.Now().UnixNano())
	log := w.logger.With().Str("entry_id", req.EntryID).Logger()

	if req.Err != nil {
		metrics.WorkerProcessed.WithLabelValues("skipped").Inc()
		log.Warn().Err(req.Err).Msg("skipping incomplete request")
		return
	}
	env := req.Envelope
	log = log.With().Str("message_id", env.MessageID).Str("chat_id", env.ChatID).Logger()

	start := time.Now()
	res := w.asker.Ask(ctx, pipeline.Question{
		Text:           env.Content,
		UserID:         env.UserID,
		UserRole:       env.UserRole,
		ChatID:         env.ChatID,
		IsFirstMessage: env.IsFirstMessage,
	})
	elapsed := time.Since(start)

	meta := models.ResponseMetadata{
		Model:          res.Model,
		ProcessingTime: fmt.Sprintf("%.3fs", elapsed.Seconds()),
	}
	if env.IsFirstMessage {
		meta.SuggestedTitle = SuggestTitle(res.Answer)
	}

	out := models.ResponseEnvelope{
		MessageID:    env.MessageID,
		UserID:       env.UserID,
		ChatID:       env.ChatID,
		Content:      res.Answer,
		Metadata:     meta,
		TokensUsed:   res.TokensUsed,
		ResponseTime: elapsed.Seconds(),
	}
	// Publish even when ctx is cancelled so the waiting session is not
	// left to time out.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := w.bus.Respond(pubCtx, out); err != nil {
		metrics.WorkerProcessed.WithLabelValues("publish_failed").Inc()
		log.Error().Err(err).Msg("response publish failed")
		return
	}

	w.processed.Add(1)
	metrics.WorkerProcessed.WithLabelValues("answered").Inc()
	log.Info().
		Str("outcome", res.Outcome).
		Dur("elapsed", elapsed).
		Msg("response published")
}

func (w *Worker) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			idle := time.Since(time.Unix(0, w.lastSeen.Load()))
			if idle >= w.cfg.Heartbeat {
				w.logger.Info().
					Dur("idle", idle.Truncate(time.Second)).
					Int64("processed", w.Processed()).
					Msg("worker idle")
			}
		}
	}
}

// SuggestTitle derives a chat title from an answer.
func SuggestTitle(answer string) string {
	r := []rune(answer)
	if len(r) > TitleRunes {
		r = r[:TitleRunes]
	}
	return string(r)
}
