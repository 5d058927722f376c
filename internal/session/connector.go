// Package session owns the lifecycle of one client websocket: admission,
// forwarding questions over the message bus, relaying progress and answers,
// and cleaning up bus state on every exit path.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mahdi-taghi/business-assistant-ari/internal/bus"
	"github.com/mahdi-taghi/business-assistant-ari/internal/crypto"
	"github.com/mahdi-taghi/business-assistant-ari/internal/metrics"
	"github.com/mahdi-taghi/business-assistant-ari/internal/models"
)

// Chats is the chat-history collaborator.
type Chats interface {
	GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error)
	SaveMessage(ctx context.Context, msg *models.Message) error
	RecentMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]models.Message, error)
	UpdateChatTitle(ctx context.Context, id uuid.UUID, title string) error
}

// Bus is the session side of the message bus.
type Bus interface {
	ResponseCursor(ctx context.Context) (string, error)
	Publish(ctx context.Context, env *models.RequestEnvelope) (messageID, entryID string, err error)
	AwaitResponse(ctx context.Context, messageID string, opts bus.AwaitOptions) (*bus.Delivery, error)
	Cleanup(ctx context.Context, messageID, responseEntryID string) error
	CleanupChat(ctx context.Context, chatID string) (int, error)
}

// Limiter is a fixed-window rate limiter.
type Limiter interface {
	Allow(ctx context.Context, subject string, limit int, window time.Duration) (bool, error)
}

// Config bounds a session.
type Config struct {
	ResponseTimeout  time.Duration // per await attempt
	ResponseRetries  int
	CleanupAttempts  int
	CleanupBackoff   time.Duration // multiplied by the attempt number
	HistoryWindow    int
	MaxContentBytes  int
	MessageRateLimit int // messages per user per minute, 0 disables
	AllowedOrigins   []string
	PingInterval     time.Duration
}

func (c *Config) defaults() {
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = 60 * time.Second
	}
	if c.ResponseRetries <= 0 {
		c.ResponseRetries = 3
	}
	if c.CleanupAttempts <= 0 {
		c.CleanupAttempts = 3
	}
	if c.CleanupBackoff <= 0 {
		c.CleanupBackoff = 100 * time.Millisecond
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 20
	}
	if c.MaxContentBytes <= 0 {
		c.MaxContentBytes = 4096
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 54 * time.Second
	}
}

const (
	writeWait    = 10 * time.Second
	cleanupWait  = 5 * time.Second
	maxFrameSize = 64 * 1024
	inboxSize    = 8
)

// Connector admits websocket connections and runs one session per
// connection.
type Connector struct {
	chats    Chats
	bus      Bus
	hub      *Hub
	limiter  Limiter
	cfg      Config
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewConnector creates a Connector. limiter may be nil.
func NewConnector(chats Chats, b Bus, hub *Hub, limiter Limiter, cfg Config, logger zerolog.Logger) *Connector {
	cfg.defaults()
	return &Connector{
		chats:   chats,
		bus:     b,
		hub:     hub,
		limiter: limiter,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		logger: logger.With().Str("component", "session").Logger(),
	}
}

// Hub returns the connector's channel-group hub.
func (c *Connector) Hub() *Hub { return c.hub }

// Serve upgrades the request and runs a session for user on chatID until
// the client goes away. A nil user, an unknown or foreign chat, and an
// archived chat are rejected with distinct close codes.
func (c *Connector) Serve(w http.ResponseWriter, r *http.Request, user *models.User, chatID string) {
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	if user == nil {
		reject(ws, CloseUnauthenticated, "authentication required")
		return
	}
	id, err := uuid.Parse(chatID)
	if err != nil {
		reject(ws, CloseChatNotFound, "chat not found")
		return
	}
	chat, err := c.chats.GetChat(r.Context(), id)
	if err != nil {
		c.logger.Error().Err(err).Str("chat_id", chatID).Msg("chat lookup failed")
		reject(ws, websocket.CloseInternalServerErr, "internal error")
		return
	}
	if chat == nil || chat.UserID != user.ID {
		reject(ws, CloseChatNotFound, "chat not found")
		return
	}
	if chat.IsArchived {
		reject(ws, CloseChatArchived, "chat archived")
		return
	}

	s := &conn{
		id:    crypto.NewConnectionID(),
		ws:    ws,
		user:  user,
		chat:  chat,
		group: GroupName(user.ID.String(), chat.ID.String()),
	}
	c.run(r.Context(), s)
}

func reject(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = ws.Close()
}

// conn is one admitted client connection.
type conn struct {
	id    string
	ws    *websocket.Conn
	user  *models.User
	chat  *models.Chat
	group string

	writeMu sync.Mutex
}

func (s *conn) ID() string { return s.id }

// Send writes ev as one JSON text frame.
func (s *conn) Send(ev Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteJSON(ev)
}

func (c *Connector) run(parent context.Context, s *conn) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	defer cancel()

	log := c.logger.With().
		Str("conn_id", s.id).
		Str("user_id", s.user.ID.String()).
		Str("chat_id", s.chat.ID.String()).
		Logger()

	c.hub.Join(s.group, s)
	metrics.ActiveSessions.Inc()
	log.Info().Msg("session opened")

	inbox := make(chan []byte, inboxSize)
	readerDone := make(chan struct{})
	pingerDone := make(chan struct{})

	defer func() {
		cancel()
		c.disconnect(s, log)
		_ = s.ws.Close()
		<-readerDone
		<-pingerDone
		log.Info().Msg("session closed")
	}()

	pongWait := c.cfg.PingInterval * 10 / 9
	s.ws.SetReadLimit(maxFrameSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		defer close(readerDone)
		defer cancel()
		for {
			_, data, err := s.ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
					log.Debug().Err(err).Msg("websocket read ended")
				}
				return
			}
			_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
			select {
			case inbox <- data:
			default:
				_ = s.Send(errorEvent(CodeRateLimited, MsgRateLimited))
			}
		}
	}()

	go func() {
		defer close(pingerDone)
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-inbox:
			c.handle(ctx, s, data, log)
		}
	}
}

func (c *Connector) handle(ctx context.Context, s *conn, data []byte, log zerolog.Logger) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil || strings.TrimSpace(in.Content) == "" {
		_ = s.Send(errorEvent(CodeInvalid, MsgInvalid))
		return
	}
	if len(in.Content) > c.cfg.MaxContentBytes {
		_ = s.Send(errorEvent(CodeTooLong, MsgTooLong))
		return
	}

	if c.limiter != nil && c.cfg.MessageRateLimit > 0 {
		ok, err := c.limiter.Allow(ctx, "ws:"+s.user.ID.String(), c.cfg.MessageRateLimit, time.Minute)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("rate limit check failed")
		case !ok:
			metrics.RateLimitHits.WithLabelValues("ws").Inc()
			_ = s.Send(errorEvent(CodeRateLimited, MsgRateLimited))
			return
		}
	}

	c.exchange(ctx, s, in.Content, log)
}

// exchange runs one question/answer round trip.
func (c *Connector) exchange(ctx context.Context, s *conn, content string, log zerolog.Logger) {
	var messageID, responseEntryID string

	fail := func(err error, what string) {
		if errors.Is(err, context.Canceled) {
			log.Debug().Str("message_id", messageID).Msg("wait abandoned by disconnect")
		} else {
			log.Error().Err(err).Str("message_id", messageID).Msg(what)
		}
		if messageID != "" {
			c.cleanup(s, messageID, responseEntryID, log)
		}
		_ = s.Send(errorEvent(CodeFailed, MsgFailed))
	}

	recent, err := c.chats.RecentMessages(ctx, s.chat.ID, c.cfg.HistoryWindow)
	if err != nil {
		fail(err, "history read failed")
		return
	}
	if err := c.chats.SaveMessage(ctx, &models.Message{
		ChatID:  s.chat.ID,
		Role:    models.RoleUser,
		Content: content,
	}); err != nil {
		fail(err, "user message save failed")
		return
	}

	cursor, err := c.bus.ResponseCursor(ctx)
	if err != nil {
		fail(err, "response cursor read failed")
		return
	}
	messageID, _, err = c.bus.Publish(ctx, &models.RequestEnvelope{
		UserID:         s.user.ID.String(),
		UserRole:       s.user.Role,
		ChatID:         s.chat.ID.String(),
		MessageRole:    models.RoleUser,
		Content:        content,
		IsFirstMessage: len(recent) == 0,
		History:        historyItems(recent),
	})
	if err != nil {
		fail(err, "publish failed")
		return
	}

	_ = s.Send(messageReceived(s.chat.ID.String(), messageID))
	_ = s.Send(status(StatusProcessing))

	d, err := c.bus.AwaitResponse(ctx, messageID, bus.AwaitOptions{
		Cursor:     cursor,
		Timeout:    c.cfg.ResponseTimeout,
		MaxRetries: c.cfg.ResponseRetries,
		Progress: func(attempt, total int) {
			_ = s.Send(waiting(attempt, total))
		},
	})
	if err != nil {
		fail(err, "await response failed")
		return
	}
	if d == nil {
		log.Warn().Str("message_id", messageID).Msg("response timed out")
		c.cleanup(s, messageID, "", log)
		_ = s.Send(errorEvent(CodeTimeout, MsgTimeout))
		return
	}
	responseEntryID = d.EntryID

	if err := c.recordAnswer(ctx, s, d.Envelope); err != nil {
		fail(err, "assistant message save failed")
		return
	}

	c.hub.Broadcast(s.group, aiResponse(d.Envelope.Values()))
	c.cleanup(s, messageID, responseEntryID, log)
}

func (c *Connector) recordAnswer(ctx context.Context, s *conn, env models.ResponseEnvelope) error {
	meta, err := json.Marshal(env.Metadata)
	if err != nil {
		return err
	}
	tokens, elapsed := env.TokensUsed, env.ResponseTime
	if err := c.chats.SaveMessage(ctx, &models.Message{
		ChatID:       s.chat.ID,
		Role:         models.RoleAssistant,
		Content:      env.Content,
		Metadata:     meta,
		References:   env.References,
		TokensUsed:   &tokens,
		ResponseTime: &elapsed,
	}); err != nil {
		return err
	}
	if title := strings.TrimSpace(env.Metadata.SuggestedTitle); title != "" {
		if err := c.chats.UpdateChatTitle(ctx, s.chat.ID, title); err != nil {
			return err
		}
		s.chat.Title = title
	}
	return nil
}

// cleanup releases one exchange's bus state. Failures are logged only.
func (c *Connector) cleanup(s *conn, messageID, responseEntryID string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupWait)
	defer cancel()
	if err := c.bus.Cleanup(ctx, messageID, responseEntryID); err != nil {
		log.Warn().Err(err).Str("message_id", messageID).Msg("bus cleanup failed")
	}
}

// disconnect sweeps the chat's bus entries with bounded retries, then leaves
// the channel group whatever the outcome.
func (c *Connector) disconnect(s *conn, log zerolog.Logger) {
	defer func() {
		c.hub.Leave(s.group, s)
		metrics.ActiveSessions.Dec()
	}()

	chatID := s.chat.ID.String()
	for attempt := 1; attempt <= c.cfg.CleanupAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupWait)
		n, err := c.bus.CleanupChat(ctx, chatID)
		cancel()
		if err == nil {
			log.Debug().Int("deleted", n).Int("attempt", attempt).Msg("chat bus entries swept")
			return
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("chat cleanup failed")
		if attempt < c.cfg.CleanupAttempts {
			time.Sleep(c.cfg.CleanupBackoff * time.Duration(attempt))
		}
	}
	log.Error().Int("attempts", c.cfg.CleanupAttempts).Msg("chat cleanup gave up")
}

func historyItems(msgs []models.Message) []models.HistoryItem {
	items := make([]models.HistoryItem, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, models.HistoryItem{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return items
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
