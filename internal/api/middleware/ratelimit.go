package middleware

import (
	"context"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mahdi-taghi/business-assistant-ari/internal/crypto"
	"github.com/mahdi-taghi/business-assistant-ari/internal/metrics"
)

// RateLimit defines limits for an endpoint pattern.
type RateLimit struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // block IPs that keep hitting limits
	// Overrides replaces or adds limits keyed by "METHOD /path-prefix".
	Overrides map[string]RateLimit
}

// DefaultLimits are the per-route limits of the chat API.
func DefaultLimits() map[string]RateLimit {
	return map[string]RateLimit{
		"POST /api/chats":   {60, time.Minute, userKey},
		"GET /api/":         {120, time.Minute, userKey},
		"DELETE /api/chats": {30, time.Minute, userKey},
		"GET /ws/chat/":     {30, time.Minute, userKey},
	}
}

type route struct {
	prefix string
	limit  RateLimit
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter applies sliding-log limits stored in Redis sorted sets.
type RateLimiter struct {
	client    redis.Cmdable
	routes    []route // longest prefix first
	whitelist *ipSet
	blocker   *IPBlocker
	autoBlock bool
	logger    zerolog.Logger
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(client redis.Cmdable, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	limits := DefaultLimits()
	for prefix, l := range cfg.Overrides {
		limits[prefix] = l
	}
	routes := make([]route, 0, len(limits))
	for prefix, l := range limits {
		routes = append(routes, route{prefix: prefix, limit: l})
	}
	sort.Slice(routes, func(i, j int) bool { return len(routes[i].prefix) > len(routes[j].prefix) })

	rl := &RateLimiter{
		client:    client,
		routes:    routes,
		whitelist: newIPSet(cfg.Whitelist, logger),
		blocker:   NewIPBlocker(client),
		autoBlock: cfg.AutoBlockEnabled,
		logger:    logger.With().Str("component", "ratelimit").Logger(),
	}
	if n := rl.whitelist.size(); n > 0 {
		rl.logger.Info().Int("entries", n).Msg("rate limit whitelist configured")
	}
	return rl
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		if rl.whitelist.contains(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if blocked, _ := rl.blocker.IsBlocked(r.Context(), ip); blocked {
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("blocked IP attempted request")
			jsonError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		limit, ok := rl.match(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := limit.KeyFunc(r)
		d, err := rl.Take(r.Context(), key, limit.Requests, limit.Window)
		if err != nil {
			// Fail open when Redis is unavailable.
			rl.logger.Error().Err(err).Str("key", key).Msg("rate limit check failed")
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			retry := int(time.Until(d.ResetAt).Seconds()) + 1
			h.Set("Retry-After", strconv.Itoa(retry))
			metrics.RateLimitHits.WithLabelValues(normalizePath(r.URL.Path)).Inc()

			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("user", tokenUser(r)).
				Str("endpoint", r.URL.Path).
				Msg("rate limit exceeded")

			if rl.autoBlock {
				rl.strike(r.Context(), ip)
			}
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Take records one hit for key and reports whether it fits in the window.
func (rl *RateLimiter) Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := time.Now()
	cutoff := now.Add(-window).UnixMilli()

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	count := pipe.ZCard(ctx, key)
	oldest := pipe.ZRangeWithScores(ctx, key, 0, 0)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: strconv.FormatInt(now.UnixNano(), 36)})
	pipe.PExpire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	n := int(count.Val())
	d := Decision{
		Allowed:   n < limit,
		Remaining: max(limit-n-1, 0),
		ResetAt:   now.Add(window),
	}
	if zs := oldest.Val(); len(zs) > 0 {
		d.ResetAt = time.UnixMilli(int64(zs[0].Score)).Add(window)
	}
	return d, nil
}

func (rl *RateLimiter) match(r *http.Request) (RateLimit, bool) {
	key := r.Method + " " + r.URL.Path
	for _, rt := range rl.routes {
		if strings.HasPrefix(key, rt.prefix) {
			return rt.limit, true
		}
	}
	return RateLimit{}, false
}

// strike counts a violation and blocks the IP once it keeps offending.
func (rl *RateLimiter) strike(ctx context.Context, ip string) {
	const (
		threshold = 10
		blockFor  = 24 * time.Hour
	)
	key := "violations:ip:" + ip
	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return
	}
	if n := incr.Val(); n >= threshold {
		_ = rl.blocker.Block(ctx, ip, blockFor, "repeated rate limit violations")
		rl.logger.Warn().
			Str("type", "security").
			Str("event", "ip_auto_blocked").
			Str("ip", ip).
			Int64("violations", n).
			Msg("IP auto-blocked for repeated violations")
	}
}

// userKey keys token holders by user and anonymous callers by IP.
// The token is not verified here; auth runs later in the chain.
func userKey(r *http.Request) string {
	if id := tokenUser(r); id != "" {
		return "ratelimit:user:" + id
	}
	return "ratelimit:ip:" + RealIP(r)
}

func tokenUser(r *http.Request) string {
	token := TokenFromRequest(r)
	if token == "" {
		return ""
	}
	id, _, err := crypto.ParseToken(token)
	if err != nil {
		return ""
	}
	return id.String()
}

// RealIP returns the client address, preferring proxy headers.
func RealIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipSet matches addresses against single IPs and CIDR ranges.
type ipSet struct {
	ips  map[string]struct{}
	nets []*net.IPNet
}

func newIPSet(entries []string, logger zerolog.Logger) *ipSet {
	s := &ipSet{ips: make(map[string]struct{})}
	for _, e := range entries {
		if !strings.Contains(e, "/") {
			s.ips[e] = struct{}{}
			continue
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			logger.Warn().Str("entry", e).Err(err).Msg("invalid CIDR in whitelist")
			continue
		}
		s.nets = append(s.nets, n)
	}
	return s
}

func (s *ipSet) size() int { return len(s.ips) + len(s.nets) }

func (s *ipSet) contains(addr string) bool {
	if _, ok := s.ips[addr]; ok {
		return true
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range s.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// IPBlocker manages temporary IP blocks.
type IPBlocker struct {
	client redis.Cmdable
}

// NewIPBlocker creates a new IP blocker.
func NewIPBlocker(client redis.Cmdable) *IPBlocker {
	return &IPBlocker{client: client}
}

func blockKey(ip string) string { return "blocked:ip:" + ip }

// IsBlocked reports whether ip is currently blocked.
func (b *IPBlocker) IsBlocked(ctx context.Context, ip string) (bool, error) {
	n, err := b.client.Exists(ctx, blockKey(ip)).Result()
	return n > 0, err
}

// Block blocks ip for d, recording reason.
func (b *IPBlocker) Block(ctx context.Context, ip string, d time.Duration, reason string) error {
	return b.client.Set(ctx, blockKey(ip), reason, d).Err()
}

// Unblock lifts a block early.
func (b *IPBlocker) Unblock(ctx context.Context, ip string) error {
	return b.client.Del(ctx, blockKey(ip)).Err()
}
