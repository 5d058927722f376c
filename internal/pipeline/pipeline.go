// Package pipeline turns one natural-language question into an answer:
// oracle SQL generation, safety validation, read-only execution, fuzzy
// suggestions on empty results, answer synthesis and history persistence.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahdi-taghi/business-assistant-ari/internal/apperr"
	"github.com/mahdi-taghi/business-assistant-ari/internal/logging"
	"github.com/mahdi-taghi/business-assistant-ari/internal/metrics"
	"github.com/mahdi-taghi/business-assistant-ari/internal/models"
	"github.com/mahdi-taghi/business-assistant-ari/internal/oracle"
	"github.com/mahdi-taghi/business-assistant-ari/internal/sqlexec"
	"github.com/mahdi-taghi/business-assistant-ari/internal/sqlguard"
	"github.com/mahdi-taghi/business-assistant-ari/internal/suggest"
)

// State is a step of one pipeline run.
type State string

const (
	StateReceived          State = "received"
	StateSQLGenerated      State = "sql_generated"
	StateValidated         State = "validated"
	StateExecuted          State = "executed"
	StateSuggested         State = "suggested"
	StateAnswerSynthesized State = "answer_synthesized"
	StatePersisted         State = "persisted"
	StateDone              State = "done"
	StateErrored           State = "errored"
)

// Outcome labels for metrics and logs.
const (
	OutcomeAnswered    = "answered"
	OutcomeRefused     = "refused"
	OutcomeNoResults   = "no_results"
	OutcomeSuggested   = "suggested"
	OutcomeSubstituted = "substituted"
	OutcomeErrored     = "errored"
)

// Suggester proposes near-match values for an empty query.
type Suggester interface {
	Extract(sql string) (suggest.Comparison, bool)
	Suggest(ctx context.Context, sql string) *suggest.Set
}

// History is the bounded recent-history store of a chat.
type History interface {
	Ping(ctx context.Context) error
	PushHistory(ctx context.Context, chatID, role, content string) error
	RecentHistory(ctx context.Context, chatID string, limit int) ([]models.HistoryItem, error)
	SaveLatestUserJSON(ctx context.Context, chatID string, v any) error
	SaveLatestAIJSON(ctx context.Context, chatID string, v any) error
}

// Question is one user question with the context it was asked in.
type Question struct {
	Text           string
	UserID         string
	UserRole       string
	ChatID         string
	IsFirstMessage bool
}

// Result records what a run did. Answer is always set.
type Result struct {
	Answer      string
	States      []State
	Outcome     string
	SQL         string
	Verdict     sqlguard.Verdict
	Suggestions *suggest.Set
	Model       string
	TokensUsed  int
	Duration    time.Duration
	Err         error // internal cause, never shown to the user
}

// Final returns the last state reached.
func (r *Result) Final() State {
	if len(r.States) == 0 {
		return ""
	}
	return r.States[len(r.States)-1]
}

// Reached reports whether the run passed through s.
func (r *Result) Reached(s State) bool {
	for _, st := range r.States {
		if st == s {
			return true
		}
	}
	return false
}

func (r *Result) enter(s State) { r.States = append(r.States, s) }

// Options tune a Pipeline. Zero values select the defaults.
type Options struct {
	Table         string
	MaxStatements int
	HistoryWindow int
	IsEmpty       sqlexec.EmptyPredicate
}

// Pipeline runs questions against one analytical table.
type Pipeline struct {
	oracle    oracle.Oracle
	db        sqlexec.Querier
	suggester Suggester
	history   History
	validator *sqlguard.Validator
	isEmpty   sqlexec.EmptyPredicate
	table     string
	window    int
	logger    zerolog.Logger
}

// New assembles a pipeline. history may be nil, in which case nothing is
// persisted.
func New(o oracle.Oracle, db sqlexec.Querier, s Suggester, history History, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.IsEmpty == nil {
		opts.IsEmpty = sqlexec.IsEffectivelyEmpty
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 20
	}
	return &Pipeline{
		oracle:    o,
		db:        db,
		suggester: s,
		history:   history,
		validator: sqlguard.NewValidator(opts.MaxStatements),
		isEmpty:   opts.IsEmpty,
		table:     opts.Table,
		window:    opts.HistoryWindow,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

// Ask answers q. It never returns an error; failures become one of the
// fixed messages with the cause kept on Result.Err.
func (p *Pipeline) Ask(ctx context.Context, q Question) (res *Result) {
	res = &Result{}
	start := time.Now()
	log := p.logger.With().Str("chat_id", q.ChatID).Str("user_id", q.UserID).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("pipeline panicked")
			p.fail(res, apperr.New(apperr.ExecutionFailure, fmt.Sprint(r)), MsgFailure)
		}
		res.Duration = time.Since(start)
		metrics.PipelineOutcomes.WithLabelValues(res.Outcome).Inc()
		log.Info().
			Str("outcome", res.Outcome).
			Str("state", string(res.Final())).
			Dur("duration", res.Duration).
			Msg("question processed")
	}()

	res.enter(StateReceived)
	if p.history != nil {
		if err := p.history.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("history store health check failed")
		}
	}

	gen, err := p.oracle.GenerateSQL(ctx, q.Text)
	if err != nil {
		log.Error().Err(err).Msg("sql generation failed")
		p.fail(res, apperr.Wrap(apperr.OracleFailure, "generate sql", err), MsgFailure)
		return res
	}
	res.SQL = gen.Text
	res.Model = gen.Model
	res.TokensUsed += gen.Tokens()
	res.enter(StateSQLGenerated)

	res.Verdict = p.validator.Validate(res.SQL)
	res.enter(StateValidated)
	if !res.Verdict.Accepted {
		metrics.ValidatorRejections.WithLabelValues(string(res.Verdict.Reason)).Inc()
		log.Warn().
			Str("reason", string(res.Verdict.Reason)).
			Str("detail", res.Verdict.Detail).
			Str("sql", logging.Truncate(res.SQL)).
			Msg("generated query rejected")
		res.Err = apperr.New(apperr.ValidationRejected, string(res.Verdict.Reason))
		res.Answer = MsgRefused
		res.Outcome = OutcomeRefused
		res.enter(StateDone)
		return res
	}

	rs, err := p.query(ctx, res.SQL)
	if err != nil {
		log.Error().Err(err).Msg("query execution failed")
		p.fail(res, apperr.Wrap(apperr.ExecutionFailure, "execute", err), MsgNoDataSource)
		return res
	}
	res.enter(StateExecuted)

	if p.isEmpty(rs) {
		log.Info().Int("rows", len(rs.Rows)).Msg("query returned no data")
		if !p.resolveEmpty(ctx, q, res, log) {
			return res
		}
	} else {
		log.Info().Int("rows", len(rs.Rows)).Msg("query executed")
		if !p.synthesize(ctx, q.Text, rs, res, log) {
			return res
		}
		res.Outcome = OutcomeAnswered
	}

	p.persist(ctx, q, res, log)
	res.enter(StateDone)
	return res
}

// resolveEmpty runs the suggestion policy. It returns false if the run
// ended in StateErrored.
func (p *Pipeline) resolveEmpty(ctx context.Context, q Question, res *Result, log zerolog.Logger) bool {
	var set *suggest.Set
	if p.suggester != nil {
		set = p.suggester.Suggest(ctx, res.SQL)
	}
	res.Suggestions = set
	res.enter(StateSuggested)

	switch {
	case set == nil || len(set.Options) == 0:
		res.Answer = MsgNoResults
		res.Outcome = OutcomeNoResults
		res.Err = apperr.New(apperr.EmptyResult, "no rows and no suggestions")
		return true

	case len(set.Options) > 1:
		log.Info().Int("options", len(set.Options)).Str("field", set.Field).Msg("multiple suggestions")
		res.Answer = OptionList(set.Options)
		res.Outcome = OutcomeSuggested
		return true
	}

	option := set.Options[0]
	confirm := Confirmation(option)
	res.Outcome = OutcomeSubstituted
	log.Info().Str("field", set.Field).Str("option", option).Msg("single suggestion")

	cmp, ok := p.suggester.Extract(res.SQL)
	if !ok {
		res.Answer = MsgNoResults
		res.Outcome = OutcomeNoResults
		return true
	}
	rewritten := suggest.Rewrite(res.SQL, cmp)
	rs, err := p.query(ctx, rewritten, suggest.LikePattern(option))
	if err != nil {
		log.Warn().Err(err).Str("sql", logging.Truncate(rewritten)).Msg("substituted query failed")
		res.Err = apperr.Wrap(apperr.ExecutionFailure, "execute substituted query", err)
		res.Answer = confirm + "\n\n" + MsgFailure
		return true
	}
	if rs.Empty() {
		res.Answer = confirm + "\n\n" + MsgSuggestionNoData
		return true
	}

	if !p.synthesize(ctx, q.Text, rs, res, log) {
		return false
	}
	res.Answer = confirm + "\n\n" + res.Answer
	return true
}

func (p *Pipeline) synthesize(ctx context.Context, question string, rs *sqlexec.ResultSet, res *Result, log zerolog.Logger) bool {
	ans, err := p.oracle.Answer(ctx, question, rs.Table())
	if err != nil {
		log.Error().Err(err).Msg("answer synthesis failed")
		p.fail(res, apperr.Wrap(apperr.OracleFailure, "synthesize answer", err), MsgFailure)
		return false
	}
	res.Answer = ans.Text
	if ans.Model != "" {
		res.Model = ans.Model
	}
	res.TokensUsed += ans.Tokens()
	res.enter(StateAnswerSynthesized)
	return true
}

func (p *Pipeline) query(ctx context.Context, sql string, args ...any) (*sqlexec.ResultSet, error) {
	start := time.Now()
	defer func() { metrics.QueryDuration.Observe(time.Since(start).Seconds()) }()
	return p.db.Query(ctx, sql, args...)
}

func (p *Pipeline) fail(res *Result, err error, answer string) {
	res.Err = err
	res.Answer = answer
	res.Outcome = OutcomeErrored
	res.enter(StateErrored)
}

type latestUser struct {
	UserID         string `json:"user_id"`
	UserRole       string `json:"user_role"`
	MessageRole    string `json:"message_role"`
	ChatID         string `json:"chat_id"`
	Content        string `json:"content"`
	IsFirstMessage string `json:"is_first_message"`
	Timestamp      string `json:"timestamp"`
	History        string `json:"last_twenty_messages"`
}

type latestAI struct {
	UserID    string          `json:"user_id"`
	ChatID    string          `json:"chat_id"`
	Content   string          `json:"content"`
	Model     string          `json:"model"`
	Tokens    int             `json:"tokens_used"`
	SQL       string          `json:"sql,omitempty"`
	Options   *suggest.Set    `json:"suggestions,omitempty"`
	Refs      json.RawMessage `json:"ai_references"`
	Timestamp string          `json:"timestamp"`
}

// persist writes the question and answer to the history store. Failures
// are logged only.
func (p *Pipeline) persist(ctx context.Context, q Question, res *Result, log zerolog.Logger) {
	if p.history == nil || q.ChatID == "" {
		return
	}
	ok := true
	warn := func(err error, what string) {
		if err != nil {
			ok = false
			log.Warn().Err(err).Msg(what)
		}
	}

	warn(p.history.PushHistory(ctx, q.ChatID, models.RoleUser, q.Text), "push question to history")

	recent, err := p.history.RecentHistory(ctx, q.ChatID, p.window)
	warn(err, "read recent history")
	if recent == nil {
		recent = []models.HistoryItem{}
	}
	hist, _ := json.Marshal(recent)
	first := "0"
	if q.IsFirstMessage {
		first = "1"
	}
	warn(p.history.SaveLatestUserJSON(ctx, q.ChatID, latestUser{
		UserID:         q.UserID,
		UserRole:       q.UserRole,
		MessageRole:    models.RoleUser,
		ChatID:         q.ChatID,
		Content:        q.Text,
		IsFirstMessage: first,
		Timestamp:      models.Now(),
		History:        string(hist),
	}), "save latest user payload")

	warn(p.history.SaveLatestAIJSON(ctx, q.ChatID, latestAI{
		UserID:    q.UserID,
		ChatID:    q.ChatID,
		Content:   res.Answer,
		Model:     res.Model,
		Tokens:    res.TokensUsed,
		SQL:       res.SQL,
		Options:   res.Suggestions,
		Refs:      json.RawMessage("[]"),
		Timestamp: models.Now(),
	}), "save latest ai payload")

	warn(p.history.PushHistory(ctx, q.ChatID, models.RoleAssistant, res.Answer), "push answer to history")

	if ok {
		res.enter(StatePersisted)
	}
}
