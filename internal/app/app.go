// Package app wires configuration into the long-lived components shared by
// the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mahdi-taghi/business-assistant-ari/internal/bus"
	"github.com/mahdi-taghi/business-assistant-ari/internal/config"
	"github.com/mahdi-taghi/business-assistant-ari/internal/oracle"
	"github.com/mahdi-taghi/business-assistant-ari/internal/pipeline"
	"github.com/mahdi-taghi/business-assistant-ari/internal/sqlexec"
	"github.com/mahdi-taghi/business-assistant-ari/internal/suggest"
)

// BusConfig maps configuration onto the bus.
func BusConfig(cfg *config.Config) bus.Config {
	return bus.Config{
		RequestStream:  cfg.RequestStream,
		ResponseStream: cfg.ResponseStream,
		MappingPrefix:  cfg.MappingPrefix,
		MaxLen:         cfg.StreamMaxLen,
		MappingTTL:     cfg.MappingTTL,
		RetryDelay:     cfg.RetryDelay,
	}
}

// Pipeline is a query pipeline together with the resources it holds.
type Pipeline struct {
	*pipeline.Pipeline
	Executor *sqlexec.Executor
}

// Close releases the analytical database pool.
func (p *Pipeline) Close() {
	p.Executor.Close()
}

// NewPipeline connects the analytical database and the configured oracle.
// history may be nil.
func NewPipeline(ctx context.Context, cfg *config.Config, history pipeline.History, logger zerolog.Logger) (*Pipeline, error) {
	if cfg.DataDatabaseURL == "" {
		return nil, fmt.Errorf("DATA_DATABASE_URL is required")
	}

	pool, err := sqlexec.Connect(ctx, cfg.DataDatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("data database: %w", err)
	}
	exec := sqlexec.New(pool, cfg.QueryTimeout, logger)

	orc, err := oracle.New(ctx, oracle.Config{
		Provider:    cfg.OracleProvider,
		APIKey:      cfg.OracleAPIKey(),
		BaseURL:     cfg.OpenAIBaseURL,
		SQLModel:    cfg.SQLModel,
		AnswerModel: cfg.AnswerModel,
		Table:       cfg.DataTable,
		Timeout:     cfg.OracleTimeout,
	}, logger)
	if err != nil {
		exec.Close()
		return nil, fmt.Errorf("oracle: %w", err)
	}

	resolver := suggest.NewResolver(exec, cfg.DataTable, cfg.SuggestFields, cfg.SuggestLimit, logger)

	p := pipeline.New(orc, exec, resolver, history, pipeline.Options{
		Table:         cfg.DataTable,
		MaxStatements: cfg.MaxStatements,
		HistoryWindow: cfg.HistoryWindow,
	}, logger)

	return &Pipeline{Pipeline: p, Executor: exec}, nil
}
