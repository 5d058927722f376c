package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mahdi-taghi/business-assistant-ari/internal/pipeline"
)

// AskResult is the ask command's JSON output.
type AskResult struct {
	Answer     string   `json:"answer"`
	Outcome    string   `json:"outcome"`
	SQL        string   `json:"sql,omitempty"`
	Verdict    string   `json:"verdict,omitempty"`
	States     []string `json:"states"`
	Model      string   `json:"model,omitempty"`
	TokensUsed int      `json:"tokens_used"`
	Seconds    float64  `json:"seconds"`
	Error      string   `json:"error,omitempty"`
}

// NewAskCommand creates the ask command.
func NewAskCommand(rootOpts *RootOptions) *cobra.Command {
	var showSQL bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Run one question through the query pipeline",
		Long: `Generate, validate and execute a query for the question and print the
synthesized answer. Nothing is written to the chat history.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(rootOpts, cmd, strings.Join(args, " "), showSQL)
		},
	}

	cmd.Flags().BoolVar(&showSQL, "sql", false, "also print the generated query and verdict")
	return cmd
}

func runAsk(opts *RootOptions, cmd *cobra.Command, question string, showSQL bool) error {
	ctx := cmd.Context()
	cfg := opts.LoadConfig()
	logger := opts.logger(cmd)

	asker, closeFn, err := opts.NewAsker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	res := asker.Ask(ctx, pipeline.Question{Text: question, UserRole: "operator"})
	out := cmd.OutOrStdout()

	if opts.Format == "json" {
		states := make([]string, len(res.States))
		for i, s := range res.States {
			states[i] = string(s)
		}
		r := AskResult{
			Answer:     res.Answer,
			Outcome:    res.Outcome,
			SQL:        res.SQL,
			States:     states,
			Model:      res.Model,
			TokensUsed: res.TokensUsed,
			Seconds:    res.Duration.Seconds(),
		}
		if res.SQL != "" {
			r.Verdict = res.Verdict.String()
		}
		if res.Err != nil {
			r.Error = res.Err.Error()
		}
		return writeJSON(out, r)
	}

	if showSQL && res.SQL != "" {
		fmt.Fprintf(out, "-- %s\n%s\n\n", res.Verdict.String(), res.SQL)
	}
	fmt.Fprintln(out, res.Answer)
	if res.Err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "(%s: %v)\n", res.Outcome, res.Err)
	}
	return nil
}
