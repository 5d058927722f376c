package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mahdi-taghi/business-assistant-ari/internal/sqlguard"
)

// ErrRejected is returned when validate refuses the query.
var ErrRejected = errors.New("query rejected")

// ValidationResult is the validate command's JSON output.
type ValidationResult struct {
	Accepted   bool     `json:"accepted"`
	Reason     string   `json:"reason,omitempty"`
	Statement  int      `json:"statement"`
	Detail     string   `json:"detail,omitempty"`
	Statements []string `json:"statements"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var maxStatements int

	cmd := &cobra.Command{
		Use:   "validate [sql|-]",
		Short: "Check a query against the read-only grammar",
		Long: `Split a query into statements and run the safety validator on it.

Reads the query from stdin when the argument is "-" or missing. Exits
non-zero when the query is rejected.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql := "-"
			if len(args) == 1 {
				sql = args[0]
			}
			if sql == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				sql = string(b)
			}
			return runValidate(rootOpts, cmd, sql, maxStatements)
		},
	}

	cmd.Flags().IntVar(&maxStatements, "max-statements", sqlguard.DefaultMaxStatements, "statement ceiling")
	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command, sql string, maxStatements int) error {
	verdict := sqlguard.NewValidator(maxStatements).Validate(sql)
	stmts := sqlguard.Texts(sql)
	out := cmd.OutOrStdout()

	if opts.Format == "json" {
		res := ValidationResult{
			Accepted:   verdict.Accepted,
			Reason:     string(verdict.Reason),
			Statement:  verdict.Statement,
			Detail:     verdict.Detail,
			Statements: stmts,
		}
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else {
		for i, s := range stmts {
			fmt.Fprintf(out, "[%d] %s\n", i, strings.Join(strings.Fields(s), " "))
		}
		fmt.Fprintln(out, verdict.String())
	}

	if !verdict.Accepted {
		return ErrRejected
	}
	return nil
}
