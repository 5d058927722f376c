package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mahdi-taghi/business-assistant-ari/internal/crypto"
	"github.com/mahdi-taghi/business-assistant-ari/internal/models"
	"github.com/mahdi-taghi/business-assistant-ari/internal/store"
)

// CreatedUser is the user create command's JSON output.
type CreatedUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Token    string `json:"token"`
}

// NewUserCommand creates the user command group.
func NewUserCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage API users",
	}
	cmd.AddCommand(newUserCreateCommand(rootOpts))
	return cmd
}

func newUserCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var username, role string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user and print its API token",
		Long: `Create a user in the chat store and print a new API token for it.

The token is shown once; only its hash is stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			username = strings.TrimSpace(username)
			if username == "" {
				return fmt.Errorf("--username is required")
			}
			return runUserCreate(rootOpts, cmd, username, strings.TrimSpace(role))
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "unique user name")
	cmd.Flags().StringVar(&role, "role", models.DefaultUserRole, "role passed to the pipeline")
	return cmd
}

func runUserCreate(opts *RootOptions, cmd *cobra.Command, username, role string) error {
	ctx := cmd.Context()
	cfg := opts.LoadConfig()

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath, true)
	if err != nil {
		return err
	}
	defer db.Close()

	user := &models.User{ID: crypto.NewUUIDv7(), Username: username, Role: role}
	token, hash, err := crypto.GenerateToken(user.ID)
	if err != nil {
		return err
	}
	user.TokenHash = hash

	if err := db.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(out, CreatedUser{ID: user.ID.String(), Username: user.Username, Role: user.Role, Token: token})
	}
	fmt.Fprintf(out, "User:  %s (%s)\n", user.Username, user.ID)
	fmt.Fprintf(out, "Role:  %s\n", user.Role)
	fmt.Fprintf(out, "Token: %s\n", token)
	return nil
}
