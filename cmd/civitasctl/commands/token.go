package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	jwttoken "civitas/internal/jwt_token"
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage intake bearer tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newTokenIssueCommand())
	return cmd
}

func newTokenIssueCommand() *cobra.Command {
	var (
		secret   string
		issuer   string
		audience string
		subject  string
		scopes   []string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a token with the server's INTAKE_JWT_SECRET",
		Example: `  export CIVITAS_TOKEN=$(civitasctl token issue --subject ops-console)
  civitasctl tail`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return fmt.Errorf("--secret or INTAKE_JWT_SECRET is required")
			}
			token, err := jwttoken.NewService(secret, issuer, audience).Issue(subject, scopes, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&secret, "secret", os.Getenv("INTAKE_JWT_SECRET"), "HS256 signing secret")
	f.StringVar(&issuer, "issuer", "civitas", "token issuer (INTAKE_JWT_ISSUER on the server)")
	f.StringVar(&audience, "audience", "civitas-intake", "token audience (INTAKE_JWT_AUDIENCE on the server)")
	f.StringVar(&subject, "subject", "civitasctl", "caller name; becomes the default signal source")
	f.StringSliceVar(&scopes, "scope", []string{jwttoken.ScopeRead, jwttoken.ScopeWrite}, "granted scopes")
	f.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
