// Package commands implements civitasctl, an operator CLI that talks to a
// running civitas server over its HTTP and WebSocket surface.
package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// DefaultServer is used when neither --server nor CIVITAS_SERVER is set.
const DefaultServer = "http://localhost:8080"

type globalFlags struct {
	server  string
	token   string
	timeout time.Duration
	noColor bool
	output  string
}

func (g *globalFlags) client() *Client {
	return NewClient(g.server, g.token, g.timeout)
}

// NewRootCommand builds the command tree. Commands write to cmd.OutOrStdout,
// so tests can capture output with SetOut.
func NewRootCommand(version string) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "civitasctl",
		Short: "Inspect and drive a running civitas signal bus",
		Long: `civitasctl dispatches signals into a civitas server, lists its recent
activity and tails the live signal stream.

Examples:
  civitasctl emit IDENTITY:LOGIN_INTENT --payload '{"phone":"+2348000000003","accountType":"citizen"}'
  civitasctl recent --type IDENTITY:LOGIN_SUCCESS --limit 5
  civitasctl tail --priority reflex`,
		Version: version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if flags.noColor {
				color.NoColor = true
			}
			switch flags.output {
			case outputText, outputJSON:
			default:
				return fmt.Errorf("unknown output format %q (valid: %s, %s)", flags.output, outputText, outputJSON)
			}
			return nil
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	server := os.Getenv("CIVITAS_SERVER")
	if server == "" {
		server = DefaultServer
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.server, "server", "s", server, "civitas server base URL (env CIVITAS_SERVER)")
	pf.StringVar(&flags.token, "token", os.Getenv("CIVITAS_TOKEN"), "bearer token for a guarded intake (env CIVITAS_TOKEN)")
	pf.DurationVar(&flags.timeout, "timeout", 10*time.Second, "HTTP request timeout")
	pf.BoolVar(&flags.noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	pf.StringVarP(&flags.output, "output", "o", outputText, "output format (text or json)")

	root.AddCommand(
		newEmitCommand(flags),
		newRecentCommand(flags),
		newTailCommand(flags),
		newTokenCommand(),
	)
	return root
}

func trimServer(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "/")
}
