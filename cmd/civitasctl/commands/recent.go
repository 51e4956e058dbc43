package commands

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

func newRecentCommand(g *globalFlags) *cobra.Command {
	var (
		typ    string
		limit  int
		oldest bool
	)
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the bus activity log, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			signals, err := g.client().Recent(cmd.Context(), typ, limit)
			if err != nil {
				return err
			}
			if oldest {
				slices.Reverse(signals)
			}
			out := cmd.OutOrStdout()
			if len(signals) == 0 && g.output == outputText {
				_, err := fmt.Fprintln(out, dimColor.Sprint("no recent activity"))
				return err
			}
			for _, sig := range signals {
				if err := printSignal(out, g.output, sig); err != nil {
					return err
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&typ, "type", "t", "", "only signals of this type")
	f.IntVarP(&limit, "limit", "n", 0, "at most this many signals (0 = all retained)")
	f.BoolVar(&oldest, "oldest-first", false, "print in dispatch order")
	return cmd
}
