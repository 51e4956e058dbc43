package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newEmitCommand(g *globalFlags) *cobra.Command {
	var (
		payload     string
		source      string
		priority    string
		correlation string
	)
	cmd := &cobra.Command{
		Use:   "emit TYPE",
		Short: "Dispatch a signal into the bus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := EmitRequest{
				Type:          args[0],
				Source:        source,
				Priority:      priority,
				CorrelationID: correlation,
			}
			if payload != "" {
				if !json.Valid([]byte(payload)) {
					return fmt.Errorf("--payload is not valid JSON")
				}
				req.Payload = json.RawMessage(payload)
			}

			id, err := g.client().Emit(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.output == outputJSON {
				return json.NewEncoder(out).Encode(map[string]string{"id": id})
			}
			_, err = fmt.Fprintf(out, "dispatched %s %s\n", cognitiveColor.Sprint(args[0]), dimColor.Sprint(id))
			return err
		},
	}
	f := cmd.Flags()
	f.StringVarP(&payload, "payload", "p", "", "JSON payload")
	f.StringVar(&source, "source", "civitasctl", "signal source")
	f.StringVar(&priority, "priority", "", "reflex, cognitive or dream (server default: cognitive)")
	f.StringVar(&correlation, "correlation", "", "correlation id")
	return cmd
}
