package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// tailFilter selects which streamed signals are printed.
type tailFilter struct {
	prefix      string
	priority    string
	correlation string
	failures    bool
}

func (f tailFilter) match(sig SignalView) bool {
	switch {
	case f.prefix != "" && !strings.HasPrefix(sig.Type, f.prefix):
		return false
	case f.priority != "" && sig.Priority != f.priority:
		return false
	case f.correlation != "" && sig.CorrelationID != f.correlation:
		return false
	case f.failures && !isFailure(sig.Type):
		return false
	}
	return true
}

func newTailCommand(g *globalFlags) *cobra.Command {
	var (
		filter tailFilter
		count  int
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the live signal stream",
		Long: `tail connects to the server's WebSocket stream. The server replays its
recent activity first, then pushes every signal as it is dispatched.
Stop with Ctrl-C, or pass --count to exit after that many matches.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			conn, err := g.client().Stream(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()
			return follow(ctx, conn, cmd, g.output, filter, count)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&filter.prefix, "type", "t", "", "only types starting with this prefix (e.g. IDENTITY:)")
	f.StringVar(&filter.priority, "priority", "", "only this priority")
	f.StringVar(&filter.correlation, "correlation", "", "only this correlation id")
	f.BoolVar(&filter.failures, "failures", false, "only *_FAILURE and *:ERROR signals")
	f.IntVarP(&count, "count", "n", 0, "exit after this many matching signals (0 = follow forever)")
	return cmd
}

// follow prints matching frames until ctx ends, the server closes the
// stream, or count matches were printed.
func follow(ctx context.Context, conn *websocket.Conn, cmd *cobra.Command, format string, filter tailFilter, count int) error {
	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	out := cmd.OutOrStdout()
	printed := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		var sig SignalView
		if err := json.Unmarshal(data, &sig); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), failureColor.Sprintf("skipping undecodable frame: %v", err))
			continue
		}
		if !filter.match(sig) {
			continue
		}
		if err := printSignal(out, format, sig); err != nil {
			return err
		}
		printed++
		if count > 0 && printed >= count {
			return nil
		}
	}
}
