package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zot/p2p-chat/internal/pidfile"
)

// KillAllCmd represents the killall command
var KillAllCmd = &cobra.Command{
	Use:   "killall",
	Short: "Stop all running p2p-chat nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := pidfile.KillAll()
		if err != nil {
			return fmt.Errorf("failed to kill processes: %w", err)
		}
		if n == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No running p2p-chat nodes found")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped %d process(es)\n", n)
		}
		return nil
	},
}
