package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zot/p2p-chat/internal/pidfile"
)

// KillCmd represents the kill command
var KillCmd = &cobra.Command{
	Use:   "kill PID",
	Short: "Stop a running p2p-chat node",
	Long:  `Stop a p2p-chat node by process ID. The node gets five seconds to drain before it is killed.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runKill,
}

func runKill(cmd *cobra.Command, args []string) error {
	pid, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid PID: %s", args[0])
	}
	if err := pidfile.Kill(int32(pid)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stopped process %d\n", pid)
	return nil
}
