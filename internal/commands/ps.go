package commands

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/zot/p2p-chat/internal/pidfile"
)

var psVerbose bool

// PsCmd represents the ps command
var PsCmd = &cobra.Command{
	Use:   "ps",
	Short: "List running p2p-chat nodes",
	Long:  `List process IDs for all running p2p-chat nodes on this machine.`,
	RunE:  runPs,
}

func init() {
	PsCmd.Flags().BoolVarP(&psVerbose, "verbose", "v", false, "Show command line arguments")
}

func runPs(cmd *cobra.Command, args []string) error {
	pids, err := pidfile.List()
	if err != nil {
		return fmt.Errorf("failed to list processes: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(pids) == 0 {
		fmt.Fprintln(out, "No running p2p-chat nodes found")
		return nil
	}

	fmt.Fprintf(out, "Running p2p-chat nodes (%d):\n", len(pids))
	if !psVerbose {
		for _, pid := range pids {
			fmt.Fprintln(out, pid)
		}
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"PID", "Command"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	for _, pid := range pids {
		cmdline, err := pidfile.GetProcessInfo(pid)
		switch {
		case err != nil:
			cmdline = fmt.Sprintf("<error: %v>", err)
		case cmdline == "":
			cmdline = "<no command line available>"
		}
		table.Append([]string{strconv.Itoa(int(pid)), cmdline})
	}
	table.Render()
	return nil
}
