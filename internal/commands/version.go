package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zot/p2p-chat/internal/chat"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display the version of p2p-chat",
	Long:  `Display the release version and the protocol version peers must announce to be admitted.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "p2p-chat version %s (protocol %s)\n", chat.Version, chat.ProtocolVersion())
	},
}
