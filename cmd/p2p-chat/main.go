package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zot/p2p-chat/internal/commands"
	"github.com/zot/p2p-chat/internal/config"
	"github.com/zot/p2p-chat/internal/logging"
	"github.com/zot/p2p-chat/internal/node"
	"github.com/zot/p2p-chat/internal/pidfile"
)

var (
	configPath string
	verbose    int
	port       int
	dedup      string
)

var rootCmd = &cobra.Command{
	Use:   "p2p-chat",
	Short: "A peer-to-peer chat node",
	Long: `p2p-chat finds peers on the local network with mDNS, admits those that
announce the same protocol version and exchanges messages with them over
GossipSub.

Lines typed on stdin are broadcast; received messages are printed as
"<peer>: <message>". Type "exit" to quit.

Configuration is read from p2p-chat.toml (working directory or ~/.p2p-chat)
and P2PCHAT_* environment variables, e.g. P2PCHAT_P2P_PORT=4001.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: p2p-chat.toml)")
	rootCmd.Flags().CountVarP(&verbose, "verbose", "v", "Verbose output (-v info, -vv debug)")
	rootCmd.Flags().IntVarP(&port, "port", "p", -1, "Port to listen on (0 lets the OS choose)")
	rootCmd.Flags().StringVar(&dedup, "dedup", "", "Deduplication policy: timestamp or content-hash")

	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.PsCmd)
	rootCmd.AddCommand(commands.KillCmd)
	rootCmd.AddCommand(commands.KillAllCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	// a local .env may carry P2PCHAT_* overrides
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Merge(port, verbose, dedup)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logging.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	actor, err := node.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer actor.Close()

	if err := pidfile.Register(); err != nil {
		log.Warn("failed to register process", zap.Error(err))
	}
	defer pidfile.Unregister()

	fmt.Fprintf(cmd.OutOrStdout(), "Peer ID: %s\n", actor.ID())
	console := commands.NewConsole(cmd.InOrStdin())
	defer console.Close()
	return commands.Chat(ctx, actor, uint16(cfg.P2P.Port), console, cmd.OutOrStdout(), log)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
