package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/yashagw/cranecursor/internal/config"
	"github.com/yashagw/cranecursor/internal/logging"
)

var (
	cfgFile  string
	seedRows int
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cranecursor",
	Short: "relation cursor over an in-memory catalog",
	Long: `
  Runs scans, counts and deletes through the relation cursor against a
  seeded in-memory relation, either once from the command line or as a
  line-oriented JSON server.
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile, config.DefaultPrefix)
		if err != nil {
			return err
		}
		logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().IntVar(&seedRows, "rows", 100, "rows seeded into the demo relation")
	rootCmd.AddCommand(scanCmd, serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
