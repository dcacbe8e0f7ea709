package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coach-intake/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "coach-intake",
	Short: "Adaptive intake conversation service for personalized AI coaches",
	Long:  "Runs multi-turn intake conversations, extracts structured user data via Claude, and builds personalized coach configurations when intake completes.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
