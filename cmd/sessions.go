package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/coach-intake/internal/model"
	"github.com/sells-group/coach-intake/internal/store"
)

var (
	sessionsUser   string
	sessionsStatus string
	sessionsLimit  int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List intake sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		list, err := st.ListSessions(ctx, store.SessionFilter{
			UserID:     sessionsUser,
			Generation: model.GenerationStatus(sessionsStatus),
			Limit:      sessionsLimit,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%-36s  %-16s  %-11s  %-12s  %s\n", "SESSION", "USER", "GENERATION", "COMPLETE", "FIELDS")
		for _, s := range list {
			fmt.Printf("%-36s  %-16s  %-11s  %-12v  %d/%d\n",
				s.SessionID, s.UserID, s.Generation.Status, s.IsComplete,
				s.Todo.CompletedCount(), len(s.Todo))
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsUser, "user", "", "filter by user ID")
	sessionsCmd.Flags().StringVar(&sessionsStatus, "status", "", "filter by generation status")
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 50, "max sessions to list")
	rootCmd.AddCommand(sessionsCmd)
}
