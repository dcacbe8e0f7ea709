package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/coach-intake/internal/session"
)

var (
	intakeUser   string
	intakeStream bool
)

var intakeCmd = &cobra.Command{
	Use:   "intake",
	Short: "Run an intake conversation interactively on the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("intake"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		start, err := env.Service.StartSession(ctx, intakeUser)
		if err != nil {
			return err
		}
		fmt.Printf("coach> %s\n", start.Reply)

		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("you> ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			if text == "/quit" {
				return nil
			}

			var res *session.TurnResult
			if intakeStream {
				chunks, finish, err := env.Service.SubmitAnswerStream(ctx, intakeUser, start.SessionID, text)
				if err != nil {
					return err
				}
				fmt.Print("coach> ")
				for c := range chunks {
					fmt.Print(c)
				}
				fmt.Println()
				res, err = finish()
				if err != nil {
					return err
				}
			} else {
				res, err = env.Service.SubmitAnswer(ctx, intakeUser, start.SessionID, text)
				if err != nil {
					return err
				}
				fmt.Printf("coach> %s\n", res.Reply)
			}

			if res.Done {
				if res.Completion != nil && res.Completion.Dispatched {
					fmt.Println("(building your coach configuration...)")
				}
				return nil
			}
		}
	},
}

func init() {
	intakeCmd.Flags().StringVar(&intakeUser, "user", "", "user ID (required)")
	intakeCmd.Flags().BoolVar(&intakeStream, "stream", false, "stream replies as they generate")
	intakeCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(intakeCmd)
}
