package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coach-intake/internal/model"
)

var (
	generateUser    string
	generateSession string
	generateForce   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Build the coach configuration for a completed session synchronously",
	Long:  "Runs the artifact build in-process, bypassing dispatch. With --force, a stuck in_progress lock is broken first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("generate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sess, err := env.Store.GetSession(ctx, generateUser, generateSession)
		if err != nil {
			return err
		}

		switch sess.Generation.Status {
		case model.GenerationComplete:
			if !generateForce {
				fmt.Printf("already complete: artifact %s\n", sess.Generation.ArtifactID)
				return nil
			}
			return eris.New("cannot force-regenerate a completed session")
		case model.GenerationInProgress:
			if !generateForce {
				return eris.Errorf("build in progress for %s (elapsed %s); use --force to break the lock",
					generateSession, sess.Generation.Elapsed(time.Now()).Round(time.Second))
			}
			broke, err := env.Store.TransitionGeneration(ctx, generateUser, generateSession,
				[]model.GenerationStatus{model.GenerationInProgress}, model.GenerationFailed)
			if err != nil {
				return err
			}
			if !broke {
				return eris.New("lock changed underneath; re-run to see current status")
			}
			zap.L().Warn("broke stale generation lock",
				zap.String("session_id", generateSession))
		}

		acquired, err := env.Store.TransitionGeneration(ctx, generateUser, generateSession,
			[]model.GenerationStatus{model.GenerationNotStarted, model.GenerationFailed},
			model.GenerationInProgress)
		if err != nil {
			return err
		}
		if !acquired {
			return eris.New("could not acquire generation lock; another build may be running")
		}

		now := time.Now().UTC()
		sess.Generation = model.GenerationState{Status: model.GenerationInProgress, StartedAt: &now}
		if err := env.Store.PutSession(ctx, sess, true); err != nil {
			return err
		}

		if err := env.Generator.Generate(ctx, generateUser, generateSession); err != nil {
			return eris.Wrap(err, "generate artifact")
		}

		sess, err = env.Store.GetSession(ctx, generateUser, generateSession)
		if err != nil {
			return err
		}
		fmt.Printf("artifact %s generated\n", sess.Generation.ArtifactID)
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&generateUser, "user", "", "user ID (required)")
	generateCmd.Flags().StringVar(&generateSession, "session", "", "session ID (required)")
	generateCmd.Flags().BoolVar(&generateForce, "force", false, "break a stuck in_progress lock before building")
	generateCmd.MarkFlagRequired("user")
	generateCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(generateCmd)
}
