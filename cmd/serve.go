package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coach-intake/internal/session"
	"github.com/sells-group/coach-intake/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intake HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Route("/v1", func(r chi.Router) {
			r.Post("/sessions", handleStartSession(env))
			r.Post("/sessions/{sessionID}/messages", handleMessage(env))
			r.Get("/sessions/{sessionID}", handleGetSession(env))
			r.Get("/artifacts/{artifactID}", handleGetArtifact(env))
		})

		// Webhook receiver for build requests when another instance runs with
		// dispatch.mode=webhook pointed at this one.
		r.Post("/webhook/generate", handleGenerateWebhook(env))

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func handleStartSession(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string `json:"user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}

		res, err := env.Service.StartSession(r.Context(), req.UserID)
		if err != nil {
			zap.L().Error("start session failed", zap.String("user_id", req.UserID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not start session")
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func handleMessage(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		var req struct {
			UserID  string `json:"user_id"`
			Message string `json:"message"`
			Stream  bool   `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			writeError(w, http.StatusBadRequest, "user_id and message are required")
			return
		}

		if req.Stream {
			streamMessage(env, w, r, req.UserID, sessionID, req.Message)
			return
		}

		res, err := env.Service.SubmitAnswer(r.Context(), req.UserID, sessionID, req.Message)
		if err != nil {
			writeTurnError(w, sessionID, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// streamMessage delivers the generated turn as server-sent events: one "chunk"
// event per delta and a final "result" event carrying the full TurnResult.
func streamMessage(env *env, w http.ResponseWriter, r *http.Request, userID, sessionID, message string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	chunks, finish, err := env.Service.SubmitAnswerStream(r.Context(), userID, sessionID, message)
	if err != nil {
		writeTurnError(w, sessionID, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for c := range chunks {
		writeSSE(w, "chunk", map[string]string{"text": c})
		flusher.Flush()
	}

	res, err := finish()
	if err != nil {
		zap.L().Error("stream turn failed", zap.String("session_id", sessionID), zap.Error(err))
		writeSSE(w, "error", map[string]string{"error": "turn failed"})
		flusher.Flush()
		return
	}
	writeSSE(w, "result", res)
	flusher.Flush()
}

func handleGetSession(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}

		sess, err := env.Service.GetSession(r.Context(), userID, sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "session not found")
				return
			}
			zap.L().Error("get session failed", zap.String("session_id", sessionID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not load session")
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func handleGetArtifact(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		artifactID := chi.URLParam(r, "artifactID")
		cfg, err := env.Store.GetArtifact(r.Context(), artifactID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "artifact not found")
				return
			}
			zap.L().Error("get artifact failed", zap.String("artifact_id", artifactID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not load artifact")
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}

func handleGenerateWebhook(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}

		// The build reports its outcome by writing session status; the webhook
		// response only acknowledges receipt. The build must outlive the request.
		ctx := context.WithoutCancel(r.Context())
		go func() {
			if err := env.Generator.HandleDispatch(ctx, payload); err != nil {
				zap.L().Error("webhook build failed", zap.Error(err))
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func writeTurnError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message is required")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	default:
		zap.L().Error("turn failed", zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "turn failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeSSE(w http.ResponseWriter, event string, v any) {
	data, _ := json.Marshal(v)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
