package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coach-intake/internal/artifact"
	"github.com/sells-group/coach-intake/internal/convo"
	"github.com/sells-group/coach-intake/internal/dispatch"
	"github.com/sells-group/coach-intake/internal/extract"
	"github.com/sells-group/coach-intake/internal/model"
	"github.com/sells-group/coach-intake/internal/question"
	"github.com/sells-group/coach-intake/internal/registry"
	"github.com/sells-group/coach-intake/internal/session"
	"github.com/sells-group/coach-intake/internal/store"
	"github.com/sells-group/coach-intake/internal/todo"
	anthropicpkg "github.com/sells-group/coach-intake/pkg/anthropic"
	notionpkg "github.com/sells-group/coach-intake/pkg/notion"
)

// env holds the wired service graph shared by the CLI commands.
type env struct {
	Store     store.Store
	Registry  *model.FieldRegistry
	Catalogs  *registry.Catalogs
	Service   *session.Service
	Generator *artifact.Generator
	Local     *dispatch.LocalInvoker
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "coach-intake.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv wires the full intake service. baseCtx outlives individual requests;
// locally dispatched artifact builds run under it.
func initEnv(baseCtx context.Context) (*env, error) {
	st, err := initStore(baseCtx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(baseCtx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	client := anthropicpkg.NewClient(cfg.Anthropic.Key,
		anthropicpkg.WithRateLimit(cfg.Anthropic.RequestsPerS))

	reg, err := loadFieldRegistry(baseCtx)
	if err != nil {
		st.Close()
		return nil, err
	}
	cats, err := registry.LoadEmbeddedCatalogs()
	if err != nil {
		st.Close()
		return nil, eris.Wrap(err, "load catalogs")
	}

	planner := convo.Planner{
		Threshold: cfg.Intake.WindowThreshold,
		HeadKeep:  cfg.Intake.WindowHeadKeep,
		Tail:      cfg.Intake.WindowTail,
		Step:      cfg.Intake.WindowStep,
	}

	gen := artifact.New(client, st, reg, cats, cfg.Anthropic.OpusModel)

	var invoker dispatch.Invoker
	var local *dispatch.LocalInvoker
	switch cfg.Dispatch.Mode {
	case "webhook":
		invoker = dispatch.NewWebhookInvoker(
			map[string]string{artifact.Target: cfg.Dispatch.WebhookURL},
			30*time.Second,
		)
	default:
		local = dispatch.NewLocalInvoker(baseCtx, cfg.Dispatch.MaxConcurrent)
		local.Register(artifact.Target, gen.HandleDispatch)
		invoker = local
	}

	ctrl := session.NewController(st, invoker)
	svc := session.NewService(
		st,
		reg,
		extract.New(client, reg, cfg.Anthropic.HaikuModel),
		question.New(client, planner, cfg.Anthropic.SonnetModel),
		todo.NewMerger(todo.AlwaysOverwrite),
		ctrl,
		planner,
	)

	return &env{
		Store:     st,
		Registry:  reg,
		Catalogs:  cats,
		Service:   svc,
		Generator: gen,
		Local:     local,
	}, nil
}

// loadFieldRegistry prefers the Notion-managed registry and falls back to the
// embedded fixture when no field database is configured.
func loadFieldRegistry(ctx context.Context) (*model.FieldRegistry, error) {
	if cfg.Notion.Token != "" && cfg.Notion.FieldDB != "" {
		reg, err := registry.LoadFieldRegistry(ctx, notionpkg.NewClient(cfg.Notion.Token), cfg.Notion.FieldDB)
		if err != nil {
			return nil, eris.Wrap(err, "load field registry from notion")
		}
		return reg, nil
	}
	zap.L().Info("no notion field database configured, using embedded fields")
	reg, err := registry.LoadEmbeddedFields()
	if err != nil {
		return nil, eris.Wrap(err, "load embedded fields")
	}
	return reg, nil
}

// Close drains in-flight local builds and closes the store.
func (e *env) Close() {
	if e.Local != nil {
		e.Local.Wait()
	}
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}
