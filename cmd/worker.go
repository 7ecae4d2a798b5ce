package cmd

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/nextlevelbuilder/agentworker/internal/attachments"
	"github.com/nextlevelbuilder/agentworker/internal/cliassistant"
	"github.com/nextlevelbuilder/agentworker/internal/config"
	"github.com/nextlevelbuilder/agentworker/internal/dedup"
	"github.com/nextlevelbuilder/agentworker/internal/orchestrator"
	"github.com/nextlevelbuilder/agentworker/internal/persistence"
	"github.com/nextlevelbuilder/agentworker/internal/procedure"
	"github.com/nextlevelbuilder/agentworker/internal/prompts"
	"github.com/nextlevelbuilder/agentworker/internal/runtime"
	"github.com/nextlevelbuilder/agentworker/internal/sessionindex"
	"github.com/nextlevelbuilder/agentworker/internal/sessionstore"
	"github.com/nextlevelbuilder/agentworker/internal/supervisor"
	"github.com/nextlevelbuilder/agentworker/internal/tracing"
	"github.com/nextlevelbuilder/agentworker/internal/trackerapi"
	"github.com/nextlevelbuilder/agentworker/internal/transport"
	"github.com/nextlevelbuilder/agentworker/internal/workspace"
	"github.com/nextlevelbuilder/agentworker/pkg/event"
)

// assistantCommand names the Assistant CLI binary cliassistant execs
// per session, overridable for environments where "claude" isn't on
// PATH under that name.
func assistantCommand() string {
	if v := os.Getenv("AGENTWORKER_ASSISTANT_COMMAND"); v != "" {
		return v
	}
	return "claude"
}

// runWorker is the worker's real entrypoint, wired here (rather than
// in cmd/agentworker/main.go) so the whole dependency graph lives in
// one importable package cobra's Run callback can call directly — the
// same split cmd/gateway.go used between root.go's cobra wiring and
// runGateway()'s construction of the gateway's dependency graph.
func runWorker() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	tracingShutdown, err := tracing.Init(context.Background())
	if err != nil {
		slog.Warn("worker.tracing_init_failed", "error", err)
		tracingShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Warn("worker.tracing_shutdown_failed", "error", err)
		}
	}()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("worker.config_load_failed", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	sessions := sessionstore.New()
	index := sessionindex.New()
	dedupSet := dedup.New()
	catalogue := procedure.NewCatalogue()
	router := procedure.NewRouter(catalogue, nil) // no Classifier implementation exists yet; DetermineRoutine's nil fallback ("builder-basic") is the documented default
	trackerReg := trackerapi.NewRegistry()

	stateDir := config.ExpandHome(cfg.CyrusHome)
	jsonStore := persistence.New(stateDir)
	sqliteStore, err := persistence.NewSQLiteStore(stateDir)
	if err != nil {
		slog.Warn("worker.sqlite_store_unavailable", "error", err)
		sqliteStore = nil
	}
	persist := persistence.NewDualStore(jsonStore, sqliteStore)
	if err := persist.Load(sessions); err != nil {
		slog.Warn("worker.persist_load_failed", "error", err)
	}

	var sup *supervisor.Supervisor
	pendingAssistant := make(map[string]string) // runtime session id -> accumulated assistant text, keyed until Final

	assistant := cliassistant.New(
		assistantCommand(),
		func(runtimeSessionID string, msg supervisor.Message) {
			sessionKey := runtimeSessionID
			if _, sess, ok := sessions.FindByAssistantSessionID(runtimeSessionID); ok {
				sessionKey = sess.ID
			}
			sup.Deliver(sessionKey, msg)
		},
		func(runtimeSessionID string, err error) {
			sessionKey := runtimeSessionID
			if _, sess, ok := sessions.FindByAssistantSessionID(runtimeSessionID); ok {
				sessionKey = sess.ID
			}
			sup.DeliverError(sessionKey, err)
		},
	)

	sup = supervisor.New(
		assistant,
		func(msg supervisor.Message) {
			if msg.Kind == "assistant" {
				pendingAssistant[msg.SessionID] += msg.Content
			}
			if !msg.Final {
				return
			}
			text := pendingAssistant[msg.SessionID]
			if text == "" {
				text = msg.Content
			}
			delete(pendingAssistant, msg.SessionID)

			repoID, sess, ok := sessions.FindByAssistantSessionID(msg.SessionID)
			if !ok {
				slog.Warn("worker.assistant_result.unknown_session", "session_id", msg.SessionID)
				return
			}
			repo, ok := cfg.ByID(repoID)
			if !ok {
				slog.Warn("worker.assistant_result.unknown_repository", "repo_id", repoID)
				return
			}
			if err := orch.OnAssistantResult(context.Background(), repo, sess.ID, text); err != nil {
				slog.Error("worker.assistant_result.handle_failed", "session_id", sess.ID, "error", err)
			}
		},
		func(err error) {
			if supervisor.IsBenign(err) {
				slog.Debug("worker.assistant_error.benign", "error", err)
				return
			}
			slog.Error("worker.assistant_error", "error", err)
		},
	)

	orch = orchestrator.New(orchestrator.Deps{
		Config:      cfg,
		TrackerReg:  trackerReg,
		Sessions:    sessions,
		Index:       index,
		Dedup:       dedupSet,
		Catalogue:   catalogue,
		Router:      router,
		Supervisor:  sup,
		Workspace:   workspace.New(stateDir + "/workspaces"),
		Prompts:     prompts.New(),
		Attachments: attachments.New(),
		Persist:     persist,
	})

	muxRouter := mux.NewRouter()
	deliverer := transport.DelivererFunc(func(ctx context.Context, evt event.Event, repos []config.Repository) {
		orch.Dispatch(ctx, evt, repos)
	})
	transports := transport.NewRegistry(cfg, cfg.ProxyURL, cfg.UseLinearDirectWebhooks, muxRouter, deliverer)

	for _, token := range distinctTokens(cfg.Snapshot()) {
		if _, err := transports.EnsureForToken(token); err != nil {
			slog.Error("worker.transport_ensure_failed", "token_suffix", tokenSuffix(token), "error", err)
		}
	}

	watcher := config.NewWatcher(cfgPath, cfg, onConfigDiff(cfg, transports))

	rt := &runtime.Runtime{
		Config:       cfg,
		Watcher:      watcher,
		Index:        index,
		Dedup:        dedupSet,
		Unresponded:  runtime.NewUnrespondedTracker(),
		Transports:   transports,
		Sessions:     sessions,
		Supervisor:   sup,
		Orchestrator: orch,
		Persist:      persist,
		Mux:          muxRouter,
		Addr:         cfg.ServerHost + ":" + portString(cfg.ServerPort),
	}

	if err := rt.Run(context.Background()); err != nil {
		slog.Error("worker.exited", "error", err)
		os.Exit(1)
	}
}

// orch is package-level so the supervisor's onMessage closure (built
// before Orchestrator.New is called, since Orchestrator.Deps needs the
// already-constructed Supervisor) can reference it once assigned —
// both are constructed before any Assistant message can possibly
// arrive, so the closure always sees a non-nil value by the time it
// runs.
var orch *orchestrator.Orchestrator

// distinctTokens returns every Tracker token referenced by repos, once
// each, preserving first-seen order.
func distinctTokens(repos []config.Repository) []string {
	seen := make(map[string]bool, len(repos))
	out := make([]string, 0, len(repos))
	for _, r := range repos {
		if r.TrackerToken == "" || seen[r.TrackerToken] {
			continue
		}
		seen[r.TrackerToken] = true
		out = append(out, r.TrackerToken)
	}
	return out
}

func portString(port int) string {
	if port == 0 {
		port = 3456
	}
	return strconv.Itoa(port)
}

// tokenSuffix trims a Tracker token down to its last 4 characters for
// safe logging, mirroring runtime's own unexported helper of the same
// name.
func tokenSuffix(token string) string {
	if len(token) <= 4 {
		return token
	}
	return token[len(token)-4:]
}

// onConfigDiff builds the Watcher callback of §4.8: swap cfg in place,
// then reconcile the transport Registry against the added/modified/
// removed repositories. Direct-mode transports register their mux
// route synchronously in EnsureForToken, so a hot-added token serves
// webhooks immediately; a hot-added token under proxy mode only starts
// streaming on the next process restart, since Transport.Run's dial
// loop is launched once at Runtime.Run startup — a known limitation,
// not worth a restart-the-world mechanism for a worker this size.
func onConfigDiff(cfg *config.Config, transports *transport.Registry) func(config.Diff, *config.Config) {
	return func(diff config.Diff, newCfg *config.Config) {
		cfg.ReplaceFrom(newCfg)

		for _, r := range diff.Added {
			slog.Info("config.reload.repository_added", "repo_id", r.ID)
			if _, err := transports.EnsureForToken(r.TrackerToken); err != nil {
				slog.Error("config.reload.transport_ensure_failed", "repo_id", r.ID, "error", err)
			}
		}

		for _, m := range diff.Modified {
			if m.ActiveFlipped() {
				slog.Info("config.reload.active_flipped", "repo_id", m.Current.ID, "active", m.Current.IsActive)
			}
			if !m.TokenChanged() {
				continue
			}
			slog.Info("config.reload.token_changed", "repo_id", m.Current.ID)
			if len(cfg.ByToken(m.Previous.TrackerToken)) == 0 {
				if err := transports.Forget(m.Previous.TrackerToken); err != nil {
					slog.Warn("config.reload.transport_forget_failed", "repo_id", m.Current.ID, "error", err)
				}
			}
			if _, err := transports.EnsureForToken(m.Current.TrackerToken); err != nil {
				slog.Error("config.reload.transport_ensure_failed", "repo_id", m.Current.ID, "error", err)
			}
		}

		for _, r := range diff.Removed {
			slog.Info("config.reload.repository_removed", "repo_id", r.ID)
			if len(cfg.ByToken(r.TrackerToken)) == 0 {
				if err := transports.Forget(r.TrackerToken); err != nil {
					slog.Warn("config.reload.transport_forget_failed", "repo_id", r.ID, "error", err)
				}
			}
		}
	}
}
