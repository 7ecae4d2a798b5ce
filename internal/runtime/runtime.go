package runtime

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/nextlevelbuilder/agentworker/internal/config"
	"github.com/nextlevelbuilder/agentworker/internal/dedup"
	"github.com/nextlevelbuilder/agentworker/internal/orchestrator"
	"github.com/nextlevelbuilder/agentworker/internal/sessionindex"
	"github.com/nextlevelbuilder/agentworker/internal/sessionstore"
	"github.com/nextlevelbuilder/agentworker/internal/supervisor"
	"github.com/nextlevelbuilder/agentworker/internal/transport"
)

// forcedExitCap is the hard shutdown deadline named in §5 ("A 30s cap
// forces exit if any step hangs"), matching cmd/gateway.go's
// signal-goroutine shape (cancel → bounded wait → exit).
const forcedExitCap = 30 * time.Second

// dedupSweepCron and unrespondedSweepCron drive both sweepers from a
// cron expression (rather than a fixed time.Duration) via
// internal/cronsweep, so the "at most once per minute" cadence named
// throughout §4 is operator-adjustable without a code change.
const (
	dedupSweepCron       = "* * * * *"
	unrespondedSweepCron = "* * * * *"
)

// Runtime is C11, the Supervisor Runtime: it owns the process's
// signal handling and the shutdown ordering of every other component,
// §5 / §7.5. Grounded on cmd/gateway.go's runGateway() signal
// goroutine (signal.Notify + ordered stop of channels/cron/heartbeat/
// sandbox before cancel()), generalized from the teacher's channel
// set to this worker's transport/supervisor/index/watcher set.
type Runtime struct {
	Config      *config.Config
	Watcher     *config.Watcher
	Index       *sessionindex.Index
	Dedup       *dedup.Deduplicator
	Unresponded *UnrespondedTracker
	Transports  *transport.Registry
	Sessions    *sessionstore.Store
	Supervisor  *supervisor.Supervisor
	Orchestrator *orchestrator.Orchestrator
	// Persist is any orchestrator.Persister — the plain JSON Store or a
	// DualStore pairing it with the optional SQLiteStore; Runtime only
	// ever calls Save on shutdown, so it needs nothing narrower.
	Persist orchestrator.Persister
	Mux     *mux.Router
	Addr        string

	httpServer *http.Server
}

// Run starts every background component, blocks until SIGINT/SIGTERM,
// then performs the ordered shutdown of §5. It returns the error (if
// any) from the HTTP server's ListenAndServe, or nil on a clean
// shutdown.
func (rt *Runtime) Run(parentCtx context.Context) error {
	watcherCtx, watcherCancel := context.WithCancel(parentCtx)
	sweepCtx, sweepCancel := context.WithCancel(parentCtx)
	transportCtx, transportCancel := context.WithCancel(parentCtx)
	defer watcherCancel()
	defer sweepCancel()
	defer transportCancel()

	if rt.Watcher != nil {
		go func() {
			if err := rt.Watcher.Run(watcherCtx); err != nil && watcherCtx.Err() == nil {
				slog.Error("runtime.config_watcher.error", "error", err)
			}
		}()
	}

	rt.Index.Start(sweepCtx)
	go rt.Dedup.Run(sweepCtx, dedupSweepCron)
	go rt.Unresponded.Run(sweepCtx, unrespondedSweepCron)

	for _, token := range rt.Transports.Tokens() {
		rt.runTransportForToken(transportCtx, token)
	}

	rt.httpServer = &http.Server{Addr: rt.Addr, Handler: rt.Mux}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := rt.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case sig := <-sigCh:
		slog.Info("runtime.shutdown.initiated", "signal", sig.String())
		rt.shutdown(watcherCancel, sweepCancel, transportCancel)
		return nil
	case err := <-serverErrCh:
		slog.Error("runtime.http_server.failed", "error", err)
		rt.shutdown(watcherCancel, sweepCancel, transportCancel)
		return err
	}
}

// runTransportForToken launches Transport.Run in its own goroutine,
// logging (not panicking) on a non-cancellation failure — a single
// dead webhook connection must never take down the whole worker.
func (rt *Runtime) runTransportForToken(ctx context.Context, token string) {
	t, err := rt.Transports.EnsureForToken(token)
	if err != nil {
		slog.Error("runtime.transport.ensure_failed", "token_suffix", tokenSuffix(token), "error", err)
		return
	}
	go func() {
		if err := t.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("runtime.transport.run_failed", "token_suffix", tokenSuffix(token), "error", err)
		}
	}()
}

func tokenSuffix(token string) string {
	if len(token) <= 4 {
		return token
	}
	return token[len(token)-4:]
}

// shutdown performs the ordered stop of §5: config watcher, TTL
// sweepers, dedup/unresponded trackers, every Supervisor, every
// Transport, then the shared HTTP server — capped at forcedExitCap.
func (rt *Runtime) shutdown(watcherCancel, sweepCancel, transportCancel context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		defer close(done)

		watcherCancel()
		sweepCancel()
		rt.Index.Shutdown()

		rt.stopAllSupervisors()

		for _, token := range rt.Transports.Tokens() {
			if err := rt.Transports.Forget(token); err != nil {
				slog.Warn("runtime.shutdown.transport_close_failed", "token_suffix", tokenSuffix(token), "error", err)
			}
		}
		transportCancel()

		if rt.Persist != nil {
			if err := rt.Persist.Save(rt.Sessions); err != nil {
				slog.Warn("runtime.shutdown.persist_failed", "error", err)
			}
		}

		if rt.httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), forcedExitCap)
			defer cancel()
			if err := rt.httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Warn("runtime.shutdown.http_server_failed", "error", err)
			}
		}
	}()

	select {
	case <-done:
		slog.Info("runtime.shutdown.complete")
	case <-time.After(forcedExitCap):
		slog.Warn("runtime.shutdown.forced_exit", "cap", forcedExitCap.String())
	}
}

// stopAllSupervisors stops every active session's Assistant run across
// every repository partition — a best-effort cooperative stop; a
// session that fails to stop in time is abandoned to the forced-exit
// cap rather than blocking the rest of shutdown.
func (rt *Runtime) stopAllSupervisors() {
	ctx, cancel := context.WithTimeout(context.Background(), forcedExitCap)
	defer cancel()

	for _, repoID := range rt.Sessions.RepositoryIDs() {
		sessions, _ := rt.Sessions.Snapshot(repoID)
		for _, sess := range sessions {
			if sess.Status != sessionstore.StatusActive {
				continue
			}
			if err := rt.Supervisor.Stop(ctx, sess.ID, sess.AssistantSessionID); err != nil {
				slog.Warn("runtime.shutdown.supervisor_stop_failed", "session_id", sess.ID, "error", err)
			}
		}
	}
}
