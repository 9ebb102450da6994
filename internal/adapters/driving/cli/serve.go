package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/storekb/internal/adapters/driving/mcp"
	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driving"
	"github.com/custodia-labs/storekb/internal/logger"
	"github.com/custodia-labs/storekb/internal/metrics"
)

// annotationJSONLogs switches a command to JSON logs before services are built.
const annotationJSONLogs = "storekb/json-logs"

var (
	serveAddr        string
	serveWatch       bool
	serveNoScheduler bool
	serveMCP         bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the read-only ops endpoints",
	Long: `Runs the periodic full sync, incremental sync and maintenance tasks and
serves read-only operational endpoints:

  /metrics  Prometheus metrics
  /status   current sync state and index health as JSON
  /mcp      MCP over streamable HTTP (with --mcp)

With --watch, changes reported by the content source trigger an incremental
sync of the affected content type.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationJSONLogs: "true"},
	RunE:        runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "sync content types as the source reports changes")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "do not run scheduled tasks")
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "also serve MCP on /mcp")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if syncOrchestrator == nil {
		return errSyncNotReady
	}
	if serveWatch && (contentWatcher == nil || follower == nil) {
		return errors.New("the configured content source cannot watch for changes")
	}

	addr := serveAddr
	if addr == "" && appConfig != nil {
		addr = appConfig.Server.Addr
	}
	if addr == "" {
		return errors.New("no listen address: set --addr or server.addr")
	}

	handler, err := newServeMux(syncOrchestrator, serveMCP)
	if err != nil {
		return err
	}

	if h, err := syncOrchestrator.Health(cmd.Context()); err == nil {
		metrics.UpdateIndexHealth(h)
	}

	g, ctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error {
		return listen(ctx, addr, handler)
	})

	if scheduler != nil && !serveNoScheduler {
		g.Go(func() error {
			err := scheduler.Start(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if serveWatch {
		g.Go(func() error {
			changes, err := contentWatcher.Watch(ctx)
			if err != nil {
				return fmt.Errorf("watching content: %w", err)
			}
			return follower.Follow(ctx, changes, watchContentionRetry)
		})
	}

	cmd.Printf("Serving on http://%s (metrics, status)\n", addr)
	logger.Info("serve started: addr=%s watch=%t scheduler=%t", addr, serveWatch, scheduler != nil && !serveNoScheduler)
	return g.Wait()
}

// watchContentionRetry is how long a watched change waits when another
// operation holds the sync lock.
const watchContentionRetry = 30 * time.Second

// newServeMux builds the read-only ops handler.
func newServeMux(orch driving.SyncOrchestrator, withMCP bool) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /status", statusHandler(orch))

	if withMCP {
		server, err := mcp.NewServer(mcpPorts())
		if err != nil {
			return nil, err
		}
		mux.Handle("/mcp", server.Handler())
	}
	return mux, nil
}

type statusResponse struct {
	Sync  *domain.SyncState   `json:"sync"`
	Index *domain.IndexHealth `json:"index"`
}

func statusHandler(orch driving.SyncOrchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := orch.Status(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		health, err := orch.Health(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		metrics.UpdateIndexHealth(health)

		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(statusResponse{Sync: state, Index: health}); err != nil {
			logger.Warn("writing status response: %v", err)
		}
	}
}

// listen serves handler until ctx is done.
func listen(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
