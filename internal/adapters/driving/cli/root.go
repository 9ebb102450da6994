// Package cli provides the storekb command-line interface.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/storekb/internal/config"
	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
	"github.com/custodia-labs/storekb/internal/core/ports/driving"
	"github.com/custodia-labs/storekb/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

// annotationOffline marks commands that run without the service graph.
const annotationOffline = "storekb/offline"

// Follower runs incremental syncs for change notifications.
type Follower interface {
	Follow(ctx context.Context, changes <-chan domain.ContentType, retry time.Duration) error
}

// Services holds the ports commands run against.
type Services struct {
	Config    *config.Config
	Sync      driving.SyncOrchestrator
	Retrieval driving.RetrievalService
	Answer    driving.AnswerService
	Scheduler driving.Scheduler
	Follower  Follower
	// Watcher is nil when the content source cannot push changes.
	Watcher driven.ContentWatcher
}

// Bootstrap builds the service graph from a config file path. The returned
// func releases everything the graph opened.
type Bootstrap func(ctx context.Context, configPath string) (*Services, func() error, error)

var (
	appConfig        *config.Config
	syncOrchestrator driving.SyncOrchestrator
	retrievalService driving.RetrievalService
	answerService    driving.AnswerService
	scheduler        driving.Scheduler
	follower         Follower
	contentWatcher   driven.ContentWatcher

	bootstrap     Bootstrap
	closeServices func() error
)

var (
	configPath string
	verbose    bool
	jsonLogs   bool
)

var rootCmd = &cobra.Command{
	Use:   "storekb",
	Short: "Keep a store's knowledge base in sync and answer questions from it",
	Long: `storekb syncs catalog and content items into a vector index and answers
shopper questions with retrieval-augmented generation.

Run 'storekb config init' to write a starting configuration, then
'storekb sync full' to build the index.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.storekb/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "log-json", false, "write logs as JSON")
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// SetBootstrap registers the builder used to create services on demand.
func SetBootstrap(b Bootstrap) {
	bootstrap = b
}

// SetServices injects ready-made services, bypassing Bootstrap.
func SetServices(s *Services) {
	if s == nil {
		return
	}
	appConfig = s.Config
	syncOrchestrator = s.Sync
	retrievalService = s.Retrieval
	answerService = s.Answer
	scheduler = s.Scheduler
	follower = s.Follower
	contentWatcher = s.Watcher
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logger.Sync()
	defer release()

	return rootCmd.ExecuteContext(ctx)
}

func setup(cmd *cobra.Command, _ []string) error {
	logger.SetVerbose(verbose)
	logger.SetJSON(jsonLogs || cmd.Annotations[annotationJSONLogs] != "")

	if cmd.Annotations[annotationOffline] != "" || bootstrap == nil || closeServices != nil {
		return nil
	}

	svc, closer, err := bootstrap(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	SetServices(svc)
	closeServices = closer
	return nil
}

func release() {
	if closeServices == nil {
		return
	}
	if err := closeServices(); err != nil {
		logger.Warn("closing services: %v", err)
	}
	closeServices = nil
}

// retrievalDefaults returns the configured max chunks and min similarity.
func retrievalDefaults() (int, float64) {
	if appConfig == nil {
		d := config.Default()
		return d.Retrieval.MaxChunks, d.Retrieval.MinSimilarity
	}
	return appConfig.Retrieval.MaxChunks, appConfig.Retrieval.MinSimilarity
}

// contentTypes returns the configured content types.
func contentTypes() []domain.ContentType {
	if appConfig == nil {
		return config.Default().Content.ContentTypes()
	}
	return appConfig.Content.ContentTypes()
}
