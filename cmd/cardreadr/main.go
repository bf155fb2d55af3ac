// Command cardreadr serves feed entries one card at a time and learns what
// the reader likes from their votes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/browser"

	"github.com/thomaskoefod/cardreadr/internal/api"
	"github.com/thomaskoefod/cardreadr/internal/client"
	"github.com/thomaskoefod/cardreadr/internal/config"
	"github.com/thomaskoefod/cardreadr/internal/database"
	"github.com/thomaskoefod/cardreadr/internal/feed"
	"github.com/thomaskoefod/cardreadr/internal/logging"
	"github.com/thomaskoefod/cardreadr/internal/queue"
	"github.com/thomaskoefod/cardreadr/internal/raindrop"
	"github.com/thomaskoefod/cardreadr/internal/recommend"
	"github.com/thomaskoefod/cardreadr/internal/scheduler"
	"github.com/thomaskoefod/cardreadr/internal/scoring"
	"github.com/thomaskoefod/cardreadr/internal/tracking"
	"github.com/thomaskoefod/cardreadr/internal/tui"
	"github.com/thomaskoefod/cardreadr/pkg/models"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath(), "path to config file")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch args[0] {
	case "serve":
		setupLogging(cfg.Log)
		err = runServe(cfg)
	case "read":
		logCfg := cfg.Log
		logCfg.File = cfg.UI.LogFile
		setupLogging(logCfg)
		err = runRead(cfg)
	case "refresh":
		setupLogging(cfg.Log)
		err = withDB(cfg, func(ctx context.Context, db *database.DB) error {
			fetcher := feed.NewFetcher(db)
			if _, err := fetcher.SyncFeeds(ctx, configFeeds(cfg)); err != nil {
				return err
			}
			res, err := fetcher.FetchAllFeeds(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Refreshed %d feeds (%d failed), %d new entries\n", res.Feeds, res.Failed, res.Entries)
			return nil
		})
	case "add-feed":
		if len(args) < 2 {
			fmt.Println("Usage: cardreadr add-feed <url> [name]")
			os.Exit(1)
		}
		setupLogging(cfg.Log)
		name := ""
		if len(args) > 2 {
			name = args[2]
		}
		err = withDB(cfg, func(ctx context.Context, db *database.DB) error {
			f, err := feed.NewFetcher(db).Subscribe(ctx, feed.DropUtmMarkers(args[1]), name)
			if errors.Is(err, database.ErrFeedExists) {
				fmt.Println("Already subscribed to", args[1])
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("Added feed %q (%s)\n", f.Name, f.URL)
			return nil
		})
	case "import-opml":
		if len(args) < 2 {
			fmt.Println("Usage: cardreadr import-opml <file>")
			os.Exit(1)
		}
		setupLogging(cfg.Log)
		err = withDB(cfg, func(ctx context.Context, db *database.DB) error {
			file, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("opening OPML file: %w", err)
			}
			defer file.Close()

			res, err := feed.NewFetcher(db).ImportOPML(ctx, file)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d feeds, %d already subscribed\n", res.Added, res.Skipped)
			return nil
		})
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		logging.Error().Err(err).Str("command", args[0]).Msg("Command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: cardreadr [-config path] <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Run the recommendation API and scheduled feed refresh")
	fmt.Println("  read                   Open the card reader against client.base_url")
	fmt.Println("  refresh                Fetch every enabled feed once")
	fmt.Println("  add-feed <url> [name]  Subscribe to a feed")
	fmt.Println("  import-opml <file>     Subscribe to every feed in an OPML file")
}

// loadConfig reads path, writing the defaults there on first run.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		if err := config.Save(cfg, path); err != nil {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "Wrote default config to %s\n", path)
		return cfg, nil
	}
	return cfg, err
}

func setupLogging(cfg logging.Config) {
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err == nil {
			if f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
				cfg.Output = f
				cfg.Format = "json"
			}
		}
	}
	logging.Init(cfg)
}

func withDB(cfg *config.Config, fn func(ctx context.Context, db *database.DB) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(ctx, db)
}

func configFeeds(cfg *config.Config) []models.Feed {
	feeds := make([]models.Feed, 0, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		feeds = append(feeds, models.Feed{URL: f.URL, Name: f.Name})
	}
	return feeds
}

func defaultScorer(cfg *config.Config, db *database.DB) (scoring.Scorer, error) {
	switch cfg.Scoring.Default {
	case "interests":
		ollama := scoring.NewOllamaClient(cfg.Ollama.Host, cfg.Ollama.Model)
		return scoring.NewInterestScorer(ollama, db), nil
	case "heuristic", "":
		halfLife, err := cfg.Scoring.GetHalfLife()
		if err != nil {
			return nil, fmt.Errorf("parsing scoring.half_life: %w", err)
		}
		return scoring.NewHeuristicScorer(halfLife), nil
	default:
		return nil, fmt.Errorf("unknown scoring.default %q", cfg.Scoring.Default)
	}
}

func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	fetcher := feed.NewFetcher(db)
	if added, err := fetcher.SyncFeeds(ctx, configFeeds(cfg)); err != nil {
		return err
	} else if added > 0 {
		logging.Info().Int("added", added).Msg("Subscribed to configured feeds")
	}
	if err := db.SyncInterests(ctx, cfg.Interests); err != nil {
		return err
	}

	fallback, err := defaultScorer(cfg, db)
	if err != nil {
		return err
	}
	registry := scoring.NewRegistry(fallback)
	manager := scoring.NewModelManager(db, cfg.Scoring.ModelsDir, registry)
	if err := manager.Restore(ctx); err != nil {
		return err
	}

	var rng recommend.Rand
	if cfg.Selection.Seed != 0 {
		rng = rand.New(rand.NewSource(cfg.Selection.Seed)) //nolint:gosec // reproducible runs
	}
	selector := recommend.NewSelector(db, registry, recommend.SelectorConfig{
		PExploit:          cfg.Selection.PExploit,
		CandidateLimit:    cfg.Selection.CandidateLimit,
		RepeatFeedPenalty: cfg.Selection.RepeatFeedPenalty,
	}, rng)
	dispatcher := recommend.NewDispatcher(selector, cfg.Selection.MaxBatch)

	handler := api.NewHandler(db, dispatcher, tracking.NewRecorder(db), registry, manager)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(handler, cfg.Server.RequestsPerMinute),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched, err := scheduler.New(cfg.Refresh.Timezone)
	if err != nil {
		return err
	}
	refresh := func(ctx context.Context) error {
		_, err := fetcher.FetchAllFeeds(ctx)
		return err
	}
	if err := sched.AddJob("refresh-feeds", cfg.Refresh.Schedule, refresh); err != nil {
		return err
	}
	sched.Start()
	go func() {
		if err := sched.RunNow(ctx, "refresh-feeds", refresh); err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn().Err(err).Msg("Initial feed refresh failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logging.Info().
			Str("addr", cfg.Server.Addr).
			Str("scorer", registry.Name()).
			Float64("p_exploit", cfg.Selection.PExploit).
			Msg("Server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
	}

	cancel()
	<-sched.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	logging.Info().Msg("Server stopped")
	return nil
}

func runRead(cfg *config.Config) error {
	timeout, err := cfg.Client.GetTimeout()
	if err != nil {
		return fmt.Errorf("parsing client.timeout: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiClient := client.New(cfg.Client.BaseURL, timeout)
	q := queue.New(apiClient, queue.Config{BatchSize: cfg.Queue.BatchSize, MinSize: cfg.Queue.MinSize})
	q.Start(ctx)

	browser.Stdout = io.Discard
	browser.Stderr = io.Discard

	model := tui.New(apiClient, q, raindrop.NewClient(cfg.Raindrop.APIToken))
	if _, err := tea.NewProgram(model).Run(); err != nil {
		return fmt.Errorf("running card reader: %w", err)
	}

	cancel()
	q.Wait()
	apiClient.Wait()
	return nil
}
