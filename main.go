// RSS Monitor polls RSS/Atom feeds and keeps the entries that mention any of
// the tracked keywords, in any grammatical form.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bryan-buckman/rssmonitor/internal/config"
	"github.com/bryan-buckman/rssmonitor/internal/database"
	"github.com/bryan-buckman/rssmonitor/internal/ingest"
	"github.com/bryan-buckman/rssmonitor/internal/logger"
	"github.com/bryan-buckman/rssmonitor/internal/match"
	"github.com/bryan-buckman/rssmonitor/internal/model"
	"github.com/bryan-buckman/rssmonitor/internal/morph"
	"github.com/bryan-buckman/rssmonitor/internal/rss"
	"github.com/bryan-buckman/rssmonitor/internal/server"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(os.Stderr, cfg.LoggerFormat, cfg.LogLevel))

	if err := run(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	db, err := database.Open(ctx, cfg.Database, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	defer db.Close()
	slog.Info("database ready", "type", db.DatabaseType())

	if cfg.SeedPath != "" {
		if err := seed(ctx, db, cfg.SeedPath); err != nil {
			return err
		}
	}

	var extra *morph.Lexicon
	if cfg.LexiconPath != "" {
		if extra, err = morph.LoadLexicon(cfg.LexiconPath); err != nil {
			return err
		}
		slog.Info("lexicon loaded", "path", cfg.LexiconPath, "forms", extra.Len())
	}
	lemmatizer, err := morph.NewRussian(extra, cfg.LemmaCacheSize)
	if err != nil {
		return fmt.Errorf("error building lemmatizer: %w", err)
	}

	fetcher := rss.NewFetcher(rss.FetcherConfig{
		Timeout:     cfg.FetchTimeout,
		Retries:     cfg.FetchRetries,
		DomainDelay: cfg.DomainDelay,
		UserAgent:   cfg.UserAgent,
	})
	runner := ingest.NewRunner(db, fetcher, match.New(lemmatizer), ingest.WithConcurrency(cfg.FetchConcurrency))
	poller := rss.NewPoller(runner, db, cfg.PassTimeout)

	s, err := server.New(cfg.Addr, db, poller, server.WithLemmaStats(lemmatizer.Stats))
	if err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.Start(); err != nil {
			return fmt.Errorf("error listening: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Block until the group is canceled
		<-gCtx.Done()

		poller.Stop()

		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}
		return nil
	})

	poller.Start()

	if err := g.Wait(); err != nil {
		return fmt.Errorf("error running: %w", err)
	}
	slog.Info("shut down")
	return nil
}

// seed registers the feeds and keywords listed in a seed file. Entries that
// are already registered are left alone.
func seed(ctx context.Context, db database.Store, path string) error {
	s, err := config.LoadSeed(path)
	if err != nil {
		return err
	}

	added := 0
	for _, u := range s.Feeds {
		_, err := db.AddFeed(ctx, u)
		if errors.Is(err, model.ErrDuplicate) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed feed %q: %w", u, err)
		}
		added++
	}
	for _, kw := range s.Keywords {
		_, err := db.AddKeyword(ctx, kw)
		if errors.Is(err, model.ErrDuplicate) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed keyword %q: %w", kw, err)
		}
		added++
	}
	slog.Info("seed applied", "path", path, "added", added)
	return nil
}
