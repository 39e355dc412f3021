package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
	"github.com/shelfopds/shelfopds/pkg/collation"
	"github.com/shelfopds/shelfopds/pkg/config"
	"github.com/shelfopds/shelfopds/pkg/database"
	"github.com/shelfopds/shelfopds/pkg/genres"
	"github.com/shelfopds/shelfopds/pkg/ingest"
	"github.com/shelfopds/shelfopds/pkg/library"
	"github.com/shelfopds/shelfopds/pkg/server"
	"github.com/shelfopds/shelfopds/pkg/store"
	"github.com/shelfopds/shelfopds/pkg/version"
	"github.com/shelfopds/shelfopds/pkg/watcher"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log := logger.New()
	ctx := log.WithContext(context.Background())

	log.Info("starting shelfopds", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	if err := initCacheDir(cfg.CacheDir); err != nil {
		log.Err(err).Fatal("cache directory error")
	}
	log.Info("cache directory initialized", logger.Data{"path": cfg.CacheDir})

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	st := store.New(db, cfg.DatabaseMaxRetries)
	if err := st.Initialize(ctx); err != nil {
		log.Err(err).Fatal("store initialization error")
	}

	taxonomy, err := genres.LoadFile(cfg.GenresFilePath)
	if err != nil {
		log.Err(err).Fatal("genres error")
	}
	if n, err := st.SyncGenres(ctx, taxonomy); err != nil {
		log.Err(err).Warn("failed to sync genres")
	} else if n > 0 {
		log.Info("genres synced", logger.Data{"count": n})
	}

	order, err := collation.ParseOrder(cfg.SortOrder)
	if err != nil {
		log.Err(err).Fatal("config error")
	}
	index := library.New(st, library.WithCollator(collation.New(order)))
	if err := index.Load(ctx); err != nil {
		log.Err(err).Fatal("library load error")
	}
	log.Info("library loaded", logger.Data{"books": index.Count()})

	pipeline := ingest.New(index, ingest.Options{
		BatchSize:       cfg.BatchSize,
		WatchBatchSize:  cfg.WatchBatchSize,
		WatchFlushDelay: cfg.WatchFlushDelay,
		MaxFileSize:     cfg.MaxFileSize,
	})
	pipeline.Start()

	srv, err := server.New(cfg, server.Dependencies{
		Index:    index,
		Taxonomy: taxonomy,
		Pipeline: pipeline,
		Store:    st,
	})
	if err != nil {
		log.Err(err).Fatal("server error")
	}

	graceful := signals.Setup()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		lc := net.ListenConfig{}
		listener, err := lc.Listen(gctx, "tcp", srv.Addr)
		if err != nil {
			return errors.Wrap(err, "failed to bind port")
		}
		log.Info("server started", logger.Data{"addr": listener.Addr().String()})

		err = srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.WithStack(err)
		}
		log.Info("server stopped")
		return nil
	})

	var w *watcher.Watcher
	consumed := make(chan struct{})
	if cfg.WatchEnabled {
		w, err = watcher.New(log, watcher.Options{MaxFileSize: cfg.MaxFileSize})
		if err != nil {
			log.Err(err).Fatal("watcher error")
		}
		if err := w.Watch(cfg.LibraryPath); err != nil {
			log.Err(err).Fatal("watcher error")
		}
		g.Go(func() error {
			return w.Start(gctx)
		})
		g.Go(func() error {
			defer close(consumed)
			pipeline.Consume(gctx, w.Events())
			return nil
		})
		log.Info("watcher started", logger.Data{"path": cfg.LibraryPath})
	} else {
		close(consumed)
	}

	if cfg.ScanOnStartup {
		if err := pipeline.StartScan(ctx, cfg.LibraryPath); err != nil {
			log.Err(err).Error("failed to start scan")
		}
	}

	g.Go(func() error {
		select {
		case <-graceful:
			log.Info("starting graceful shutdown")
		case <-gctx.Done():
			log.Warn("component stopped, shutting down")
		}

		shutdownCtx, cancelShutdown := context.WithTimeout(ctx, shutdownTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Err(err).Error("server shutdown error")
		}
		log.Info("server shutdown")

		if w != nil {
			if err := w.Stop(); err != nil {
				log.Err(err).Error("watcher stop error")
			}
			log.Info("watcher stopped")
		}
		cancel()
		<-consumed

		pipeline.Shutdown()
		log.Info("pipeline shutdown", logger.Data{"books": index.Count()})
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Err(err).Error("component error")
	}

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")
}

// initCacheDir creates the cache directories and verifies write permissions.
func initCacheDir(dir string) error {
	thumbnails := filepath.Join(dir, "thumbnails")
	if err := os.MkdirAll(thumbnails, 0755); err != nil {
		return errors.Wrapf(err, "failed to create cache directory: %s", thumbnails)
	}

	// Verify write permissions by creating and removing a temp file
	testFile := filepath.Join(dir, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return errors.Wrapf(err, "cache directory is not writable: %s", dir)
	}
	f.Close()

	if err := os.Remove(testFile); err != nil {
		return errors.Wrapf(err, "failed to clean up write test file: %s", testFile)
	}

	return nil
}
