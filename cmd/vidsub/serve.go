package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/vidsub/internal/config"
	"github.com/MimeLyc/vidsub/internal/httpapi"
	"github.com/MimeLyc/vidsub/internal/jobs"
	"github.com/MimeLyc/vidsub/internal/pipeline"
	"github.com/MimeLyc/vidsub/pkg/log"
)

type scheduler interface {
	Start()
	Stop()
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, extraction workers and maintenance schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			if addr != "" {
				cfg.HTTP.Addr = addr
			}

			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			tcache := ctx.translationCache(store)
			svc, err := ctx.newService(store, tcache)
			if err != nil {
				return err
			}
			if svc.Translator() == nil {
				log.Warn("TRANSLATE_ENDPOINTS is empty; cue translation is disabled")
			}

			engine := ctx.newEngine()
			defer engine.Cleanup()

			queue := jobs.NewQueue(cfg.Extract.Workers, store)
			queue.Start(pipeline.NewExtractionExecutor(engine, cfg.MediaOptions()))
			defer queue.Stop()

			maintenance, err := pipeline.NewMaintenance(cfg.Maintenance.CronExpr, pipeline.PurgerFunc(
				func(purgeCtx context.Context) (int64, error) {
					if p, ok := svc.Translator().(pipeline.Purger); ok {
						return p.PurgeStale(purgeCtx)
					}
					return 0, nil
				}))
			if err != nil {
				return err
			}

			settings, err := config.NewRuntimeSettingsStore(cfg.RuntimeSettingsFilePath(), cfg.RuntimeSettings())
			if err != nil {
				return err
			}
			settings.OnUpdate(func(next config.RuntimeSettings) {
				log.Info("Runtime settings written to %s (%d endpoints, cron %q)",
					settings.Path(), len(next.TranslateEndpoints), next.MaintenanceCron)
			})
			apply := ctx.settingsApplier(svc, tcache, maintenance)

			server := httpapi.NewServer(svc, queue,
				httpapi.WithDatabase(store),
				httpapi.WithRuntimeSettingsStore(settings),
				httpapi.WithRuntimeSettingsApplier(apply),
				httpapi.WithMaintenance(maintenance),
				httpapi.WithCueDefaults(cfg.SegmentationConfig(), cfg.Translate.DisplayLanguage),
			)

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWithComponents(runCtx, cfg.HTTP.Addr, maintenance, server)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides HTTP_ADDR)")
	return cmd
}

// runWithComponents starts the scheduler and the HTTP server and blocks
// until ctx ends or the server fails.
func runWithComponents(ctx context.Context, addr string, sched scheduler, httpSrv httpServer) error {
	sched.Start()
	defer sched.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP API listening on %s", addr)
		errCh <- httpSrv.ListenAndServe(addr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
