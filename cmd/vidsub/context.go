package main

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MimeLyc/vidsub/internal/config"
	"github.com/MimeLyc/vidsub/internal/media"
	"github.com/MimeLyc/vidsub/internal/persistence"
	"github.com/MimeLyc/vidsub/internal/pipeline"
	"github.com/MimeLyc/vidsub/internal/transcript"
	"github.com/MimeLyc/vidsub/internal/translator"
	"github.com/MimeLyc/vidsub/pkg/log"
)

type globalFlags struct {
	envFile  string
	dataDir  string
	logLevel string
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

// ensureConfig loads the env file, the environment and the runtime settings
// file, in that order of precedence from lowest to highest.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		if err := config.LoadDotEnv(strings.TrimSpace(c.flags.envFile)); err != nil {
			c.configErr = err
			return
		}

		opts := []config.Option{config.WithDataDir(c.flags.dataDir)}
		cfg, err := config.NewFromEnv(opts...)
		if err != nil {
			c.configErr = err
			return
		}

		settings, err := config.LoadRuntimeSettingsFile(cfg.RuntimeSettingsFilePath())
		switch {
		case err == nil:
			cfg, err = config.NewFromEnv(append(opts, config.WithRuntimeSettings(settings))...)
			if err != nil {
				c.configErr = err
				return
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			log.Warn("Ignoring runtime settings file: %v", err)
		}

		level := cfg.System.LogLevel
		if c.flags.logLevel != "" {
			level = c.flags.logLevel
		}
		log.InitLogger(log.ParseLevel(level))
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) openStore() (*persistence.SQLiteStore, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return persistence.NewSQLiteStore(cfg.DBPath())
}

// translationCache picks the cache backend named by TRANSLATE_CACHE.
func (c *commandContext) translationCache(store *persistence.SQLiteStore) translator.Cache {
	if c.config.Translate.Cache == config.CacheSQLite {
		return store
	}
	return translator.NewMemoryCache()
}

// newGateway builds a gateway over endpoints. It returns nil, nil when no
// endpoint is configured.
func (c *commandContext) newGateway(endpoints []string, cache translator.Cache) (*translator.Gateway, error) {
	if len(endpoints) == 0 {
		return nil, nil
	}
	gwCfg := c.config.GatewayConfig()
	gwCfg.Endpoints = endpoints
	return translator.NewGateway(gwCfg, translator.WithCache(cache))
}

// newService wires the pipeline over store, with translation through cache
// when endpoints exist.
func (c *commandContext) newService(store *persistence.SQLiteStore, cache translator.Cache) (*pipeline.Service, error) {
	svc := pipeline.NewService(transcript.NewCache(store))
	gw, err := c.newGateway(c.config.Translate.Endpoints, cache)
	if err != nil {
		return nil, err
	}
	if gw != nil {
		svc.SetTranslator(gw)
	}
	return svc, nil
}

func (c *commandContext) newEngine() *media.Engine {
	cfg := c.config
	return media.NewEngine(
		media.WithBinaries(cfg.Extract.FFmpegPath, cfg.Extract.FFprobePath),
		media.WithDefaultOptions(cfg.MediaOptions()),
		media.WithTempDir(filepath.Join(cfg.System.DataDir, "tmp")),
	)
}

// settingsApplier returns the hook run after a runtime settings update. Rebuilt
// gateways reuse cache so earlier translations survive the swap.
func (c *commandContext) settingsApplier(svc *pipeline.Service, cache translator.Cache, maintenance *pipeline.Maintenance) func(config.RuntimeSettings) error {
	return func(next config.RuntimeSettings) error {
		endpoints := next.TranslateEndpoints
		if len(endpoints) == 0 {
			endpoints = c.config.Translate.Endpoints
		}
		gw, err := c.newGateway(endpoints, cache)
		if err != nil {
			return err
		}
		if gw != nil {
			svc.SetTranslator(gw)
		} else {
			svc.SetTranslator(nil)
		}
		return maintenance.Reschedule(next.MaintenanceCron)
	}
}
