package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"canon/internal/canonerr"
	"canon/internal/config"
	"canon/internal/logging"
	"canon/internal/store"
)

// commandContext lazily opens the config and store once per invocation and
// is threaded through every command's RunE closure, mirroring the teacher's
// cmd/spindle/context.go.
type commandContext struct {
	dbFlag     *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	storeOnce sync.Once
	store     *store.Store
	storeErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(dbFlag, configFlag *string) *commandContext {
	return &commandContext{dbFlag: dbFlag, configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		var dbOverride string
		if c.dbFlag != nil {
			dbOverride = strings.TrimSpace(*c.dbFlag)
		}
		cfg, _, _, err := config.Load(path, dbOverride)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, _ := c.ensureConfig()
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			logger = logging.NewNop()
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) ensureStore(ctx context.Context) (*store.Store, error) {
	c.storeOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.storeErr = err
			return
		}
		st, err := store.Open(cfg.Store.Path, time.Duration(cfg.Store.BusyTimeoutMillis)*time.Millisecond)
		if err != nil {
			c.storeErr = canonerr.Wrap(canonerr.ErrStoreLocked, "cmd", "open_store", cfg.Store.Path, err)
			return
		}
		c.store = st
	})
	return c.store, c.storeErr
}

func (c *commandContext) close() {
	if c.store != nil {
		_ = c.store.Close()
	}
}

// withStore opens the store (if not already open) and runs fn against it,
// tagging the context with a fresh request id via canonerr.WithRequestID so
// logging.WithContext can correlate one invocation's logs.
func (c *commandContext) withStore(cmd *cobra.Command, fn func(ctx context.Context, st *store.Store, logger *slog.Logger) error) error {
	ctx := canonerr.WithRequestID(cmd.Context(), uuid.NewString())
	st, err := c.ensureStore(ctx)
	if err != nil {
		return err
	}
	logger := logging.WithContext(ctx, c.ensureLogger())
	return fn(ctx, st, logger)
}
