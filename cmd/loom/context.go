package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/coordination"
	"loom/internal/logging"
	"loom/internal/objectstore"
	"loom/internal/queue"
)

type commandContext struct {
	configFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolvedPath, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolvedPath
		c.configExists = exists
	})
	return c.config, c.configErr
}

// withStore opens the coordination store for the duration of fn. Commands
// share the embedded database with a running daemon; SQLite's WAL mode keeps
// concurrent access safe.
func (c *commandContext) withStore(fn func(context.Context, *coordination.SQLiteStore, *queue.TaskQueue) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := coordination.Open(coordination.Options{
		Path:         cfg.Coordination.DBPath,
		PollInterval: time.Duration(cfg.Coordination.PollIntervalMS) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("open coordination store: %w", err)
	}
	defer store.Close()

	tasks := queue.New(store, queue.Options{
		Namespace:    cfg.Coordination.Namespace,
		ProcessedTTL: cfg.ProcessedTTL(),
		FailedTTL:    cfg.FailedTTL(),
	}, logging.NewNop())

	return fn(context.Background(), store, tasks)
}

func (c *commandContext) withQueue(fn func(context.Context, *queue.TaskQueue) error) error {
	return c.withStore(func(ctx context.Context, _ *coordination.SQLiteStore, tasks *queue.TaskQueue) error {
		return fn(ctx, tasks)
	})
}

func buildObjectStoreClient(cfg *config.Config) (objectstore.Client, error) {
	if strings.TrimSpace(cfg.ObjectStore.Endpoint) == "" {
		return nil, errors.New("object_store.endpoint is not configured")
	}
	return objectstore.NewMinIO(objectstore.MinIOOptions{
		Endpoint:  cfg.ObjectStore.Endpoint,
		AccessKey: cfg.ObjectStore.AccessKey,
		SecretKey: cfg.ObjectStore.SecretKey,
		Bucket:    cfg.ObjectStore.Bucket,
		UseSSL:    cfg.ObjectStore.UseSSL,
	})
}

// consoleLogger returns a stderr logger for one-shot commands, keeping
// stdout free for command output.
func consoleLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level:            cfg.Logging.Level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func parseOverrides(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	overrides := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("override %q is not key=value", pair)
		}
		overrides[key] = strings.TrimSpace(value)
	}
	return overrides, nil
}

func truncate(text string, max int) string {
	if max <= 3 || len(text) <= max {
		return text
	}
	return text[:max-3] + "..."
}
