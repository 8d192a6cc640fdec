package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/tendant/simple-derivative-pipeline/internal/config"
	"github.com/tendant/simple-derivative-pipeline/internal/logging"
	"github.com/tendant/simple-derivative-pipeline/pkg/client"
)

const defaultServer = "http://localhost:8081"

type commandContext struct {
	serverFlag *string
	configFlag *string

	cfg *config.Config
}

func newCommandContext(serverFlag, configFlag *string) *commandContext {
	return &commandContext{serverFlag: serverFlag, configFlag: configFlag}
}

func (c *commandContext) serverURL() string {
	if v := strings.TrimSpace(*c.serverFlag); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv("PIPELINE_SERVER")); v != "" {
		return v
	}
	return defaultServer
}

func (c *commandContext) client() *client.Client {
	return client.New(c.serverURL())
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	if path := strings.TrimSpace(*c.configFlag); path != "" {
		if err := os.Setenv("PIPELINE_CONFIG", path); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

// logger writes to stderr so command output stays parseable
func (c *commandContext) logger(cfg *config.Config) *slog.Logger {
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: "text", Output: os.Stderr})
	if err != nil {
		return logging.Discard()
	}
	return logger
}
