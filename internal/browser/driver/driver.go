// Package driver opens the browser engine a BrowserConfig asks for.
package driver

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flowcheck/internal/browser"
	"github.com/xkilldash9x/flowcheck/internal/browser/devtools"
	"github.com/xkilldash9x/flowcheck/internal/browser/gorod"
	"github.com/xkilldash9x/flowcheck/internal/browser/pw"
	"github.com/xkilldash9x/flowcheck/internal/config"
)

// Engine names.
const (
	EngineChromedp   = "chromedp"
	EngineRod        = "rod"
	EnginePlaywright = "playwright"
)

type openFunc func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browser.Driver, error)

var engines = map[string]openFunc{
	EngineChromedp: func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browser.Driver, error) {
		return devtools.Open(ctx, cfg, logger)
	},
	EngineRod: func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browser.Driver, error) {
		return gorod.Open(ctx, cfg, logger)
	},
	EnginePlaywright: func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browser.Driver, error) {
		return pw.Open(ctx, cfg, logger)
	},
}

// Resolve names the engine serving cfg.
func Resolve(cfg config.BrowserConfig) (string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case config.BrowserChrome:
		switch cfg.Chrome.Engine {
		case config.EngineCDP, "":
			return EngineChromedp, nil
		case config.EngineRod:
			return EngineRod, nil
		}
		return "", fmt.Errorf("unknown chrome engine %q", cfg.Chrome.Engine)
	case config.BrowserFirefox:
		return EnginePlaywright, nil
	}
	return "", fmt.Errorf("unsupported browser kind %q", cfg.Kind)
}

// Open launches a session for cfg.Kind.
func Open(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browser.Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name, err := Resolve(cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("Opening browser session.", zap.String("kind", cfg.Kind), zap.String("engine", name))
	d, err := engines[name](ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s via %s: %w", cfg.Kind, name, err)
	}
	return d, nil
}
