// Package cli implements the sesh command-line interface.
// This file contains shared helpers used across commands.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/randalmurphal/sesh/internal/config"
	sesherr "github.com/randalmurphal/sesh/internal/errors"
	"github.com/randalmurphal/sesh/internal/session"
	"github.com/randalmurphal/sesh/internal/store"
	"github.com/randalmurphal/sesh/internal/taskhub"
	"github.com/randalmurphal/sesh/internal/workflow"
)

// appContext bundles everything a command needs, built once per
// invocation from the resolved project directory.
type appContext struct {
	dir    string
	cfg    *config.Config
	store  store.Store
	router *taskhub.Router
	engine *workflow.Engine
}

// resolveDir returns the project directory: the -C flag or the working
// directory.
func resolveDir() (string, error) {
	if projectDir != "" {
		return projectDir, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	return dir, nil
}

// requireInit fails when the project has no metadata directory.
func requireInit(dir string) error {
	if info, err := os.Stat(config.MetaDir(dir)); err != nil || !info.IsDir() {
		return sesherr.ErrValidation(
			"sesh is not initialized in this project",
			"Run 'sesh init' first")
	}
	return nil
}

// newAppContext loads config, opens the store, and wires the engine.
func newAppContext(ctx context.Context) (*appContext, error) {
	dir, err := resolveDir()
	if err != nil {
		return nil, err
	}
	if err := requireInit(dir); err != nil {
		return nil, err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log)

	st, err := store.Open(ctx, config.MetaDir(dir), cfg.StoreConfig(dir))
	if err != nil {
		return nil, err
	}
	router, err := cfg.BuildRouter(dir)
	if err != nil {
		st.Close()
		return nil, err
	}

	engine := workflow.New(st, workflow.Options{
		MetaDir:    config.MetaDir(dir),
		BaseBranch: cfg.Git.BaseBranch,
		Remote:     cfg.Git.Remote,
		Tasks:      router,
	})
	return &appContext{
		dir:    dir,
		cfg:    cfg,
		store:  st,
		router: router,
		engine: engine,
	}, nil
}

// Close releases the store.
func (a *appContext) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("close store", "error", err)
	}
}

// setupLogging configures the process-wide slog default from config.
// The verbose flag forces debug level regardless of config.
func setupLogging(cfg config.LogConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// --- rendering ---

// useColor reports whether styled output should be emitted.
func useColor() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("NO_COLOR") == ""
}

// styles holds the lipgloss styles for human-readable output.
type styles struct {
	Header  lipgloss.Style
	Good    lipgloss.Style
	Warn    lipgloss.Style
	Bad     lipgloss.Style
	Subtle  lipgloss.Style
	Enabled bool
}

func newStyles() styles {
	if !useColor() {
		return styles{}
	}
	return styles{
		Header:  lipgloss.NewStyle().Bold(true),
		Good:    lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		Warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Bad:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Subtle:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Enabled: true,
	}
}

func (s styles) render(style lipgloss.Style, text string) string {
	if !s.Enabled {
		return text
	}
	return style.Render(text)
}

// prStateLabel renders a PR state with its lifecycle color.
func (s styles) prStateLabel(state session.PRState) string {
	switch state {
	case session.PRStatePrepared:
		return s.render(s.Warn, string(state))
	case session.PRStateApproved, session.PRStateMerged:
		return s.render(s.Good, string(state))
	default:
		return s.render(s.Subtle, string(state))
	}
}

// truncate shortens s to maxLen runes with an ellipsis.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
