package server

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nginxlive/livetest/internal/logger"
)

func (s *Supervisor) sourceDir() string {
	return s.cfg.SourceDir + "/"
}

// ResetCoverage zeroes the gcov counters of the instrumented build.
func (s *Supervisor) ResetCoverage(ctx context.Context) error {
	return s.run(ctx, "lcov", "--directory", s.sourceDir(), "-z")
}

// GenerateCoverage collects the counters into an lcov report and renders it as
// HTML, then starts the server on conf so the report can be browsed. The caller
// owns the returned process.
func (s *Supervisor) GenerateCoverage(ctx context.Context, conf string) (*Process, error) {
	if err := os.Remove(s.cfg.CoverageFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := os.MkdirAll(s.cfg.CoverageDir, 0o755); err != nil {
		return nil, err
	}

	if err := s.run(ctx, "lcov", "-c", "-d", s.sourceDir(), "-o", s.cfg.CoverageFile, "--ignore-errors", "graph"); err != nil {
		return nil, fmt.Errorf("failed to capture coverage: %w", err)
	}
	if err := s.run(ctx, "genhtml", s.cfg.CoverageFile, "--output-directory", s.cfg.CoverageDir); err != nil {
		return nil, fmt.Errorf("failed to render coverage: %w", err)
	}
	logger.Log.Info("Coverage report written to {dir}", s.cfg.CoverageDir)

	valgrind := s.cfg.Valgrind
	s.cfg.Valgrind = false
	defer func() { s.cfg.Valgrind = valgrind }()

	if err := s.Clear(ctx); err != nil {
		return nil, err
	}
	return s.Start(ctx, conf, "coverage", false)
}
