package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nginxlive/livetest"
	"github.com/nginxlive/livetest/backends"
	"github.com/nginxlive/livetest/control"
	"github.com/nginxlive/livetest/internal/logger"
	"github.com/nginxlive/livetest/monitoring"
	"github.com/nginxlive/livetest/server"
	"github.com/nginxlive/livetest/torture"
	"github.com/nginxlive/livetest/torture/scenarios"
)

type runOptions struct {
	configFile    string
	confFile      string
	serverURL     string
	start         string
	end           string
	only          string
	pauseBefore   bool
	pauseAfter    bool
	noSetup       bool
	valgrind      bool
	singleProcess bool
	coverage      bool
	metricsFile   string
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run scenarios against the server",
		Long: `Run scenarios in name order. The first failing scenario stops the run
and leaves the server running for inspection.

Example:
  livetest run -o channel_free_during_setup_read,vod_finalize -v`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runSuite(ctx, cfg, selection(opts))
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configFile, "config", "", "YAML configuration file")
	f.StringVar(&opts.confFile, "conf", "", "Base nginx configuration file")
	f.StringVar(&opts.serverURL, "server-url", "", "Base URL of the server under test")
	f.StringVarP(&opts.start, "start", "s", "", "First scenario to run")
	f.StringVarP(&opts.end, "end", "e", "", "Last scenario to run")
	f.StringVarP(&opts.only, "only", "o", "", "Comma separated scenarios to run, including long ones")
	f.BoolVarP(&opts.pauseBefore, "pause-before", "P", false, "Wait for enter before each scenario")
	f.BoolVarP(&opts.pauseAfter, "pause-after", "p", false, "Wait for enter after each scenario")
	f.BoolVarP(&opts.noSetup, "no-setup", "n", false, "Use the running server, do not start or stop it")
	f.BoolVarP(&opts.valgrind, "valgrind", "v", false, "Run the server under valgrind")
	f.BoolVarP(&opts.singleProcess, "single-process", "S", false, "Run the server without a master process")
	f.BoolVarP(&opts.coverage, "coverage", "c", false, "Collect an lcov coverage report")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "Write run metrics in Prometheus text format")

	return cmd
}

func buildConfig(opts runOptions) (*livetest.Config, error) {
	var options []livetest.Option
	if opts.serverURL != "" {
		options = append(options, livetest.WithServerURL(opts.serverURL))
	}
	if opts.confFile != "" {
		options = append(options, livetest.WithConfFile(opts.confFile))
	}
	if opts.valgrind {
		options = append(options, livetest.WithValgrind())
	}
	if opts.singleProcess {
		options = append(options, livetest.WithSingleProcess())
	}
	if opts.coverage {
		options = append(options, livetest.WithCoverage())
	}
	if opts.noSetup {
		options = append(options, livetest.WithoutSetup())
	}

	var (
		cfg *livetest.Config
		err error
	)
	if opts.configFile != "" {
		cfg, err = livetest.LoadFile(opts.configFile, options...)
	} else {
		cfg, err = livetest.NewConfig(options...)
	}
	if err != nil {
		return nil, err
	}

	cfg.PauseBefore = opts.pauseBefore
	cfg.PauseAfter = opts.pauseAfter
	if opts.metricsFile != "" {
		cfg.MetricsFile = opts.metricsFile
	}
	return cfg, nil
}

func selection(opts runOptions) torture.Selection {
	sel := torture.Selection{Start: opts.start, End: opts.end}
	for _, name := range strings.Split(opts.only, ",") {
		if name = strings.TrimSpace(name); name != "" {
			sel.Only = append(sel.Only, name)
		}
	}
	return sel
}

func runSuite(ctx context.Context, cfg *livetest.Config, sel torture.Selection) (err error) {
	client := control.New(cfg.ControlURL())

	var suiteOpts []torture.SuiteOption
	if cfg.ManageServer {
		storeCfg, err := backends.FromStore(cfg.Store)
		if err != nil {
			return err
		}
		wiper, err := backends.Create(ctx, storeCfg)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := wiper.Close(); cerr != nil {
				logger.Log.Warn("Failed to close {backend}: {error}", wiper.Name(), cerr)
			}
		}()
		suiteOpts = append(suiteOpts, torture.WithController(server.New(cfg, client, wiper)))
	}
	if cfg.Artifacts.Enabled() {
		uploader, err := backends.NewS3ArtifactUploader(ctx, cfg.Artifacts, time.Now().UTC().Format("20060102T150405Z"))
		if err != nil {
			return err
		}
		suiteOpts = append(suiteOpts, torture.WithUploader(uploader))
	}

	suite := torture.NewSuite(cfg, client, suiteOpts...)
	scenarios.Register(suite)

	defer func() {
		if cfg.MetricsFile == "" {
			return
		}
		if werr := monitoring.WriteTextfile(cfg.MetricsFile); werr != nil {
			err = errors.Join(err, fmt.Errorf("failed to write metrics: %w", werr))
		}
	}()

	logger.Log.Info("Starting live tests against {url}", cfg.ServerURL)
	report, err := suite.Run(ctx, sel)
	if report != nil {
		report.PrintReport()
	}
	if err != nil {
		return fmt.Errorf("live test failed: %w", err)
	}
	return nil
}
