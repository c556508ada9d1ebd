// Package torture runs live scenarios against the server under test. Each scenario
// goes through configure, start, setup, run, validate, cleanup and stop phases in
// order; the first failure aborts the run.
package torture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nginxlive/livetest"
	"github.com/nginxlive/livetest/cleanup"
	"github.com/nginxlive/livetest/control"
	"github.com/nginxlive/livetest/internal/logger"
	"github.com/nginxlive/livetest/logtrack"
	"github.com/nginxlive/livetest/monitoring"
	"github.com/nginxlive/livetest/nginxconf"
	"github.com/nginxlive/livetest/server"
)

// Scenario is a single live test. Test is the only required hook; the optional
// ones are picked up through the interfaces below.
type Scenario interface {
	Name() string
	Test(ctx context.Context, env *Env) error
}

// ConfUpdater mutates the server configuration before the server starts.
type ConfUpdater interface {
	UpdateConf(conf *nginxconf.Block) error
}

// SetupHook runs before Test, followed by a restart.
type SetupHook interface {
	Setup(ctx context.Context, env *Env) error
}

// Validator runs after a restart that follows Test.
type Validator interface {
	Validate(ctx context.Context, env *Env) error
}

// CleanupHook replaces DefaultCleanup.
type CleanupHook interface {
	Cleanup(ctx context.Context, env *Env) error
}

// LongRunning marks scenarios skipped unless selected by name.
type LongRunning interface {
	Long() bool
}

// Controller manages the server process.
type Controller interface {
	Clear(ctx context.Context) error
	Start(ctx context.Context, conf, name string, appendLog bool) (*server.Process, error)
	Stop(ctx context.Context, p *server.Process) error
	Restart(ctx context.Context, p *server.Process, conf, name string, before func() error) (*server.Process, error)
	ResetCoverage(ctx context.Context) error
	GenerateCoverage(ctx context.Context, conf string) (*server.Process, error)
}

var _ Controller = (*server.Supervisor)(nil)

// Uploader publishes run artifacts.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Selection narrows a run. Only takes precedence over Start and End, which are
// inclusive bounds in name order.
type Selection struct {
	Start string
	End   string
	Only  []string
}

// Planned is a discovered scenario.
type Planned struct {
	Scenario Scenario
	Skip     bool
}

// Suite orchestrates a run.
type Suite struct {
	cfg      *livetest.Config
	ctrl     Controller
	env      *Env
	uploader Uploader
	prompt   *bufio.Reader
	out      io.Writer

	mu        sync.Mutex
	scenarios map[string]Scenario
}

// SuiteOption configures a Suite.
type SuiteOption func(*Suite)

// WithController sets the process controller. Required when the config manages the server.
func WithController(c Controller) SuiteOption {
	return func(s *Suite) {
		s.ctrl = c
	}
}

// WithUploader publishes valgrind logs and the run report after the run.
func WithUploader(u Uploader) SuiteOption {
	return func(s *Suite) {
		s.uploader = u
	}
}

// WithPrompt sets where pause points read from and write to.
func WithPrompt(r io.Reader, w io.Writer) SuiteOption {
	return func(s *Suite) {
		s.prompt = bufio.NewReader(r)
		s.out = w
	}
}

// NewSuite creates a suite that talks to the server through client.
func NewSuite(cfg *livetest.Config, client *control.Client, opts ...SuiteOption) *Suite {
	s := &Suite{
		cfg: cfg,
		env: &Env{
			Config:  cfg,
			Client:  client,
			Tracker: logtrack.New(cfg.LogPath),
			Stack:   &cleanup.Stack{},
		},
		prompt:    bufio.NewReader(os.Stdin),
		out:       os.Stdout,
		scenarios: make(map[string]Scenario),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Env returns the environment handed to scenarios.
func (s *Suite) Env() *Env {
	return s.env
}

// RegisterScenario adds a scenario. Registering a name twice panics.
func (s *Suite) RegisterScenario(scenario Scenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := scenario.Name()
	if _, dup := s.scenarios[name]; dup {
		panic("torture: duplicate scenario " + name)
	}
	s.scenarios[name] = scenario
}

// Names returns the registered scenario names in order.
func (s *Suite) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.scenarios))
	for name := range s.scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Suite) lookup(name string) (Scenario, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenarios[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", livetest.ErrUnknownScenario, name)
	}
	return sc, nil
}

// Discover resolves a selection into the ordered scenario list. Long scenarios
// are marked skipped unless named in Only.
func (s *Suite) Discover(sel Selection) ([]Planned, error) {
	if len(sel.Only) > 0 {
		names := append([]string(nil), sel.Only...)
		sort.Strings(names)
		plan := make([]Planned, 0, len(names))
		for _, name := range names {
			sc, err := s.lookup(name)
			if err != nil {
				return nil, err
			}
			plan = append(plan, Planned{Scenario: sc})
		}
		return plan, nil
	}

	for _, bound := range []string{sel.Start, sel.End} {
		if bound == "" {
			continue
		}
		if _, err := s.lookup(bound); err != nil {
			return nil, err
		}
	}

	var plan []Planned
	for _, name := range s.Names() {
		if sel.Start != "" && name < sel.Start {
			continue
		}
		if sel.End != "" && name > sel.End {
			break
		}
		sc, _ := s.lookup(name)
		plan = append(plan, Planned{Scenario: sc, Skip: isLong(sc)})
	}
	return plan, nil
}

func isLong(sc Scenario) bool {
	l, ok := sc.(LongRunning)
	return ok && l.Long()
}

// Run executes the selection. The returned report covers every scenario that
// started; a failing scenario stops the run and its error is returned.
func (s *Suite) Run(ctx context.Context, sel Selection) (*Report, error) {
	if s.cfg.ManageServer && s.ctrl == nil {
		return nil, fmt.Errorf("%w: a controller is required to manage the server", livetest.ErrInvalidConfig)
	}

	plan, err := s.Discover(sel)
	if err != nil {
		return nil, err
	}

	report := &Report{StartTime: time.Now()}
	defer s.publish(ctx, report)

	if s.cfg.Coverage && s.cfg.ManageServer {
		logger.Log.Info("Coverage: resetting counters")
		if err := s.ctrl.ResetCoverage(ctx); err != nil {
			report.finish()
			return report, err
		}
	}

	for _, p := range plan {
		res, err := s.runScenario(ctx, p)
		report.Scenarios = append(report.Scenarios, res)
		if err != nil {
			report.finish()
			return report, fmt.Errorf("%s: %w", res.Name, err)
		}
	}

	if s.cfg.Coverage && s.cfg.ManageServer {
		if err := s.coverageReport(ctx); err != nil {
			report.finish()
			return report, err
		}
	}

	report.finish()
	return report, nil
}

// coverageReport renders the report and leaves a server running to serve it.
func (s *Suite) coverageReport(ctx context.Context) error {
	logger.Log.Info("Coverage: generating report")
	if _, err := s.ctrl.GenerateCoverage(ctx, s.cfg.ConfFile); err != nil {
		return err
	}
	if err := s.env.Stack.Reset(); err != nil {
		return err
	}
	return s.env.Tracker.AssertNoCriticalErrors()
}

func (s *Suite) runScenario(ctx context.Context, p Planned) (*ScenarioResult, error) {
	name := p.Scenario.Name()
	res := &ScenarioResult{Name: name}
	if p.Skip {
		res.Status = StatusSkipped
		logger.Log.Info(">>> {scenario} - skipped", name)
		monitoring.RecordScenario(name, string(StatusSkipped), 0)
		return res, nil
	}

	start := time.Now()
	r := &scenarioRun{suite: s, sc: p.Scenario, res: res}
	err := r.execute(ctx)
	res.Duration = time.Since(start)
	res.Artifacts = s.artifacts(name)

	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		if uerr := s.env.Stack.Reset(); uerr != nil {
			logger.Log.Warn("Cleanup after failed scenario {scenario}: {error}", name, uerr)
		}
		logger.Log.Error(">>> {scenario} failed in {phase}: {error}", name, res.Phase, err)
	} else {
		res.Status = StatusPassed
		res.Phase = ""
	}

	monitoring.RecordScenario(name, string(res.Status), res.Duration)
	logger.Log.Info("  took: {seconds} sec", strconv.FormatFloat(res.Duration.Seconds(), 'f', 3, 64))
	return res, err
}

func (s *Suite) artifacts(name string) []string {
	if !s.cfg.Valgrind {
		return nil
	}
	path := server.ValgrindLog(name)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return []string{path}
}

func (s *Suite) pause() error {
	fmt.Fprint(s.out, "--Next--")
	if _, err := s.prompt.ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// publish uploads valgrind logs and the report. Failures are logged only.
func (s *Suite) publish(ctx context.Context, report *Report) {
	if s.uploader == nil {
		return
	}

	var paths []string
	for _, res := range report.Scenarios {
		paths = append(paths, res.Artifacts...)
	}

	dir, err := os.MkdirTemp("", "livetest-report-")
	if err != nil {
		logger.Log.Warn("Failed to stage report: {error}", err)
	} else {
		defer os.RemoveAll(dir)
		path := filepath.Join(dir, "report.yaml")
		if err := report.WriteFile(path); err != nil {
			logger.Log.Warn("Failed to write report: {error}", err)
		} else {
			paths = append(paths, path)
		}
	}

	for _, path := range paths {
		loc, err := s.uploader.Upload(ctx, path)
		if err != nil {
			logger.Log.Warn("Failed to upload {path}: {error}", path, err)
			continue
		}
		logger.Log.Info("Uploaded {path} to {location}", path, loc)
	}
}

// scenarioRun carries the state of one scenario through its phases.
type scenarioRun struct {
	suite *Suite
	sc    Scenario
	res   *ScenarioResult
	conf  string
	proc  *server.Process
}

func (r *scenarioRun) phase(name string, fn func() error) error {
	r.res.Phase = name
	start := time.Now()
	err := fn()
	monitoring.RecordPhase(name, time.Since(start))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	logger.Log.Debug("{scenario}: {phase} done in {duration}", r.res.Name, name, time.Since(start))
	return nil
}

func (r *scenarioRun) execute(ctx context.Context) error {
	s := r.suite
	cfg := s.cfg
	env := s.env

	if cfg.ManageServer {
		if err := r.phase("configure", r.configure); err != nil {
			return err
		}
		if err := r.phase("start", func() error {
			if err := s.ctrl.Clear(ctx); err != nil {
				return err
			}
			var err error
			r.proc, err = s.ctrl.Start(ctx, r.conf, r.res.Name, false)
			return err
		}); err != nil {
			return err
		}
	}

	if h, ok := r.sc.(SetupHook); ok {
		if err := r.phase("setup", func() error {
			if err := env.Tracker.Init(); err != nil {
				return err
			}
			return h.Setup(ctx, env)
		}); err != nil {
			return err
		}
		if err := r.phase("restart", func() error {
			if err := Sleep(ctx, cfg.SetupSettle); err != nil {
				return err
			}
			return r.restart(ctx)
		}); err != nil {
			return err
		}
	}

	if cfg.PauseBefore {
		if err := s.pause(); err != nil {
			return err
		}
	}

	if err := r.phase("run", func() error {
		if err := env.Tracker.Init(); err != nil {
			return err
		}
		logger.Log.Info(">>> {scenario}", r.res.Name)
		return r.sc.Test(ctx, env)
	}); err != nil {
		return err
	}

	if v, ok := r.sc.(Validator); ok {
		if err := r.phase("restart", func() error {
			if err := Sleep(ctx, cfg.ValidateSettle); err != nil {
				return err
			}
			return r.restart(ctx)
		}); err != nil {
			return err
		}
		if err := r.phase("validate", func() error { return v.Validate(ctx, env) }); err != nil {
			return err
		}
	}

	if cfg.PauseAfter {
		if err := s.pause(); err != nil {
			return err
		}
	}

	if err := r.phase("cleanup", func() error { return r.cleanup(ctx) }); err != nil {
		return err
	}

	if cfg.ManageServer {
		if err := r.phase("stop", func() error { return s.ctrl.Stop(ctx, r.proc) }); err != nil {
			return err
		}
	}
	return nil
}

// configure picks the config file: the base file when nothing mutates it, or a
// derived file named after the content fingerprint.
func (r *scenarioRun) configure() error {
	cfg := r.suite.cfg

	var mutations []func(*nginxconf.Block) error
	if u, ok := r.sc.(ConfUpdater); ok {
		mutations = append(mutations, u.UpdateConf)
	}
	if cfg.SingleProcess {
		mutations = append(mutations, nginxconf.SingleProcess)
	}
	if len(mutations) == 0 {
		r.conf = cfg.ConfFile
		return nil
	}

	conf, err := nginxconf.ParseFile(cfg.ConfFile)
	if err != nil {
		return err
	}
	for _, mutate := range mutations {
		if err := mutate(conf); err != nil {
			return err
		}
	}

	r.conf = filepath.Join(cfg.TempConfDir, fmt.Sprintf("temp-%016x.conf", nginxconf.Fingerprint(conf)))
	if err := conf.WriteFile(r.conf); err != nil {
		return err
	}
	logger.Log.Debug("{scenario}: using {conf}", r.res.Name, r.conf)
	return nil
}

func (r *scenarioRun) cleanup(ctx context.Context) error {
	if h, ok := r.sc.(CleanupHook); ok {
		return h.Cleanup(ctx, r.suite.env)
	}
	return DefaultCleanup(ctx, r.suite.env)
}

// restart resets scenario state and bounces the server. Without a managed
// server only the reset happens.
func (r *scenarioRun) restart(ctx context.Context) error {
	before := func() error { return r.cleanup(ctx) }
	if !r.suite.cfg.ManageServer {
		return before()
	}
	proc, err := r.suite.ctrl.Restart(ctx, r.proc, r.conf, r.res.Name, before)
	r.proc = proc
	return err
}
