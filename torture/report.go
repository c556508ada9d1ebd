package torture

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nginxlive/livetest/internal/logger"
)

// Status is the outcome of one scenario.
type Status string

// Scenario outcomes.
const (
	StatusPassed  Status = "passed"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Report contains the results of a run.
type Report struct {
	StartTime time.Time         `yaml:"start_time"`
	EndTime   time.Time         `yaml:"end_time"`
	Scenarios []*ScenarioResult `yaml:"scenarios"`
	Success   bool              `yaml:"success"`
}

// ScenarioResult contains results for a single scenario.
type ScenarioResult struct {
	Name     string        `yaml:"name"`
	Status   Status        `yaml:"status"`
	Duration time.Duration `yaml:"duration"`
	// Phase is the phase that failed.
	Phase     string   `yaml:"phase,omitempty"`
	Error     string   `yaml:"error,omitempty"`
	Artifacts []string `yaml:"artifacts,omitempty"`
}

func (r *Report) finish() {
	r.EndTime = time.Now()
	r.Success = true
	for _, res := range r.Scenarios {
		if res.Status == StatusFailed {
			r.Success = false
		}
	}
}

// Counts returns how many scenarios passed, were skipped and failed.
func (r *Report) Counts() (passed, skipped, failed int) {
	for _, res := range r.Scenarios {
		switch res.Status {
		case StatusPassed:
			passed++
		case StatusSkipped:
			skipped++
		case StatusFailed:
			failed++
		}
	}
	return passed, skipped, failed
}

// Result returns the result for a scenario, or nil if it did not run.
func (r *Report) Result(name string) *ScenarioResult {
	for _, res := range r.Scenarios {
		if res.Name == name {
			return res
		}
	}
	return nil
}

// WriteFile saves the report as YAML.
func (r *Report) WriteFile(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// PrintReport outputs a summary of the run.
func (r *Report) PrintReport() {
	logger.Log.Info("")
	logger.Log.Info("=== LIVE TEST REPORT ===")
	logger.Log.Info("Duration: {duration}", r.EndTime.Sub(r.StartTime))
	logger.Log.Info("Overall Success: {success}", r.Success)
	logger.Log.Info("")

	for _, res := range r.Scenarios {
		switch res.Status {
		case StatusFailed:
			logger.Log.Error("{name}: failed in {phase} after {duration}: {error}", res.Name, res.Phase, res.Duration, res.Error)
		case StatusSkipped:
			logger.Log.Info("{name}: skipped", res.Name)
		default:
			logger.Log.Info("{name}: passed in {duration}", res.Name, res.Duration)
		}
	}

	passed, skipped, failed := r.Counts()
	logger.Log.Info("")
	logger.Log.Info("TOTAL: {passed} passed, {skipped} skipped, {failed} failed", passed, skipped, failed)
	if r.Success {
		logger.Log.Info("✅ ALL SCENARIOS PASSED")
	} else {
		logger.Log.Error("❌ SOME SCENARIOS FAILED")
	}
}
