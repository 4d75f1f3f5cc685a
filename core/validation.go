package core

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fatih/color"
)

// CheckStatus is the outcome of a single startup validation check.
type CheckStatus int

const (
	// CheckPass means the check succeeded
	CheckPass CheckStatus = iota
	// CheckWarn means the check found a degraded but survivable condition
	CheckWarn
	// CheckFail means the check found a condition that prevents startup
	CheckFail
	// CheckSkip means the check did not apply to this configuration
	CheckSkip
)

// CheckResult holds the outcome of one validation check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
}

// ValidationSuite runs startup checks against a Config and prints a
// colored summary. Model availability problems are warnings, not
// failures: the service starts degraded and reports them via /health.
type ValidationSuite struct {
	config       *Config
	showProgress bool
}

// NewValidationSuite creates a suite for the given configuration.
func NewValidationSuite(config *Config) *ValidationSuite {
	return &ValidationSuite{config: config, showProgress: true}
}

// WithShowProgress toggles colored console output.
func (s *ValidationSuite) WithShowProgress(show bool) *ValidationSuite {
	s.showProgress = show
	return s
}

// Validate runs all checks. Returns the results and true when no check
// failed hard.
func (s *ValidationSuite) Validate() ([]CheckResult, bool) {
	results := []CheckResult{
		s.checkModelFile("generate model", s.config.GenerateModelPath),
		s.checkModelFile("inpaint model", s.config.InpaintModelPath),
		s.checkModelFile("sketch model", s.config.SketchModelPath),
		s.checkRemoteFallback(),
		s.checkHistoryDir(),
		s.checkNvidiaSMI(),
	}

	ok := true
	for _, r := range results {
		if r.Status == CheckFail {
			ok = false
		}
		if s.showProgress {
			printCheckResult(r)
		}
	}
	return results, ok
}

func (s *ValidationSuite) checkModelFile(name, path string) CheckResult {
	if path == "" {
		return CheckResult{Name: name, Status: CheckSkip, Message: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return CheckResult{
			Name:    name,
			Status:  CheckWarn,
			Message: fmt.Sprintf("%s not readable: %v (capability will report not loaded)", path, err),
		}
	}
	if info.Size() == 0 {
		return CheckResult{Name: name, Status: CheckWarn, Message: fmt.Sprintf("%s is empty", path)}
	}
	return CheckResult{Name: name, Status: CheckPass, Message: fmt.Sprintf("%s (%s)", path, FormatBytes(info.Size()))}
}

func (s *ValidationSuite) checkRemoteFallback() CheckResult {
	const name = "remote pipeline"
	if s.config.OpenAIAPIKey == "" {
		if s.config.HasLocalModel() {
			return CheckResult{Name: name, Status: CheckSkip, Message: "no API key configured"}
		}
		return CheckResult{
			Name:    name,
			Status:  CheckWarn,
			Message: "no local models and no API key: every capability will report not loaded",
		}
	}
	return CheckResult{Name: name, Status: CheckPass, Message: s.config.OpenAIModel}
}

func (s *ValidationSuite) checkHistoryDir() CheckResult {
	const name = "history database"
	dir := filepath.Dir(s.config.HistoryDBPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CheckResult{Name: name, Status: CheckFail, Message: fmt.Sprintf("cannot create %s: %v", dir, err)}
	}
	return CheckResult{Name: name, Status: CheckPass, Message: s.config.HistoryDBPath}
}

func (s *ValidationSuite) checkNvidiaSMI() CheckResult {
	const name = "accelerator tooling"
	if _, err := exec.LookPath(s.config.NvidiaSMIPath); err != nil {
		return CheckResult{
			Name:    name,
			Status:  CheckWarn,
			Message: fmt.Sprintf("%s not found: accelerator counters will read as absent", s.config.NvidiaSMIPath),
		}
	}
	return CheckResult{Name: name, Status: CheckPass, Message: s.config.NvidiaSMIPath}
}

// printCheckResult writes one colored result line to stdout.
func printCheckResult(r CheckResult) {
	var clr *color.Color
	var tag string
	switch r.Status {
	case CheckPass:
		clr = color.New(color.FgGreen)
		tag = "PASS"
	case CheckWarn:
		clr = color.New(color.FgYellow)
		tag = "WARN"
	case CheckFail:
		clr = color.New(color.FgRed)
		tag = "FAIL"
	default:
		clr = color.New(color.FgHiBlack)
		tag = "SKIP"
	}
	clr.Printf("  [%s] %-20s %s\n", tag, r.Name, r.Message)
}
