// Package suite runs hubverify checks against a hub and collects their
// step-by-step outcomes into a Report.
package suite

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wondertwin-ai/hubverify/internal/failure"
)

// StepResult records the outcome of a single step of a check.
type StepResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Code     string        `json:"code,omitempty"`
	Contract string        `json:"contract,omitempty"`
}

// Result records the outcome of one check.
type Result struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Steps    []StepResult  `json:"steps"`
	Duration time.Duration `json:"duration"`
}

// Report holds the results of a full run.
type Report struct {
	RunID     string        `json:"run_id"`
	HubURL    string        `json:"hub_url"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Results   []Result      `json:"results"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
}

// Check is one verification scenario. Run records its steps on rec and
// returns the error that aborted it, if any.
type Check interface {
	Name() string
	Run(ctx context.Context, rec *Recorder) error
}

// Recorder accumulates step results for one check.
type Recorder struct {
	logger *slog.Logger
	check  string
	steps  []StepResult
}

// NewRecorder creates a Recorder. A nil logger uses slog.Default().
func NewRecorder(check string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger, check: check}
}

// Step runs fn as a named step, records its outcome and returns its error.
func (r *Recorder) Step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.record(name, time.Since(start), err)
	return err
}

func (r *Recorder) record(name string, d time.Duration, err error) {
	sr := StepResult{Name: name, Passed: err == nil, Duration: d}
	if err != nil {
		sr.Error = err.Error()
		sr.Code = failure.Code(err)
		sr.Contract = failure.Contract(err)
		r.logger.Warn("step failed", "check", r.check, "step", name, "code", sr.Code, "contract", sr.Contract, "err", err)
	} else {
		r.logger.Info("step passed", "check", r.check, "step", name, "duration", d)
	}
	r.steps = append(r.steps, sr)
}

// Steps returns a copy of the recorded steps.
func (r *Recorder) Steps() []StepResult {
	out := make([]StepResult, len(r.steps))
	copy(out, r.steps)
	return out
}

// Failed reports whether any recorded step failed.
func (r *Recorder) Failed() bool {
	for _, s := range r.steps {
		if !s.Passed {
			return true
		}
	}
	return false
}

// Options configures Run.
type Options struct {
	HubURL string
	Logger *slog.Logger
}

// Run executes checks in order and returns the report. A check that returns
// an error without having recorded a failing step gets a synthetic "run" step
// carrying that error.
func Run(ctx context.Context, checks []Check, opts Options) *Report {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	report := &Report{
		RunID:     uuid.NewString(),
		HubURL:    opts.HubURL,
		StartedAt: time.Now().UTC(),
	}

	for _, c := range checks {
		report.addResult(runCheck(ctx, c, opts.Logger.With("run_id", report.RunID)))
	}

	report.Duration = time.Since(report.StartedAt)
	return report
}

func runCheck(ctx context.Context, c Check, logger *slog.Logger) Result {
	start := time.Now()
	rec := NewRecorder(c.Name(), logger)

	logger.Info("check started", "check", c.Name())
	err := c.Run(ctx, rec)
	if err != nil && !rec.Failed() {
		rec.record("run", time.Since(start), err)
	}

	res := Result{
		Name:     c.Name(),
		Passed:   err == nil && !rec.Failed(),
		Steps:    rec.Steps(),
		Duration: time.Since(start),
	}
	logger.Info("check finished", "check", c.Name(), "passed", res.Passed, "duration", res.Duration)
	return res
}

func (r *Report) addResult(res Result) {
	r.Results = append(r.Results, res)
	if res.Passed {
		r.Passed++
	} else {
		r.Failed++
	}
}

// Print writes a human-readable summary of the report.
func (r *Report) Print(w io.Writer) {
	for _, res := range r.Results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(w, "  %s  %s (%s)\n", status, res.Name, res.Duration.Round(time.Millisecond))
		for _, s := range res.Steps {
			if s.Passed {
				fmt.Fprintf(w, "        ok    %s\n", s.Name)
				continue
			}
			fmt.Fprintf(w, "        fail  %s\n", s.Name)
			fmt.Fprintf(w, "              %s\n", s.Error)
		}
	}
	fmt.Fprintf(w, "\nResults: %d passed, %d failed, %d total\n", r.Passed, r.Failed, r.Passed+r.Failed)
}
