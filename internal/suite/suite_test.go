package suite

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wondertwin-ai/hubverify/internal/failure"
)

type fakeCheck struct {
	name string
	run  func(rec *Recorder) error
}

func (f fakeCheck) Name() string { return f.name }

func (f fakeCheck) Run(_ context.Context, rec *Recorder) error { return f.run(rec) }

func TestRecorderStep(t *testing.T) {
	rec := NewRecorder("c", nil)

	if err := rec.Step("ok", func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Failed() {
		t.Error("Failed() after passing step")
	}

	want := failure.UnexpectedStatus("GET", "http://hub/x", []int{200}, 500)
	if err := rec.Step("bad", func() error { return want }); err != want {
		t.Errorf("Step returned %v, want the step's error", err)
	}
	if !rec.Failed() {
		t.Error("Failed() = false after failing step")
	}

	steps := rec.Steps()
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[1].Code != failure.CodeUnexpectedStatus || steps[1].Contract != failure.ContractHub {
		t.Errorf("failure fields not recorded: %+v", steps[1])
	}
}

func TestRun(t *testing.T) {
	checks := []Check{
		fakeCheck{name: "passes", run: func(rec *Recorder) error {
			return rec.Step("one", func() error { return nil })
		}},
		fakeCheck{name: "fails in step", run: func(rec *Recorder) error {
			return rec.Step("one", func() error { return errors.New("boom") })
		}},
		fakeCheck{name: "fails outside steps", run: func(rec *Recorder) error {
			return errors.New("setup broke")
		}},
		fakeCheck{name: "failed step swallowed", run: func(rec *Recorder) error {
			rec.Step("teardown", func() error { return errors.New("cleanup") })
			return nil
		}},
	}

	report := Run(context.Background(), checks, Options{HubURL: "http://hub"})

	if report.RunID == "" {
		t.Error("missing run ID")
	}
	if report.Passed != 1 || report.Failed != 3 {
		t.Errorf("passed/failed = %d/%d, want 1/3", report.Passed, report.Failed)
	}

	outside := report.Results[2]
	if len(outside.Steps) != 1 || outside.Steps[0].Name != "run" || outside.Steps[0].Error != "setup broke" {
		t.Errorf("synthetic step missing: %+v", outside.Steps)
	}
	if report.Results[1].Steps[0].Name != "one" || len(report.Results[1].Steps) != 1 {
		t.Errorf("step failure should not add a synthetic step: %+v", report.Results[1].Steps)
	}
}

func TestReportPrint(t *testing.T) {
	report := &Report{
		Results: []Result{
			{Name: "a", Passed: true, Steps: []StepResult{{Name: "s1", Passed: true}}},
			{Name: "b", Passed: false, Steps: []StepResult{{Name: "s2", Error: "went wrong"}}},
		},
		Passed: 1,
		Failed: 1,
	}

	var buf bytes.Buffer
	report.Print(&buf)
	out := buf.String()

	for _, want := range []string{"PASS  a", "FAIL  b", "fail  s2", "went wrong", "Results: 1 passed, 1 failed, 2 total"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
