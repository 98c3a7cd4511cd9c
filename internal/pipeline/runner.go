package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/listkeeper/listkeeper/internal/catalog"
	"github.com/listkeeper/listkeeper/internal/metrics"
)

// Outcome is the final state of a pipeline run.
type Outcome int

const (
	// Completed means every step ran (non-fatal failures included).
	Completed Outcome = iota
	// AbortedConfig means the run stopped on a configuration error
	// (unknown step, invalid options).
	AbortedConfig
	// AbortedStep means the run stopped on a step failure or interrupt.
	AbortedStep
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case AbortedConfig:
		return "aborted (configuration)"
	case AbortedStep:
		return "aborted (step failure)"
	default:
		return "unknown"
	}
}

// StepStatus classifies one step's result inside a report.
type StepStatus string

// Step statuses recorded in the run report.
const (
	StatusSucceeded  StepStatus = "succeeded"
	StatusFailed     StepStatus = "failed"
	StatusUnresolved StepStatus = "unresolved"
	StatusSkipped    StepStatus = "skipped"
)

// StepReport is one line of the ordered run log.
type StepReport struct {
	Name    string
	Step    string
	Status  StepStatus
	Result  Result
	Err     error
	Written int
}

// RunReport is the ordered log of a whole run, for post-run inspection.
type RunReport struct {
	RunID   string
	Outcome Outcome
	Steps   []StepReport
}

// FilesWritten sums record files persisted across all steps; on abort it
// tells the operator how much prior progress already reached disk.
func (r RunReport) FilesWritten() int {
	total := 0
	for _, s := range r.Steps {
		total += s.Written
	}
	return total
}

// Runner executes a pipeline config against a dataset.
type Runner struct {
	registry *Registry
	logger   *zap.Logger
}

// NewRunner builds a Runner. A nil logger disables logging.
func NewRunner(registry *Registry, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{registry: registry, logger: logger}
}

// Run executes the configured steps strictly in listed order. Steps are
// resolved one at a time; an unresolved step aborts the run. After each
// step that mutated the dataset, the dataset is saved before moving on,
// including after a failed or interrupted step, so merged progress is never
// lost. A failing step aborts the run unless its entry is marked non-fatal.
func (r *Runner) Run(ctx context.Context, runID string, cfg Config, ds *catalog.Dataset) RunReport {
	report := RunReport{RunID: runID, Outcome: Completed}
	log := r.logger.With(zap.String("run_id", runID))

	for i, entry := range cfg.Entries {
		if err := ctx.Err(); err != nil {
			report.Steps = append(report.Steps, StepReport{
				Name:   entry.DisplayName(),
				Step:   entry.Step,
				Status: StatusSkipped,
				Err:    err,
			})
			report.Outcome = AbortedStep
			break
		}

		stepLog := log.With(zap.String("step", entry.DisplayName()), zap.Int("position", i+1))

		step, err := r.registry.Resolve(entry)
		if err != nil {
			stepLog.Error("step resolution failed", zap.Error(err))
			report.Steps = append(report.Steps, StepReport{
				Name:   entry.DisplayName(),
				Step:   entry.Step,
				Status: StatusUnresolved,
				Err:    err,
			})
			report.Outcome = AbortedConfig
			metrics.ObserveStep(entry.Step, string(StatusUnresolved))
			break
		}

		stepLog.Info("step starting")
		result, runErr := step.Run(ctx, ds)

		sr := StepReport{Name: entry.DisplayName(), Step: entry.Step, Result: result, Err: runErr}
		if runErr == nil {
			sr.Status = StatusSucceeded
		} else {
			sr.Status = StatusFailed
		}

		if result.Mutated {
			written, saveErr := ds.Save()
			sr.Written = written
			metrics.AddRecordsWritten(written)
			if saveErr != nil {
				stepLog.Error("dataset save failed", zap.Error(saveErr))
				sr.Status = StatusFailed
				sr.Err = errors.Join(runErr, fmt.Errorf("save dataset: %w", saveErr))
				report.Steps = append(report.Steps, sr)
				report.Outcome = AbortedStep
				metrics.ObserveStep(entry.Step, string(StatusFailed))
				break
			}
			stepLog.Info("dataset saved", zap.Int("files_written", written))
		}

		report.Steps = append(report.Steps, sr)
		metrics.ObserveStep(entry.Step, string(sr.Status))

		if runErr != nil {
			if entry.NonFatal {
				stepLog.Warn("step failed, continuing (non-fatal)", zap.Error(runErr))
				continue
			}
			stepLog.Error("step failed, aborting run", zap.Error(runErr))
			report.Outcome = AbortedStep
			break
		}

		stepLog.Info("step finished",
			zap.String("summary", result.Summary),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
			zap.Bool("mutated", result.Mutated))
	}

	log.Info("run finished",
		zap.String("outcome", report.Outcome.String()),
		zap.Int("steps", len(report.Steps)),
		zap.Int("files_written", report.FilesWritten()))
	return report
}
