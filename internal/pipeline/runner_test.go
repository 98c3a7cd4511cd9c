package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/listkeeper/listkeeper/internal/catalog"
)

type fakeStep struct {
	name string
	run  func(ctx context.Context, ds *catalog.Dataset) (Result, error)
}

func (s *fakeStep) Name() string { return s.name }

func (s *fakeStep) Run(ctx context.Context, ds *catalog.Dataset) (Result, error) {
	return s.run(ctx, ds)
}

func staticFactory(step Step) Factory {
	return func(map[string]any) (Step, error) { return step, nil }
}

func testDataset(t *testing.T) (*catalog.Dataset, string) {
	t.Helper()
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("software/gitea.yml", `name: Gitea
website_url: https://gitea.io/
description: Git hosting.
licenses:
  - MIT
tags:
  - Software Development
`)
	write("tags/software-development.yml", `name: Software Development
description: Tools for writing code.
`)
	write("licenses.yml", `- identifier: MIT
  name: MIT License
  url: https://opensource.org/licenses/MIT
`)
	ds, err := catalog.Load(root, nil)
	require.NoError(t, err)
	return ds, root
}

func TestRunnerExecutesStepsInOrder(t *testing.T) {
	t.Parallel()
	ds, _ := testDataset(t)

	var order []string
	reg := NewRegistry()
	for _, name := range []string{"first", "second", "third"} {
		name := name
		reg.Register(name, staticFactory(&fakeStep{name: name, run: func(context.Context, *catalog.Dataset) (Result, error) {
			order = append(order, name)
			return Result{Summary: name}, nil
		}}))
	}

	cfg := Config{Entries: []Entry{{Step: "first"}, {Step: "second"}, {Step: "third"}}}
	report := NewRunner(reg, zap.NewNop()).Run(context.Background(), "run-1", cfg, ds)

	assert.Equal(t, Completed, report.Outcome)
	assert.Equal(t, []string{"first", "second", "third"}, order)
	require.Len(t, report.Steps, 3)
	for i, sr := range report.Steps {
		assert.Equal(t, StatusSucceeded, sr.Status, "step %d", i)
	}
}

func TestRunnerUnknownStepAbortsAfterPersistingPriorMutation(t *testing.T) {
	t.Parallel()
	ds, root := testDataset(t)

	reg := NewRegistry()
	reg.Register("mutator", staticFactory(&fakeStep{name: "mutator", run: func(_ context.Context, ds *catalog.Dataset) (Result, error) {
		rec, err := ds.Get("software", "Gitea")
		if err != nil {
			return Result{}, err
		}
		rec.SetInt("stars", 7)
		return Result{Mutated: true, Succeeded: 1}, nil
	}}))

	cfg := Config{Entries: []Entry{{Step: "mutator"}, {Step: "does-not-exist"}}}
	report := NewRunner(reg, zap.NewNop()).Run(context.Background(), "run-1", cfg, ds)

	assert.Equal(t, AbortedConfig, report.Outcome)
	require.Len(t, report.Steps, 2)
	assert.Equal(t, StatusSucceeded, report.Steps[0].Status)
	assert.Equal(t, 1, report.Steps[0].Written)
	assert.Equal(t, StatusUnresolved, report.Steps[1].Status)

	var unknown *UnknownStepError
	require.ErrorAs(t, report.Steps[1].Err, &unknown)
	assert.Equal(t, "does-not-exist", unknown.Step)

	// The mutation from the step before the abort is on disk.
	data, err := os.ReadFile(filepath.Join(root, "software", "gitea.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "stars: 7")
}

func TestRunnerFatalStepFailureAbortsKeepingPriorProgress(t *testing.T) {
	t.Parallel()
	ds, root := testDataset(t)

	reg := NewRegistry()
	reg.Register("mutator", staticFactory(&fakeStep{name: "mutator", run: func(_ context.Context, ds *catalog.Dataset) (Result, error) {
		rec, err := ds.Get("software", "Gitea")
		if err != nil {
			return Result{}, err
		}
		rec.SetString("url_check_status", "ok")
		return Result{Mutated: true}, nil
	}}))
	reg.Register("boom", staticFactory(&fakeStep{name: "boom", run: func(context.Context, *catalog.Dataset) (Result, error) {
		return Result{}, errors.New("step exploded")
	}}))
	reg.Register("never", staticFactory(&fakeStep{name: "never", run: func(context.Context, *catalog.Dataset) (Result, error) {
		t.Fatal("step after a fatal failure must not run")
		return Result{}, nil
	}}))

	cfg := Config{Entries: []Entry{{Step: "mutator"}, {Step: "boom"}, {Step: "never"}}}
	report := NewRunner(reg, zap.NewNop()).Run(context.Background(), "run-1", cfg, ds)

	assert.Equal(t, AbortedStep, report.Outcome)
	require.Len(t, report.Steps, 2)
	assert.Equal(t, StatusFailed, report.Steps[1].Status)

	data, err := os.ReadFile(filepath.Join(root, "software", "gitea.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "url_check_status: ok")
}

func TestRunnerNonFatalFailureContinues(t *testing.T) {
	t.Parallel()
	ds, _ := testDataset(t)

	ran := false
	reg := NewRegistry()
	reg.Register("boom", staticFactory(&fakeStep{name: "boom", run: func(context.Context, *catalog.Dataset) (Result, error) {
		return Result{}, errors.New("step exploded")
	}}))
	reg.Register("after", staticFactory(&fakeStep{name: "after", run: func(context.Context, *catalog.Dataset) (Result, error) {
		ran = true
		return Result{}, nil
	}}))

	cfg := Config{Entries: []Entry{{Step: "boom", NonFatal: true}, {Step: "after"}}}
	report := NewRunner(reg, zap.NewNop()).Run(context.Background(), "run-1", cfg, ds)

	assert.Equal(t, Completed, report.Outcome)
	assert.True(t, ran)
	require.Len(t, report.Steps, 2)
	assert.Equal(t, StatusFailed, report.Steps[0].Status)
	assert.Equal(t, StatusSucceeded, report.Steps[1].Status)
}

func TestRunnerFailedMutatingStepStillSaves(t *testing.T) {
	t.Parallel()
	ds, root := testDataset(t)

	reg := NewRegistry()
	reg.Register("partial", staticFactory(&fakeStep{name: "partial", run: func(_ context.Context, ds *catalog.Dataset) (Result, error) {
		rec, err := ds.Get("software", "Gitea")
		if err != nil {
			return Result{}, err
		}
		rec.SetString("url_check_status", "failed")
		return Result{Mutated: true, Failed: 1}, errors.New("too many target failures")
	}}))

	cfg := Config{Entries: []Entry{{Step: "partial"}}}
	report := NewRunner(reg, zap.NewNop()).Run(context.Background(), "run-1", cfg, ds)

	assert.Equal(t, AbortedStep, report.Outcome)
	assert.Equal(t, 1, report.FilesWritten())

	data, err := os.ReadFile(filepath.Join(root, "software", "gitea.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "url_check_status: failed")
}

func TestRunnerCanceledContextSkipsRemainingSteps(t *testing.T) {
	t.Parallel()
	ds, _ := testDataset(t)

	reg := NewRegistry()
	reg.Register("noop", staticFactory(&fakeStep{name: "noop", run: func(context.Context, *catalog.Dataset) (Result, error) {
		return Result{}, nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{Entries: []Entry{{Step: "noop"}}}
	report := NewRunner(reg, zap.NewNop()).Run(ctx, "run-1", cfg, ds)

	assert.Equal(t, AbortedStep, report.Outcome)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, StatusSkipped, report.Steps[0].Status)
	assert.ErrorIs(t, report.Steps[0].Err, context.Canceled)
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register("known", staticFactory(&fakeStep{name: "known"}))

	_, err := reg.Resolve(Entry{Step: "nope"})
	var unknown *UnknownStepError
	require.ErrorAs(t, err, &unknown)

	step, err := reg.Resolve(Entry{Step: "known"})
	require.NoError(t, err)
	assert.Equal(t, "known", step.Name())

	assert.Equal(t, []string{"known"}, reg.Names())
}

func TestDecodeOptions(t *testing.T) {
	t.Parallel()

	type opts struct {
		MaxConcurrent int           `mapstructure:"max_concurrent"`
		Window        time.Duration `mapstructure:"window"`
		OnlyTags      []string      `mapstructure:"only_tags"`
	}

	var got opts
	err := DecodeOptions(map[string]any{
		"max_concurrent": 5,
		"window":         "30s",
		"only_tags":      []any{"a", "b"},
	}, &got)
	require.NoError(t, err)
	assert.Equal(t, 5, got.MaxConcurrent)
	assert.Equal(t, 30*time.Second, got.Window)
	assert.Equal(t, []string{"a", "b"}, got.OnlyTags)

	err = DecodeOptions(map[string]any{"max_concurent": 5}, &opts{})
	require.Error(t, err, "typoed keys must be rejected")
}
