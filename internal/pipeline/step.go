// Package pipeline resolves named steps through a registry and executes
// them strictly in configured order, persisting dataset mutations after
// every mutating step so partial progress survives interruption.
package pipeline

import (
	"context"
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/listkeeper/listkeeper/internal/catalog"
)

// Result is the outcome of running one step.
type Result struct {
	Summary   string
	Mutated   bool
	Succeeded int
	Failed    int
}

// Step is one named, configurable unit of pipeline work. A step reporting
// an error is a step-level failure; per-target failures inside an
// enrichment step are summarized in the Result instead.
type Step interface {
	Name() string
	Run(ctx context.Context, ds *catalog.Dataset) (Result, error)
}

// Factory builds a step from its option map. Options are decoded and
// validated here, at resolution time, never ad hoc during execution.
type Factory func(options map[string]any) (Step, error)

// Entry is one configured step invocation.
type Entry struct {
	Name     string         `mapstructure:"name"`
	Step     string         `mapstructure:"step"`
	NonFatal bool           `mapstructure:"non_fatal"`
	Options  map[string]any `mapstructure:"options"`
}

// DisplayName returns the configured label, falling back to the step kind.
func (e Entry) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Step
}

// Config is the ordered list of step invocations for one run. It is loaded
// once and never changes during execution.
type Config struct {
	Entries []Entry
}

// DecodeOptions decodes a loosely-typed option map into a typed option
// struct. Unknown keys are rejected so configuration typos fail the run
// before any step executes; duration fields accept "30s"-style strings.
func DecodeOptions(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("build options decoder: %w", err)
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}
