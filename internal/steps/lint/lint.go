// Package lint validates record attributes beyond structural integrity:
// required fields, URL shapes, description length. Read-only.
package lint

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/listkeeper/listkeeper/internal/catalog"
	"github.com/listkeeper/listkeeper/internal/pipeline"
)

// requiredFields must be present and non-empty on every software record.
var requiredFields = []string{"name", "website_url", "description", "licenses", "tags"}

// maxDescriptionLength keeps rendered list entries on one line.
const maxDescriptionLength = 250

// Options configures one lint invocation.
type Options struct {
	// WarnOnly reports findings without failing the step.
	WarnOnly bool `mapstructure:"warn_only"`
	// MaxDescriptionLength overrides the default description cap.
	MaxDescriptionLength int `mapstructure:"max_description_length"`
}

// Step runs attribute checks over all software records.
type Step struct {
	opts   Options
	logger *zap.Logger
}

// NewFactory returns the registry factory for the lint step.
func NewFactory(logger *zap.Logger) pipeline.Factory {
	return func(options map[string]any) (pipeline.Step, error) {
		var opts Options
		if err := pipeline.DecodeOptions(options, &opts); err != nil {
			return nil, err
		}
		if opts.MaxDescriptionLength <= 0 {
			opts.MaxDescriptionLength = maxDescriptionLength
		}
		if logger == nil {
			logger = zap.NewNop()
		}
		return &Step{opts: opts, logger: logger}, nil
	}
}

// Name implements pipeline.Step.
func (s *Step) Name() string { return "lint" }

// Run checks every software record and summarizes findings per record.
func (s *Step) Run(ctx context.Context, ds *catalog.Dataset) (pipeline.Result, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Result{}, err
	}

	var findings []string
	clean := 0
	for _, rec := range ds.Records("software") {
		recFindings := s.lintRecord(rec)
		if len(recFindings) == 0 {
			clean++
			continue
		}
		for _, f := range recFindings {
			findings = append(findings, fmt.Sprintf("%s: %s", rec.ID(), f))
			s.logger.Warn("lint finding", zap.String("record", rec.ID()), zap.String("finding", f))
		}
	}

	res := pipeline.Result{
		Succeeded: clean,
		Failed:    len(ds.Records("software")) - clean,
		Summary:   fmt.Sprintf("%d clean, %d findings", clean, len(findings)),
	}
	if len(findings) > 0 && !s.opts.WarnOnly {
		return res, fmt.Errorf("%d lint finding(s): %s", len(findings), strings.Join(findings, "; "))
	}
	return res, nil
}

func (s *Step) lintRecord(rec *catalog.Record) []string {
	var findings []string
	for _, field := range requiredFields {
		if rec.String(field) == "" && len(rec.StringList(field)) == 0 {
			findings = append(findings, fmt.Sprintf("missing required field %q", field))
		}
	}
	if desc := rec.String("description"); len(desc) > s.opts.MaxDescriptionLength {
		findings = append(findings, fmt.Sprintf("description is %d characters, cap is %d", len(desc), s.opts.MaxDescriptionLength))
	}
	for _, field := range []string{"website_url", "source_code_url", "demo_url"} {
		raw := rec.String(field)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			findings = append(findings, fmt.Sprintf("field %q is not an http(s) URL: %q", field, raw))
		}
	}
	return findings
}
