// Package exporter renders the dataset as a single-page markdown list,
// grouped by tag. The dataset is read-only input; the step never mutates it.
package exporter

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/listkeeper/listkeeper/internal/catalog"
	"github.com/listkeeper/listkeeper/internal/pipeline"
)

// Options configures one export_markdown invocation.
type Options struct {
	// OutputFile is the markdown file to write.
	OutputFile string `mapstructure:"output_file"`
	// ExcludeLicenses drops entries carrying any of these license
	// identifiers from the rendered page.
	ExcludeLicenses []string `mapstructure:"exclude_licenses"`
	// Title overrides the page heading.
	Title string `mapstructure:"title"`
}

// Step renders the markdown page.
type Step struct {
	opts   Options
	logger *zap.Logger
}

// NewFactory returns the registry factory for the export_markdown step.
func NewFactory(logger *zap.Logger) pipeline.Factory {
	return func(options map[string]any) (pipeline.Step, error) {
		var opts Options
		if err := pipeline.DecodeOptions(options, &opts); err != nil {
			return nil, err
		}
		if opts.OutputFile == "" {
			return nil, fmt.Errorf("output_file is required")
		}
		if opts.Title == "" {
			opts.Title = "Awesome Curated Software"
		}
		if logger == nil {
			logger = zap.NewNop()
		}
		return &Step{opts: opts, logger: logger}, nil
	}
}

// Name implements pipeline.Step.
func (s *Step) Name() string { return "export_markdown" }

// Run renders every tag section and writes the page atomically.
func (s *Step) Run(ctx context.Context, ds *catalog.Dataset) (pipeline.Result, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Result{}, err
	}

	excluded := make(map[string]struct{}, len(s.opts.ExcludeLicenses))
	for _, l := range s.opts.ExcludeLicenses {
		excluded[l] = struct{}{}
	}

	byTag := make(map[string][]*catalog.Record)
	skipped := 0
	for _, rec := range ds.Records("software") {
		if isExcluded(rec, excluded) {
			skipped++
			continue
		}
		for _, tag := range rec.StringList("tags") {
			byTag[tag] = append(byTag[tag], rec)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.opts.Title)
	b.WriteString("A curated list of software, generated from structured data.\n")

	tags := make([]string, 0, len(byTag))
	for tag := range byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	rendered := 0
	for _, tag := range tags {
		fmt.Fprintf(&b, "\n## %s\n", tag)
		if tagRec, err := ds.Get("tags", tag); err == nil {
			if desc := tagRec.String("description"); desc != "" {
				fmt.Fprintf(&b, "\n%s\n", desc)
			}
		}
		b.WriteString("\n")
		for _, rec := range byTag[tag] {
			b.WriteString(renderEntry(rec))
			rendered++
		}
	}

	if err := catalog.WriteFileAtomic(s.opts.OutputFile, []byte(b.String()), 0o644); err != nil {
		return pipeline.Result{}, fmt.Errorf("write markdown: %w", err)
	}

	s.logger.Info("markdown exported",
		zap.String("output", s.opts.OutputFile),
		zap.Int("entries", rendered),
		zap.Int("license_excluded", skipped))
	return pipeline.Result{
		Succeeded: rendered,
		Summary:   fmt.Sprintf("%d entries across %d tags written to %s", rendered, len(tags), s.opts.OutputFile),
	}, nil
}

func isExcluded(rec *catalog.Record, excluded map[string]struct{}) bool {
	for _, l := range rec.StringList("licenses") {
		if _, drop := excluded[l]; drop {
			return true
		}
	}
	return false
}

// renderEntry renders one software entry as a markdown bullet, matching the
// long-standing awesome-list item shape.
func renderEntry(rec *catalog.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- [%s](%s)", rec.ID(), rec.String("website_url"))
	if desc := rec.String("description"); desc != "" {
		b.WriteString(" - " + strings.TrimSuffix(desc, "\n"))
	}
	var extras []string
	if stars := rec.Int("stars"); stars > 0 {
		extras = append(extras, fmt.Sprintf("⭐ %d", stars))
	}
	if updated := rec.String("updated_at"); updated != "" {
		extras = append(extras, "updated "+updated)
	}
	if len(extras) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(extras, ", "))
	}
	if src := rec.String("source_code_url"); src != "" && src != rec.String("website_url") {
		fmt.Fprintf(&b, " ([source](%s))", src)
	}
	if demo := rec.String("demo_url"); demo != "" {
		fmt.Fprintf(&b, " ([demo](%s))", demo)
	}
	if licenses := rec.StringList("licenses"); len(licenses) > 0 {
		fmt.Fprintf(&b, " `%s`", strings.Join(licenses, "/"))
	}
	b.WriteString("\n")
	return b.String()
}
