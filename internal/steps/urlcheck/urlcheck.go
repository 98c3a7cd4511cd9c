// Package urlcheck verifies that the URLs recorded on software entries are
// still reachable, and merges a reachability status back into each record.
package urlcheck

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/listkeeper/listkeeper/internal/catalog"
	"github.com/listkeeper/listkeeper/internal/fetch"
	"github.com/listkeeper/listkeeper/internal/pipeline"
)

// urlFields are the record fields probed for reachability, in check order.
var urlFields = []string{"website_url", "source_code_url", "demo_url"}

// Options configures one url_check invocation.
type Options struct {
	// MaxConcurrent bounds in-flight records; the client's global cap
	// still applies on top.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// OnlyTags restricts the check to records carrying at least one of
	// these tags. Empty means all records.
	OnlyTags []string `mapstructure:"only_tags"`
	// FailThreshold is the fraction of failed records at which the step
	// itself fails. The default 1.0 escalates only when every record
	// failed; 0 escalates on the first failure.
	FailThreshold *float64 `mapstructure:"fail_threshold"`
}

func (o *Options) normalize() error {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 10
	}
	if o.FailThreshold == nil {
		v := 1.0
		o.FailThreshold = &v
	}
	if *o.FailThreshold < 0 || *o.FailThreshold > 1 {
		return fmt.Errorf("fail_threshold must be within [0, 1], got %v", *o.FailThreshold)
	}
	return nil
}

// Clock supplies the last_checked_at timestamp.
type Clock interface {
	Now() time.Time
}

// Step checks every URL of the in-scope records through the shared client.
type Step struct {
	opts   Options
	client *fetch.Client
	clock  Clock
	logger *zap.Logger
}

// NewFactory returns the registry factory for the url_check step.
func NewFactory(client *fetch.Client, clock Clock, logger *zap.Logger) pipeline.Factory {
	return func(options map[string]any) (pipeline.Step, error) {
		var opts Options
		if err := pipeline.DecodeOptions(options, &opts); err != nil {
			return nil, err
		}
		if err := opts.normalize(); err != nil {
			return nil, err
		}
		if logger == nil {
			logger = zap.NewNop()
		}
		return &Step{opts: opts, client: client, clock: clock, logger: logger}, nil
	}
}

// Name implements pipeline.Step.
func (s *Step) Name() string { return "url_check" }

// outcome is one record's check result, produced by a worker and merged by
// the single aggregator goroutine.
type outcome struct {
	rec       *catalog.Record
	reachable bool
	detail    string
}

// Run checks all in-scope records concurrently. One record's failure never
// blocks or fails another; all merges into the dataset happen on a single
// goroutine so the in-memory graph sees one mutator at a time.
func (s *Step) Run(ctx context.Context, ds *catalog.Dataset) (pipeline.Result, error) {
	records := s.selectRecords(ds)
	outcomes := make(chan outcome)

	done := make(chan struct{})
	var merged, reachable, failed int
	go func() {
		defer close(done)
		for out := range outcomes {
			s.merge(out)
			merged++
			if out.reachable {
				reachable++
			} else {
				failed++
			}
		}
	}()

	g := &errgroup.Group{}
	g.SetLimit(s.opts.MaxConcurrent)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			targets := recordTargets(rec)
			if len(targets) == 0 {
				return nil
			}
			ok, detail := s.checkTargets(ctx, targets)
			outcomes <- outcome{rec: rec, reachable: ok, detail: detail}
			return nil
		})
	}
	_ = g.Wait()
	close(outcomes)
	<-done

	res := pipeline.Result{
		Mutated:   merged > 0,
		Succeeded: reachable,
		Failed:    failed,
		Summary:   fmt.Sprintf("%d reachable, %d failed of %d checked", reachable, failed, merged),
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("url check interrupted: %w", err)
	}
	if failed > 0 {
		if ratio := float64(failed) / float64(merged); ratio >= *s.opts.FailThreshold {
			return res, fmt.Errorf("%.0f%% of records failed, at or above threshold %.0f%%",
				ratio*100, *s.opts.FailThreshold*100)
		}
	}
	return res, nil
}

func (s *Step) selectRecords(ds *catalog.Dataset) []*catalog.Record {
	all := ds.Records("software")
	if len(s.opts.OnlyTags) == 0 {
		return all
	}
	want := make(map[string]struct{}, len(s.opts.OnlyTags))
	for _, t := range s.opts.OnlyTags {
		want[t] = struct{}{}
	}
	var out []*catalog.Record
	for _, rec := range all {
		for _, tag := range rec.StringList("tags") {
			if _, ok := want[tag]; ok {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}

// checkTargets probes each URL with HEAD, falling back to GET for servers
// that reject HEAD. The record counts as reachable only when every target is.
func (s *Step) checkTargets(ctx context.Context, targets []string) (bool, string) {
	var failures []string
	for _, target := range targets {
		if err := s.checkOne(ctx, target); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", target, err))
		}
	}
	if len(failures) > 0 {
		return false, strings.Join(failures, "; ")
	}
	return true, ""
}

func (s *Step) checkOne(ctx context.Context, target string) error {
	resp, err := s.client.Do(ctx, http.MethodHead, target, nil)
	if err == nil && (resp.OK() || resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusForbidden) {
		if resp.StatusCode == http.StatusMethodNotAllowed {
			return s.checkGet(ctx, target)
		}
		return nil
	}
	if err != nil {
		return err
	}
	// Redirect-following already happened in the transport; any remaining
	// non-2xx HEAD answer gets one GET confirmation before being trusted.
	return s.checkGet(ctx, target)
}

func (s *Step) checkGet(ctx context.Context, target string) error {
	resp, err := s.client.Do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// merge writes the outcome into the record. A failure updates only the
// status and error fields; previously known-good data is never clobbered.
func (s *Step) merge(out outcome) {
	out.rec.SetString("last_checked_at", s.clock.Now().UTC().Format(time.RFC3339))
	if out.reachable {
		out.rec.SetString("url_check_status", "ok")
		out.rec.Delete("url_check_error")
		return
	}
	out.rec.SetString("url_check_status", "failed")
	out.rec.SetString("url_check_error", out.detail)
	s.logger.Warn("record urls unreachable",
		zap.String("record", out.rec.ID()),
		zap.String("detail", out.detail))
}

func recordTargets(rec *catalog.Record) []string {
	seen := make(map[string]struct{}, len(urlFields))
	var targets []string
	for _, field := range urlFields {
		url := rec.String(field)
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		targets = append(targets, url)
	}
	return targets
}
