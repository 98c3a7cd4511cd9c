// Package github enriches software records with repository metadata from
// the GitHub REST API: star count, last-pushed date, archived flag.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/listkeeper/listkeeper/internal/catalog"
	"github.com/listkeeper/listkeeper/internal/fetch"
	"github.com/listkeeper/listkeeper/internal/pipeline"
)

const apiBase = "https://api.github.com"

// Options configures one github_metadata invocation.
type Options struct {
	// OnlyMissing skips records that already carry a star count, keeping
	// reruns cheap against the API quota.
	OnlyMissing bool `mapstructure:"only_missing"`
	// MaxConcurrent bounds in-flight records.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// FailThreshold is the fraction of failed lookups at which the step
	// itself fails. The default 1.0 escalates only when every lookup
	// failed; 0 escalates on the first failure.
	FailThreshold *float64 `mapstructure:"fail_threshold"`
}

func (o *Options) normalize() error {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 5
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

// Clock supplies merge timestamps.
type Clock interface {
	Now() time.Time
}

// Step looks up repository metadata for every record whose source URL
// points at a GitHub repository.
type Step struct {
	opts    Options
	client  *fetch.Client
	clock   Clock
	logger  *zap.Logger
	apiBase string
	token   string
}

// NewFactory returns the registry factory for the github_metadata step.
// The API token is read from GITHUB_TOKEN; unauthenticated lookups work but
// run into the much smaller anonymous quota.
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
		return &Step{
			opts:    opts,
			client:  client,
			clock:   clock,
			logger:  logger,
			apiBase: apiBase,
			token:   os.Getenv("GITHUB_TOKEN"),
		}, nil
	}
}

// Name implements pipeline.Step.
func (s *Step) Name() string { return "github_metadata" }

// repoMetadata is the subset of the GitHub repository payload we merge.
type repoMetadata struct {
	StargazersCount int       `json:"stargazers_count"`
	PushedAt        time.Time `json:"pushed_at"`
	Archived        bool      `json:"archived"`
}

type outcome struct {
	rec  *catalog.Record
	meta *repoMetadata
	err  error
}

// Run fetches metadata for all in-scope records concurrently and merges
// results on a single aggregator goroutine. A failed lookup counts against
// the summary but never clobbers previously known-good fields.
func (s *Step) Run(ctx context.Context, ds *catalog.Dataset) (pipeline.Result, error) {
	type target struct {
		rec   *catalog.Record
		owner string
		repo  string
	}
	var targets []target
	for _, rec := range ds.Records("software") {
		if s.opts.OnlyMissing && rec.Has("stars") {
			continue
		}
		owner, repo, ok := ParseRepoURL(rec.String("source_code_url"))
		if !ok {
			continue
		}
		targets = append(targets, target{rec: rec, owner: owner, repo: repo})
	}

	outcomes := make(chan outcome)
	done := make(chan struct{})
	var merged, succeeded, failed int
	go func() {
		defer close(done)
		for out := range outcomes {
			if out.err != nil {
				failed++
				s.logger.Warn("metadata lookup failed",
					zap.String("record", out.rec.ID()),
					zap.Error(out.err))
				continue
			}
			s.merge(out.rec, out.meta)
			merged++
			succeeded++
		}
	}()

	g := &errgroup.Group{}
	g.SetLimit(s.opts.MaxConcurrent)
	for _, tg := range targets {
		tg := tg
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			meta, err := s.lookup(ctx, tg.owner, tg.repo)
			outcomes <- outcome{rec: tg.rec, meta: meta, err: err}
			return nil
		})
	}
	_ = g.Wait()
	close(outcomes)
	<-done

	res := pipeline.Result{
		Mutated:   merged > 0,
		Succeeded: succeeded,
		Failed:    failed,
		Summary:   fmt.Sprintf("%d enriched, %d failed of %d repositories", succeeded, failed, len(targets)),
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("metadata lookup interrupted: %w", err)
	}
	if failed > 0 {
		total := succeeded + failed
		if ratio := float64(failed) / float64(total); ratio >= *s.opts.FailThreshold {
			return res, fmt.Errorf("%.0f%% of lookups failed, at or above threshold %.0f%%",
				ratio*100, *s.opts.FailThreshold*100)
		}
	}
	return res, nil
}

func (s *Step) lookup(ctx context.Context, owner, repo string) (*repoMetadata, error) {
	reqURL := fmt.Sprintf("%s/repos/%s/%s", s.apiBase, owner, repo)
	opts := &fetch.RequestOptions{Header: http.Header{
		"Accept": []string{"application/vnd.github+json"},
	}}
	if s.token != "" {
		opts.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(ctx, http.MethodGet, reqURL, opts)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("repository %s/%s: status %d", owner, repo, resp.StatusCode)
	}
	var meta repoMetadata
	if err := json.Unmarshal(resp.Body, &meta); err != nil {
		return nil, fmt.Errorf("decode repository %s/%s: %w", owner, repo, err)
	}
	return &meta, nil
}

// merge applies one lookup result, last write wins per field.
func (s *Step) merge(rec *catalog.Record, meta *repoMetadata) {
	rec.SetInt("stars", meta.StargazersCount)
	if !meta.PushedAt.IsZero() {
		rec.SetString("updated_at", meta.PushedAt.UTC().Format("2006-01-02"))
	}
	if meta.Archived {
		rec.SetBool("archived", true)
	} else if rec.Has("archived") {
		rec.SetBool("archived", false)
	}
}

// ParseRepoURL extracts owner and repository from a github.com URL.
// Deep links below the repository root (releases, wikis) still resolve to
// the repository itself.
func ParseRepoURL(raw string) (owner, repo string, ok bool) {
	if raw == "" {
		return "", "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}
	host := strings.ToLower(u.Hostname())
	if host != "github.com" && host != "www.github.com" {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}
