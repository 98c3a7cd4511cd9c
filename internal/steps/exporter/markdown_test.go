package exporter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/listkeeper/listkeeper/internal/catalog"
)

func writeDataset(t *testing.T) *catalog.Dataset {
	t.Helper()
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("software/gitea.yml", `name: Gitea
website_url: https://gitea.io/
source_code_url: https://github.com/go-gitea/gitea
description: Git hosting platform.
licenses:
  - MIT
tags:
  - Software Development
stars: 45213
updated_at: "2026-07-30"
`)
	write("software/closed.yml", `name: ClosedThing
website_url: https://closed.example.com/
description: Proprietary tool.
licenses:
  - Proprietary
tags:
  - Software Development
`)
	write("tags/software-development.yml", `name: Software Development
description: Tools for writing and hosting code.
`)
	write("licenses.yml", `- identifier: MIT
  name: MIT License
  url: https://opensource.org/licenses/MIT
- identifier: Proprietary
  name: Proprietary license
  url: https://example.com/
`)
	ds, err := catalog.Load(root, nil)
	require.NoError(t, err)
	return ds
}

func TestExportRendersTagSections(t *testing.T) {
	t.Parallel()
	ds := writeDataset(t)
	out := filepath.Join(t.TempDir(), "README.md")

	factory := NewFactory(zap.NewNop())
	step, err := factory(map[string]any{"output_file": out})
	require.NoError(t, err)

	res, err := step.Run(context.Background(), ds)
	require.NoError(t, err)
	assert.False(t, res.Mutated, "export never mutates the dataset")
	assert.False(t, ds.Dirty())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	page := string(data)
	assert.Contains(t, page, "## Software Development")
	assert.Contains(t, page, "Tools for writing and hosting code.")
	assert.Contains(t, page, "- [Gitea](https://gitea.io/) - Git hosting platform. (⭐ 45213, updated 2026-07-30)")
	assert.Contains(t, page, "([source](https://github.com/go-gitea/gitea))")
	assert.Contains(t, page, "`MIT`")
	assert.Contains(t, page, "[ClosedThing]")
}

func TestExportExcludesLicenses(t *testing.T) {
	t.Parallel()
	ds := writeDataset(t)
	out := filepath.Join(t.TempDir(), "README.md")

	factory := NewFactory(zap.NewNop())
	step, err := factory(map[string]any{
		"output_file":      out,
		"exclude_licenses": []any{"Proprietary"},
	})
	require.NoError(t, err)

	res, err := step.Run(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "ClosedThing")
	assert.Contains(t, string(data), "Gitea")
}

func TestFactoryRequiresOutputFile(t *testing.T) {
	t.Parallel()
	factory := NewFactory(zap.NewNop())
	_, err := factory(nil)
	require.Error(t, err)
}
