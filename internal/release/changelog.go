// SPDX-License-Identifier: MPL-2.0

package release

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"time"

	"smart-release/internal/changelog"
	"smart-release/internal/issue"
	"smart-release/internal/publish"
)

// ChangelogPreview is the changelog update of one planned package.
type ChangelogPreview struct {
	Package string
	Path    string
	// Section is the generated Markdown section.
	Section string
	// Content is the changelog with the section merged in.
	Content []byte
	// Changed reports whether Content differs from the file on disk.
	Changed bool
}

// Changelogs computes the changelog update of every planned package, in plan
// order, without writing anything.
func (p *Pipeline) Changelogs(prep *Prepared) ([]ChangelogPreview, error) {
	date := p.opts.Date
	if date.IsZero() {
		date = time.Now()
		if p.clock != nil {
			date = p.clock.Now()
		}
	}

	var out []ChangelogPreview
	for _, wave := range prep.Plan.Waves {
		for _, item := range wave {
			d := item.Decision
			existing, err := os.ReadFile(d.Package.ChangelogPath)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, issue.WrapWithContext(err, "read changelog", d.Package.ChangelogPath)
			}
			section := publish.ChangelogSection(d, date)
			content := changelog.Merge(existing, section, d.Current)
			out = append(out, ChangelogPreview{
				Package: item.Name,
				Path:    d.Package.ChangelogPath,
				Section: section.Render(),
				Content: content,
				Changed: !bytes.Equal(existing, content),
			})
		}
	}
	return out, nil
}

// WriteChangelogs writes the changed previews and returns their paths.
func WriteChangelogs(previews []ChangelogPreview) ([]string, error) {
	var written []string
	for _, pv := range previews {
		if !pv.Changed {
			continue
		}
		if err := publish.WriteFile(pv.Path, pv.Content); err != nil {
			return written, &publish.ChangelogWriteError{Package: pv.Package, Path: pv.Path, Err: err}
		}
		written = append(written, pv.Path)
	}
	return written, nil
}
