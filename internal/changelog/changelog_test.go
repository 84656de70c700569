// SPDX-License-Identifier: MPL-2.0

package changelog

import (
	"strings"
	"testing"
	"time"

	"smart-release/internal/commit"
	"smart-release/internal/history"
	"smart-release/internal/version"
)

var day = time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC)

func classified(entries ...[2]string) []commit.Classified {
	var hs []history.Commit
	for _, e := range entries {
		hs = append(hs, history.Commit{Hash: e[0], Message: e[1]})
	}
	return commit.Classify(hs)
}

func sampleSection(date time.Time) Section {
	return NewSection("core", version.MustParse("2.0.0"), date, classified(
		[2]string{"aaaaaaa1111111111111111111111111111111111", "feat(api)!: drop v1 endpoints"},
		[2]string{"bbbbbbb2222222222222222222222222222222222", "feat: streaming reads"},
		[2]string{"ccccccc3333333333333333333333333333333333", "fix(io): close on error"},
		[2]string{"ddddddd4444444444444444444444444444444444", "chore: bump toolchain"},
	), []DependencyUpdate{{Name: "util", Version: "1.4.0"}})
}

func TestSection_Render(t *testing.T) {
	t.Parallel()

	want := `## 2.0.0 (2024-03-01)

### ⚠ BREAKING CHANGES

- **api:** drop v1 endpoints (aaaaaaa)

### Features

- streaming reads (bbbbbbb)

### Bug Fixes

- **io:** close on error (ccccccc)

### Dependencies

- Update ` + "`util`" + ` to 1.4.0.

<!-- smart-release:commits aaaaaaa1111111111111111111111111111111111 bbbbbbb2222222222222222222222222222222222 ccccccc3333333333333333333333333333333333 ddddddd4444444444444444444444444444444444 -->
`
	if got := sampleSection(day).Render(); got != want {
		t.Errorf("Render() mismatch:\n--- got ---\n%s\n--- want ---\n%s", got, want)
	}
}

func TestSection_RenderOtherOnly(t *testing.T) {
	t.Parallel()

	s := NewSection("core", version.MustParse("1.0.1"), day, classified(
		[2]string{"eeeeeee5555555555555555555555555555555555", "chore: nothing visible"},
	), nil)
	got := s.Render()
	if !strings.Contains(got, "- No user-facing changes.") {
		t.Errorf("expected placeholder bullet, got:\n%s", got)
	}
	if !strings.Contains(got, "eeeeeee5555555555555555555555555555555555") {
		t.Errorf("other commits must still be recorded:\n%s", got)
	}
}

func TestMerge_NewFileUsesPreamble(t *testing.T) {
	t.Parallel()

	got := string(Merge(nil, sampleSection(day), nil))
	if !strings.HasPrefix(got, DefaultPreamble+"\n## 2.0.0 (2024-03-01)\n") {
		t.Errorf("unexpected new changelog:\n%s", got)
	}
}

func TestMerge_InsertsAfterPreambleBeforeUnreleased(t *testing.T) {
	t.Parallel()

	existing := `# Changelog

Hand-written intro that must survive.

## Unreleased

- something a human wrote

## 1.0.0 (2023-01-01)

- initial release
`
	got := string(Merge([]byte(existing), sampleSection(day), version.MustParse("1.0.0")))

	intro := strings.Index(got, "Hand-written intro")
	section := strings.Index(got, "## 2.0.0 (2024-03-01)")
	unreleased := strings.Index(got, "## Unreleased")
	if intro < 0 || section < 0 || unreleased < 0 || !(intro < section && section < unreleased) {
		t.Fatalf("section not inserted between preamble and Unreleased:\n%s", got)
	}
	// Every pre-existing byte is preserved in order.
	if strings.Replace(got, sampleSection(day).Render()+"\n", "", 1) != existing {
		t.Errorf("existing content was altered:\n%s", got)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	t.Parallel()

	existing := []byte("# Changelog\n\n## 1.0.0 (2023-01-01)\n\n- initial release\n")
	released := version.MustParse("1.0.0")

	first := Merge(existing, sampleSection(day), released)
	// A re-run on a later day reuses the recorded date.
	second := Merge(first, sampleSection(day.AddDate(0, 0, 3)), released)
	if string(first) != string(second) {
		t.Errorf("merge is not idempotent:\n--- first ---\n%s\n--- second ---\n%s", first, second)
	}

	fresh := Merge(nil, sampleSection(day), nil)
	if again := Merge(fresh, sampleSection(day), nil); string(again) != string(fresh) {
		t.Errorf("merge into a new file is not idempotent:\n%s", again)
	}
}

func TestMerge_ReplacesSupersededPreparedSection(t *testing.T) {
	t.Parallel()

	released := version.MustParse("1.0.0")
	prepared := NewSection("core", version.MustParse("1.1.0"), day, classified(
		[2]string{"bbbbbbb2222222222222222222222222222222222", "feat: streaming reads"},
	), nil)
	existing := Merge([]byte("# Changelog\n\n## 1.0.0 (2023-01-01)\n\n- initial release\n"), prepared, released)

	got := string(Merge(existing, sampleSection(day), released))
	if strings.Contains(got, "## 1.1.0") {
		t.Errorf("superseded prepared section should be replaced:\n%s", got)
	}
	if !strings.Contains(got, "## 2.0.0 (2024-03-01)") || !strings.Contains(got, "## 1.0.0 (2023-01-01)") {
		t.Errorf("unexpected result:\n%s", got)
	}
}

func TestParse_SectionsAndReleasedCommits(t *testing.T) {
	t.Parallel()

	src := "# Changelog\n\n" +
		"```markdown\n## 9.9.9 (not a heading)\n```\n\n" +
		"## [Unreleased]\n\n" +
		"## 1.1.0 (2024-01-02)\n\n- x\n\n<!-- smart-release:commits h3 h4 -->\n\n" +
		"## [1.0.0] - 2023-12-01\n\n- y\n\n<!-- smart-release:commits h1 h2 -->\n"
	doc := Parse([]byte(src))

	if len(doc.Sections) != 3 {
		t.Fatalf("expected 3 sections, got %+v", doc.Sections)
	}
	if !doc.Sections[0].Unreleased {
		t.Errorf("first section should be Unreleased: %+v", doc.Sections[0])
	}
	s, ok := doc.Find(version.MustParse("1.0.0"))
	if !ok || s.Date.Format(DateLayout) != "2023-12-01" || strings.Join(s.Commits, ",") != "h1,h2" {
		t.Errorf("1.0.0 section = %+v", s)
	}

	released := doc.ReleasedCommits(version.MustParse("1.0.0"))
	if !released["h1"] || !released["h2"] || released["h3"] {
		t.Errorf("ReleasedCommits(1.0.0) = %v", released)
	}
	if all := doc.ReleasedCommits(version.MustParse("1.1.0")); len(all) != 4 {
		t.Errorf("ReleasedCommits(1.1.0) = %v", all)
	}
}

func TestMerge_KeepsHandWrittenSectionOfSameVersion(t *testing.T) {
	t.Parallel()

	released := version.MustParse("1.0.0")
	tests := []struct {
		name     string
		existing string
	}{
		{
			name:     "last section",
			existing: "# Changelog\n\n## 2.0.0\n\nMigration notes.\n",
		},
		{
			name:     "followed by older sections",
			existing: "# Changelog\n\n## 2.0.0\n\nMigration notes.\n\n\n## 1.0.0 (2023-01-01)\n\n- initial release\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			first := string(Merge([]byte(tt.existing), sampleSection(day), released))
			notes := strings.Index(first, "Migration notes.")
			marker := strings.Index(first, generatedMarker)
			entry := strings.Index(first, "- streaming reads (bbbbbbb)")
			if notes < 0 || marker < notes || entry < marker {
				t.Fatalf("hand-written notes must precede the generated entries:\n%s", first)
			}
			if strings.Count(first, "## 2.0.0") != 1 {
				t.Errorf("the version heading must not be duplicated:\n%s", first)
			}
			if strings.Contains(tt.existing, "## 1.0.0") && !strings.HasSuffix(first, "\n## 1.0.0 (2023-01-01)\n\n- initial release\n") {
				t.Errorf("older sections changed:\n%s", first)
			}

			doc := Parse([]byte(first))
			s, ok := doc.Find(version.MustParse("2.0.0"))
			if !ok || !s.Generated || s.GeneratedStart == 0 || len(s.Commits) != 4 {
				t.Errorf("2.0.0 section = %+v", s)
			}

			if second := string(Merge([]byte(first), sampleSection(day), released)); second != first {
				t.Errorf("second merge changed the file:\n--- first ---\n%s\n--- second ---\n%s", first, second)
			}
		})
	}
}

func TestMerge_DependencyOnlySectionIsRegenerated(t *testing.T) {
	t.Parallel()

	s := NewSection("app", version.MustParse("0.1.1"), day, nil, []DependencyUpdate{{Name: "util", Version: "2.0.0"}})
	first := Merge(nil, s, nil)
	if !strings.Contains(string(first), commitsMarkerPrefix+" -->") {
		t.Fatalf("a section without commits must still carry the marker:\n%s", first)
	}
	if again := Merge(first, s, nil); string(again) != string(first) {
		t.Errorf("merge is not idempotent:\n%s", again)
	}
}
