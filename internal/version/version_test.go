// SPDX-License-Identifier: MPL-2.0

package version

import (
	"errors"
	"testing"
)

func TestParseBump(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Bump
		wantErr bool
	}{
		{"none", None, false},
		{"patch", Patch, false},
		{"Minor", Minor, false},
		{" major ", Major, false},
		{"huge", None, true},
		{"", None, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := ParseBump(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidBump) {
					t.Fatalf("ParseBump(%q) error = %v, want ErrInvalidBump", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseBump(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseBump(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestBumpOrdering(t *testing.T) {
	t.Parallel()

	if !(None < Patch && Patch < Minor && Minor < Major) {
		t.Fatal("bump levels are not totally ordered None < Patch < Minor < Major")
	}
	if got := Max(Minor, Patch); got != Minor {
		t.Errorf("Max(Minor, Patch) = %v, want minor", got)
	}
	if got := Max(None, Major); got != Major {
		t.Errorf("Max(None, Major) = %v, want major", got)
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		from         string
		bump         Bump
		conservative bool
		want         string
	}{
		{"none keeps version", "1.2.3", None, true, "1.2.3"},
		{"patch", "1.2.3", Patch, true, "1.2.4"},
		{"minor resets patch", "1.2.3", Minor, true, "1.3.0"},
		{"major resets minor and patch", "1.2.3", Major, true, "2.0.0"},
		{"conservative major on 0.x", "0.4.2", Major, true, "0.5.0"},
		{"conservative minor on 0.x", "0.4.2", Minor, true, "0.4.3"},
		{"non-conservative major on 0.x", "0.4.2", Major, false, "1.0.0"},
		{"non-conservative minor on 0.x", "0.4.2", Minor, false, "0.5.0"},
		{"pre-release drops tag", "2.0.0-alpha.3", Patch, true, "2.0.0"},
		{"pre-release ignores level", "2.0.0-rc.1", Major, false, "2.0.0"},
		{"build metadata dropped", "1.0.0+build.5", Patch, true, "1.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Apply(MustParse(tt.from), tt.bump, tt.conservative)
			if got.String() != tt.want {
				t.Errorf("Apply(%s, %v) = %s, want %s", tt.from, tt.bump, got, tt.want)
			}
		})
	}
}

func TestBetween(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to string
		want     Bump
	}{
		{"1.0.0", "1.0.0", None},
		{"1.0.0", "1.0.1", Patch},
		{"1.0.0", "1.1.0", Minor},
		{"1.4.2", "2.0.0", Major},
		{"2.0.0", "1.0.0", None},
	}

	for _, tt := range tests {
		if got := Between(MustParse(tt.from), MustParse(tt.to)); got != tt.want {
			t.Errorf("Between(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseInvalidVersion(t *testing.T) {
	t.Parallel()

	_, err := Parse("1.2")
	if !errors.Is(err, ErrInvalidVersion) {
		t.Fatalf("Parse(1.2) error = %v, want ErrInvalidVersion", err)
	}
	var ive *InvalidVersionError
	if !errors.As(err, &ive) || ive.Value != "1.2" {
		t.Errorf("errors.As(InvalidVersionError) failed or wrong value: %v", err)
	}
}

func TestRequirementMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		req     string
		version string
		want    bool
	}{
		{"", "9.9.9", true},
		{"*", "0.0.1", true},
		{"^1.0", "1.9.0", true},
		{"^1.0", "2.0.0", false},
		{"1.2.3", "1.5.0", true},
		{"1.2.3", "1.2.2", false},
		{"0.3", "0.3.9", true},
		{"0.3", "0.4.0", false},
		{"~1.2", "1.2.9", true},
		{"~1.2", "1.3.0", false},
		{"=1.2.3", "1.2.3", true},
		{"=1.2.3", "1.2.4", false},
		{"=1.2", "1.2.7", true},
		{"=1.2", "1.3.0", false},
		{">=1.0, <2.0", "1.5.0", true},
		{">=1.0, <2.0", "2.0.0", false},
		{"1.*", "1.8.0", true},
		{"1.*", "2.0.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.req+"/"+tt.version, func(t *testing.T) {
			t.Parallel()

			r, err := ParseRequirement(tt.req)
			if err != nil {
				t.Fatalf("ParseRequirement(%q) error: %v", tt.req, err)
			}
			if got := r.Matches(MustParse(tt.version)); got != tt.want {
				t.Errorf("%q.Matches(%s) = %v, want %v", tt.req, tt.version, got, tt.want)
			}
		})
	}
}

func TestRequirementWiden(t *testing.T) {
	t.Parallel()

	tests := []struct {
		req     string
		version string
		want    string
	}{
		{"^1.0", "2.0.0", "^2.0"},
		{"1.2.3", "2.0.0", "2.0.0"},
		{"~1.2", "2.0.0", "~2.0"},
		{"~1.2", "1.3.0", "~1.3"},
		{"=1.2.3", "2.0.0", "=2.0.0"},
		{"=1.2.3", "1.2.4", "=1.2.4"},
		{"0.3", "0.4.0", "0.4"},
		{"1", "2.0.0", "2"},
		{">=1.0, <2.0", "2.0.0", "^2.0.0"},
		{"<2.0", "2.1.0", "^2.1.0"},
		{"1.*", "2.0.0", "2.*"},
		{"^1.0", "1.5.0", "^1.0"},
		{"^1.0", "2.0.0-alpha.1", "^2.0.0-alpha.1"},
	}

	for _, tt := range tests {
		t.Run(tt.req+"/"+tt.version, func(t *testing.T) {
			t.Parallel()

			v := MustParse(tt.version)
			got := MustParseRequirement(tt.req).Widen(v)
			if got.String() != tt.want {
				t.Errorf("%q.Widen(%s) = %q, want %q", tt.req, tt.version, got, tt.want)
			}
			if !got.Matches(v) {
				t.Errorf("widened requirement %q does not match %s", got, tt.version)
			}
		})
	}
}

func TestParseRequirementInvalid(t *testing.T) {
	t.Parallel()

	_, err := ParseRequirement("not a version")
	if !errors.Is(err, ErrInvalidRequirement) {
		t.Fatalf("ParseRequirement error = %v, want ErrInvalidRequirement", err)
	}
}
