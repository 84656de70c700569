// SPDX-License-Identifier: MPL-2.0

// Package registry talks to a package registry: it uploads packaged crates
// and checks whether a published version is visible in the registry index.
package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"smart-release/internal/version"
	"smart-release/internal/workspace"
)

var (
	// ErrAlreadyPublished is returned by Publish when the registry already has
	// the version. Resuming a partially completed run treats it as success.
	ErrAlreadyPublished = errors.New("version already published")

	// ErrUnauthorized is returned when the registry rejects the credentials.
	// Retrying does not help.
	ErrUnauthorized = errors.New("registry rejected the credentials")

	// ErrArtifact is returned when the package archive to upload cannot be
	// produced or read. The failure is local, so retrying does not help.
	ErrArtifact = errors.New("package archive unavailable")
)

type (
	// Index answers whether a published version can be resolved.
	Index interface {
		// IsVisible reports whether the version can be resolved from the index.
		IsVisible(ctx context.Context, name string, v *semver.Version) (bool, error)
	}

	// Packager builds the archive of an artifact at Artifact.CratePath.
	Packager interface {
		Package(ctx context.Context, a Artifact) error
	}

	// Registry is the registry protocol the publish executor depends on.
	Registry interface {
		Index
		// Publish uploads the artifact.
		Publish(ctx context.Context, a Artifact) error
	}

	// Artifact describes one package release to upload.
	Artifact struct {
		Name    string
		Version *semver.Version
		// Dir is the package directory.
		Dir string
		// CratePath is the packaged .crate file, used by uploads over HTTP.
		CratePath    string
		Description  string
		License      string
		Dependencies []ArtifactDependency
	}

	// ArtifactDependency is a dependency as declared in the upload metadata.
	ArtifactDependency struct {
		// Name is the package name in the registry.
		Name string
		// ExplicitName is the manifest key when it differs from Name.
		ExplicitName string
		Requirement  string
		Kind         string
		Target       string
		Optional     bool
	}

	// APIError is a registry response that is neither success nor one of the
	// recognized sentinel conditions.
	APIError struct {
		Status  int
		Details []string
	}
)

// Error implements the error interface.
func (e *APIError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("registry returned status %d", e.Status)
	}
	return fmt.Sprintf("registry returned status %d: %s", e.Status, strings.Join(e.Details, "; "))
}

// NewArtifact describes the release of p at v. requirements overrides the
// declared requirement of internal dependencies by manifest key; it carries
// the widened requirements written during the release. Path-only
// dev-dependencies are left out, as cargo strips them on publish.
func NewArtifact(targetDir string, p *workspace.Package, v *semver.Version, requirements map[string]version.Requirement) Artifact {
	a := Artifact{
		Name:        p.Name,
		Version:     v,
		Dir:         p.Dir,
		CratePath:   CratePath(targetDir, p.Name, v),
		Description: p.Description,
		License:     p.License,
	}
	for _, deps := range [][]workspace.Dependency{p.Internal, p.External} {
		for _, d := range deps {
			if d.Kind == workspace.KindDev && d.Requirement.IsAny() {
				continue
			}
			req := d.Requirement
			if r, ok := requirements[d.Key]; ok {
				req = r
			}
			ad := ArtifactDependency{
				Name:        d.Name,
				Requirement: req.String(),
				Kind:        kindName(d.Kind),
				Optional:    d.Optional,
			}
			if req.IsAny() {
				ad.Requirement = "*"
			}
			if d.Key != d.Name {
				ad.ExplicitName = d.Key
			}
			if len(d.Table) == 3 && d.Table[0] == "target" {
				ad.Target = d.Table[1]
			}
			a.Dependencies = append(a.Dependencies, ad)
		}
	}
	return a
}

// CratePath returns where `cargo package` leaves the archive of name at v.
func CratePath(targetDir, name string, v *semver.Version) string {
	return filepath.Join(targetDir, "package", name+"-"+v.String()+".crate")
}

// IndexPath returns the path of a package's file in a sparse or git index:
// "1/a", "2/ab", "3/a/abc" and "se/rd/serde" for longer names.
func IndexPath(name string) string {
	n := strings.ToLower(name)
	switch len(n) {
	case 0:
		return ""
	case 1:
		return "1/" + n
	case 2:
		return "2/" + n
	case 3:
		return "3/" + n[:1] + "/" + n
	default:
		return n[:2] + "/" + n[2:4] + "/" + n
	}
}

func kindName(k workspace.DependencyKind) string {
	switch k {
	case workspace.KindDev:
		return "dev"
	case workspace.KindBuild:
		return "build"
	default:
		return "normal"
	}
}
