// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/spf13/cobra"

	"smart-release/internal/bump"
	"smart-release/internal/release"
)

// selectionFlags choose the packages and bumps of plan, changelog and
// release.
type selectionFlags struct {
	exclude          []string
	bump             string
	bumpDependencies string
	noConservative   bool
	skipDependencies bool
}

func (f *selectionFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "leave these packages out of the release")
	cmd.Flags().StringVar(&f.bump, "bump", string(bump.OverrideAuto), "bump of the selected packages: keep, auto, patch, minor or major")
	cmd.Flags().StringVar(&f.bumpDependencies, "bump-dependencies", string(bump.OverrideAuto), "bump of packages released only for a dependency: keep, auto, patch, minor or major")
	cmd.Flags().BoolVar(&f.noConservative, "no-conservative-pre-release-version-handling", false, "apply major and minor bumps literally to 0.x versions")
	cmd.Flags().BoolVar(&f.skipDependencies, "skip-dependencies", false, "ignore changes of packages that were not named")
}

// options returns the release options of the selected packages. The
// configuration is copied so flags never alter the loaded one.
func (f *selectionFlags) options(s *session, packages []string) (release.Options, error) {
	level, err := bump.ParseOverride(f.bump)
	if err != nil {
		return release.Options{}, err
	}
	depLevel, err := bump.ParseOverride(f.bumpDependencies)
	if err != nil {
		return release.Options{}, err
	}
	cfg := *s.cfg
	if f.noConservative {
		cfg.ConservativePreRelease = false
	}
	return release.Options{
		Config:           &cfg,
		Packages:         packages,
		Exclude:          f.exclude,
		Bump:             level,
		BumpDependencies: depLevel,
		SkipDependencies: f.skipDependencies,
	}, nil
}
