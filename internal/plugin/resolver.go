package plugin

import (
	"context"
	"fmt"

	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
	"github.com/xianshu-virtuous/MoFox-Core/internal/plugin/depinstall"
)

// Prober reports whether a declared Dependency is present and, if so, at
// what version. Production wiring backs this with a real package-manager
// query; tests substitute a fake.
type Prober func(dep Dependency) (present bool, version string, err error)

// VersionSatisfies reports whether version falls within dep's declared
// range. A blank VersionRange is always satisfied. Ranges are a single
// minimum version string compared lexically-by-dotted-component, which is
// sufficient for the simple ">=" ranges plugin manifests declare; it is
// not a full semver range parser.
func VersionSatisfies(dep Dependency, version string) bool {
	if dep.VersionRange == "" || version == "" {
		return true
	}
	min := dep.VersionRange
	return compareVersions(version, min) >= 0
}

func compareVersions(a, b string) int {
	as, bs := splitVersion(a), splitVersion(b)
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func splitVersion(v string) []int {
	var out []int
	cur := 0
	have := false
	for _, r := range v {
		if r >= '0' && r <= '9' {
			cur = cur*10 + int(r-'0')
			have = true
			continue
		}
		if have {
			out = append(out, cur)
		}
		cur, have = 0, false
	}
	if have {
		out = append(out, cur)
	}
	return out
}

// Resolution is the outcome of resolving one Dependency.
type Resolution struct {
	Dependency Dependency
	Satisfied  bool
	Degraded   bool // optional dependency missing or below its minimum version
}

// Resolve checks each of m's declared dependencies against prober, invoking
// installer when one is missing (or below its minimum version — spec §9
// Open Question: treated identically to missing) and auto-install policy
// permits it. Required dependencies left unsatisfied after resolution
// abort the load (returns an error); optional-missing is reported via
// Resolution.Degraded and logged as a warning (spec §4.2).
func Resolve(ctx context.Context, m Manifest, prober Prober, installer *depinstall.Installer) ([]Resolution, error) {
	results := make([]Resolution, 0, len(m.Dependencies))

	for _, dep := range m.Dependencies {
		present, version, err := prober(dep)
		if err != nil {
			return results, fmt.Errorf("probing dependency %q: %w", dep.ImportName, err)
		}

		needsInstall := !present || !VersionSatisfies(dep, version)

		if needsInstall && installer != nil {
			name := dep.InstallName
			if name == "" {
				name = dep.ImportName
			}
			if err := installer.Install(ctx, name); err == nil {
				present, version, _ = prober(dep)
				needsInstall = !present || !VersionSatisfies(dep, version)
			} else {
				logger.Plugin().Warn().Str("dependency", dep.ImportName).Err(err).Msg("auto-install failed")
			}
		}

		satisfied := !needsInstall
		res := Resolution{Dependency: dep, Satisfied: satisfied}

		if !satisfied {
			if dep.Optional {
				res.Degraded = true
				logger.Plugin().Warn().Str("dependency", dep.ImportName).Msg("optional dependency unsatisfied, plugin will load in degraded mode")
			} else {
				results = append(results, res)
				return results, fmt.Errorf("required dependency %q unsatisfied", dep.ImportName)
			}
		}

		results = append(results, res)
	}

	return results, nil
}
