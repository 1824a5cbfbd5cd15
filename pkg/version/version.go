// Package version reports which build of hq is running.
package version

import "runtime/debug"

// AppName prefixes version strings in logs and user-agent headers.
const AppName = "hq"

// commit may be injected with -ldflags for container builds where the VCS
// metadata is unavailable.
var commit string

// GitCommit is the short revision hash, or "dev" when no revision is known
// (go test, builds outside a checkout).
var GitCommit = resolve()

// Full returns "hq/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}

func resolve() string {
	rev := commit
	dirty := false
	if rev == "" {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return "dev"
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				rev = s.Value
			case "vcs.modified":
				dirty = s.Value == "true"
			}
		}
	}
	if rev == "" {
		return "dev"
	}
	if len(rev) > 8 {
		rev = rev[:8]
	}
	if dirty {
		rev += "-dirty"
	}
	return rev
}
