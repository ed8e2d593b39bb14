// Package version reports the build stamped into the binary.
package version

import (
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X github.com/rebekaee1/mgp-v2/pkg/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is the /health and `tourbot version` view of the build.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	Modified  bool   `json:"modified,omitempty"`
}

var (
	fillOnce sync.Once
	modified bool
)

// fromBuildInfo fills unset stamps from the VCS settings go build records.
func fromBuildInfo() {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if GitCommit == "unknown" {
				GitCommit = s.Value
			}
		case "vcs.time":
			if BuildDate == "unknown" {
				BuildDate = s.Value
			}
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
}

func GetInfo() Info {
	fillOnce.Do(fromBuildInfo)
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		Modified:  modified,
	}
}

// GetShortCommit returns the first 7 characters of the commit.
func GetShortCommit() string {
	commit := GetInfo().GitCommit
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}

// String renders "version (commit, date)", with "+dirty" for a modified tree.
func String() string {
	info := GetInfo()
	commit := GetShortCommit()
	if info.Modified {
		commit += "+dirty"
	}
	return info.Version + " (" + commit + ", " + info.BuildDate + ")"
}
