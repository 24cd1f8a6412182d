// Package version reports the build identity of the binary. Values come
// from -ldflags when set and otherwise from the VCS stamp Go embeds.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
)

// Set with -ldflags "-X secretary/internal/version.Version=v1.2.0 ...".
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = ""
	GitDirty  = ""
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	GitDirty  bool   `json:"git_dirty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
}

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// Get merges the ldflags values with the embedded VCS settings.
func Get() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		GitDirty:  GitDirty == "true",
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}

	bi, ok := readBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if info.BuildDate == "" {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			if GitDirty == "" {
				info.GitDirty = s.Value == "true"
			}
		}
	}
	return info
}

// Info returns the version, marked -dirty for modified trees.
func Info() string {
	info := Get()
	v := info.Version
	if info.GitDirty && !strings.HasSuffix(v, "-dirty") {
		v += "-dirty"
	}
	return v
}

// Full returns Info followed by the short commit.
func Full() string {
	commit := Get().GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	if commit == "" {
		return Info()
	}
	return Info() + " (" + commit + ")"
}
