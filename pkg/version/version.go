// Package version reports which build of warden is running.
//
// Release builds stamp the tag and commit with ldflags:
//
//	go build -ldflags "-X github.com/NicolasHaas/warden/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/warden/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/warden/pkg/version.date=2026-01-01"
//
// Unstamped builds fall back to the VCS data the go tool embeds.
package version

import (
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	tag    string
	commit string
	date   string
)

// Info describes a build. It is served on /healthz and logged at startup.
type Info struct {
	Tag       string `json:"tag,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go"`
}

var (
	once sync.Once
	info Info
)

// Get returns the build info, resolved once per process.
func Get() Info {
	once.Do(func() {
		info = resolve(tag, commit, date, readBuildInfo)
	})
	return info
}

func readBuildInfo() (*debug.BuildInfo, bool) {
	return debug.ReadBuildInfo()
}

func resolve(tag, commit, date string, read func() (*debug.BuildInfo, bool)) Info {
	i := Info{Tag: tag, Commit: commit, Date: date, GoVersion: runtime.Version()}
	if bi, ok := read(); ok {
		if bi.GoVersion != "" {
			i.GoVersion = bi.GoVersion
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if i.Commit == "" {
					i.Commit = shortSHA(s.Value)
				}
			case "vcs.time":
				if i.Date == "" {
					i.Date = s.Value
				}
			case "vcs.modified":
				i.Modified = s.Value == "true"
			}
		}
	}
	return i
}

func shortSHA(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

// String is the tag, else the commit (with "-dirty" for modified trees),
// else "dev".
func (i Info) String() string {
	switch {
	case i.Tag != "":
		return i.Tag
	case i.Commit != "" && i.Modified:
		return i.Commit + "-dirty"
	case i.Commit != "":
		return i.Commit
	}
	return "dev"
}

// Full adds the commit and build date to String where they are known.
func (i Info) Full() string {
	s := i.String()
	if i.Tag != "" && i.Commit != "" {
		s += " (" + i.Commit + ")"
	}
	if i.Date != "" {
		s += " built " + i.Date
	}
	return s + " " + i.GoVersion
}

// Attrs returns the info as slog key/value pairs.
func (i Info) Attrs() []any {
	return []any{"version", i.String(), "commit", i.Commit, "go", i.GoVersion}
}

// String returns Get().String().
func String() string { return Get().String() }

// Full returns Get().Full().
func Full() string { return Get().Full() }
