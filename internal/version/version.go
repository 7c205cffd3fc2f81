// Package version reports build metadata for the appupdate binaries. Values
// injected with -ldflags win; otherwise they are read from the module build
// info that `go build` records.
package version

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

const unknown = "unknown"

// Injected with -ldflags "-X appupdate/internal/version.Version=v1.2.3" and
// likewise for BuildDate and GitCommit.
var (
	Version   = unknown
	BuildDate = unknown
	GitCommit = unknown
)

// Info is build metadata plus the identity of this process.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo is computed once per process.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.NewString(),
			Hostname:   unknown,
		}
		if h, err := os.Hostname(); err == nil && h != "" {
			info.Hostname = h
		}
		if bi, ok := debug.ReadBuildInfo(); ok {
			fillFromBuildInfo(&info, bi)
		}
	})
	return info
}

// fillFromBuildInfo replaces only the fields still unknown.
func fillFromBuildInfo(i *Info, bi *debug.BuildInfo) {
	if i.Version == unknown && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.GitCommit == unknown && s.Value != "" {
				i.GitCommit = shortRevision(s.Value)
			}
		case "vcs.time":
			if i.BuildDate == unknown && s.Value != "" {
				i.BuildDate = s.Value
			}
		}
	}
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// LogAttrs returns the fields attached to every log record.
func (i Info) LogAttrs() []any {
	return []any{
		"version", i.Version,
		"git_commit", i.GitCommit,
		"instance_id", i.InstanceID,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("appupdate version %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}
