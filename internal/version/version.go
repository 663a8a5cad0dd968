// Package version describes a vimgrid build: module, release or pseudo
// version, and the flush buffer protocol it writes.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"pkt.systems/vimgrid/internal/drawcmd"
)

const (
	defaultModule  = "pkt.systems/vimgrid"
	unknownVersion = "v0.0.0-unknown"
	dirtySuffix    = "+dirty"
)

// buildVersion is set via -ldflags "-X pkt.systems/vimgrid/internal/version.buildVersion=...".
var buildVersion = ""

// Info is what the version command reports.
type Info struct {
	Module   string
	Version  string
	Revision string
	// Dirty is set when the build came from a modified tree.
	Dirty    bool
	Protocol int
}

// Get resolves the running binary's build information.
func Get() Info {
	bi, _ := debug.ReadBuildInfo()
	return fromBuild(bi, buildVersion)
}

// Current returns the version without a dirty marker.
func Current() string {
	return Get().Version
}

// String formats the running build for the version command.
func String() string {
	return Get().String()
}

func (i Info) String() string {
	v := i.Version
	if i.Dirty {
		v += dirtySuffix
	}
	return fmt.Sprintf("%s %s (protocol %d)", i.Module, v, i.Protocol)
}

// fromBuild prefers a linker-set version, then the module version, then a
// pseudo version built from VCS stamps.
func fromBuild(bi *debug.BuildInfo, linked string) Info {
	out := Info{Module: defaultModule, Version: unknownVersion, Protocol: int(drawcmd.Version)}
	var vcs vcsStamp
	if bi != nil {
		if path := strings.TrimSpace(bi.Main.Path); path != "" {
			out.Module = path
		}
		vcs = readVCS(bi.Settings)
		out.Revision = vcs.short()
		out.Dirty = vcs.modified
	}
	if v := strings.TrimSpace(linked); v != "" {
		out.Version = v
	} else if v := mainVersion(bi); v != "" {
		out.Version = v
	} else if v := vcs.pseudo(); v != "" {
		out.Version = v
	}
	if trimmed, ok := strings.CutSuffix(out.Version, dirtySuffix); ok {
		out.Version, out.Dirty = trimmed, true
	}
	return out
}

func mainVersion(bi *debug.BuildInfo) string {
	if bi == nil {
		return ""
	}
	if v := strings.TrimSpace(bi.Main.Version); v != "(devel)" {
		return v
	}
	return ""
}

type vcsStamp struct {
	revision string
	at       time.Time
	modified bool
}

func readVCS(settings []debug.BuildSetting) vcsStamp {
	var s vcsStamp
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			s.revision = setting.Value
		case "vcs.time":
			if t, err := time.Parse(time.RFC3339, setting.Value); err == nil {
				s.at = t
			}
		case "vcs.modified":
			s.modified = setting.Value == "true"
		}
	}
	return s
}

func (s vcsStamp) short() string {
	if len(s.revision) > 12 {
		return s.revision[:12]
	}
	return s.revision
}

func (s vcsStamp) pseudo() string {
	if s.revision == "" || s.at.IsZero() {
		return ""
	}
	return "v0.0.0-" + s.at.UTC().Format("20060102150405") + "-" + s.short()
}
