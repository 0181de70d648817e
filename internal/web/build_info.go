// internal/web/build_info.go
package web

import (
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// BuildInfo holds build-time information
type BuildInfo struct {
	Version   string   `json:"version"`
	GitCommit string   `json:"git_commit"`
	BuildTime string   `json:"build_time"`
	GoVersion string   `json:"go_version"`
	GoOS      string   `json:"go_os"`
	GoArch    string   `json:"go_arch"`
	Modules   []Module `json:"modules"`
}

type Module struct {
	Path    string `json:"path"`
	Version string `json:"version"`
	Replace string `json:"replace,omitempty"`
}

// These variables will be set at build time using -ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// GetBuildInfo describes the running binary.
func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		GoOS:      runtime.GOOS,
		GoArch:    runtime.GOARCH,
		Modules:   []Module{},
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, dep := range bi.Deps {
		m := Module{Path: dep.Path, Version: dep.Version}
		if dep.Replace != nil {
			m.Replace = dep.Replace.Path
		}
		info.Modules = append(info.Modules, m)
	}
	if info.GitCommit == "unknown" {
		for _, setting := range bi.Settings {
			if setting.Key == "vcs.revision" {
				info.GitCommit = setting.Value
			}
		}
	}
	return info
}

func (s *Server) getBuildInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": GetBuildInfo()})
}
