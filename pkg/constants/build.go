package constants

import (
	"runtime"
)

// Set at link time with -ldflags "-X github.com/inferloop/tsad/pkg/constants.GitCommit=..."
var (
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
	Platform  = runtime.GOOS + "/" + runtime.GOARCH
)

type BuildInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	API       string `json:"api"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Name:      AppName,
		Version:   AppVersion,
		API:       APIVersion,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
		Platform:  Platform,
	}
}
