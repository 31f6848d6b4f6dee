package version

// Set at build time with -ldflags "-X github.com/zertoslack/zertoslack/internal/version.Version=..."
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info is the build metadata reported by the API
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Get returns the build metadata
func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildDate: BuildDate}
}

// String formats the version for logs and --version
func (i Info) String() string {
	if i.Version == "dev" {
		return "dev (commit: " + i.Commit + ")"
	}
	return i.Version + " (commit: " + i.Commit + ", built " + i.BuildDate + ")"
}

// UserAgent is sent on every outbound HTTP request
func UserAgent() string {
	return "zerto-slack/" + Version
}
