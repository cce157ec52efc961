// Package version holds build metadata for the relay binaries.
//
// Set at link time:
//
//	go build -ldflags "-X github.com/rickgao/adw-relay/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/adw-relay/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/adw-relay/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Product names the relay in handshakes and logs.
const Product = "adw-relay"

// Info is the build metadata in a JSON-friendly form.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
}

// String returns "version (commit) built time".
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}

// UserAgent is sent on the WebSocket handshake, e.g. "adw-relay/1.0.0 (abc1234)".
func UserAgent() string {
	return Product + "/" + Version + " (" + Commit + ")"
}
