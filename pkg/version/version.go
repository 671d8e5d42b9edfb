package version

import (
	"fmt"
	"runtime"
)

// Build metadata, overridable at link time:
//
//	go build -ldflags "-X github.com/siderolabs/talos-mcp-server/pkg/version.Version=..."
var (
	// BinaryName is the canonical name of the server binary.
	BinaryName = "talos-mcp-server"
	// Version is the semantic version of the build.
	Version = "0.0.0-dev"
	// CommitHash is the git commit the binary was built from.
	CommitHash = "unknown"
	// BuildTime is the RFC 3339 timestamp of the build.
	BuildTime = "unknown"
	// WebsiteURL points at the project documentation.
	WebsiteURL = "https://github.com/siderolabs/talos-mcp-server"
)

// String returns a single-line, human-readable version description.
func String() string {
	return fmt.Sprintf("%s version %s (commit %s, built %s, %s %s/%s)",
		BinaryName, Version, CommitHash, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
