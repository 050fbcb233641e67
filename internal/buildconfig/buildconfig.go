// Package buildconfig exposes version information stamped at build time.
package buildconfig

// Injected via -ldflags, e.g.
//
//	go build -ldflags "-X .../internal/buildconfig.version=v0.3.0 -X .../internal/buildconfig.commit=$(git rev-parse --short HEAD)"
var (
	version = "dev"
	commit  = "unknown"
)

// Version returns the stamped release version, "dev" for local builds.
func Version() string {
	return version
}

// Commit returns the stamped git commit hash.
func Commit() string {
	return commit
}
