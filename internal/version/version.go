// Package version holds the build version of the responder binaries.
// Set at build time with -ldflags '-X github.com/invisible-tech/ips-responder/internal/version.Version=1.2.3'.
package version

// Version defaults to a dev marker for local builds.
var Version = "0.3.0-dev"
