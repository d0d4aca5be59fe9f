// Package version holds build version information.
package version

// Version is the hub version, overridable at build time with
// -ldflags "-X .../pkg/version.Version=v1.2.3".
var Version = "dev"
