// Package version carries build information injected with
// -ldflags "-X figflow/pkg/version.Version=v0.3.0".
package version

//nolint:gochecknoglobals // ldflags targets
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the build information on one line.
func String() string {
	return Version + " (" + Commit + ", " + Date + ")"
}
