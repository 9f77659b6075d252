// Package version carries build identification, overridden at link time via
// -ldflags "-X".
package version

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
)

// String formats the build identification for the -version flag.
func String() string {
	return Version + " (" + GitSHA + ")"
}
