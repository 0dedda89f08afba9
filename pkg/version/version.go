package version

// Build holds the build identifier, injected via -ldflags. Default "dev".
var Build = "dev"

// Version is the API version reported by health and status endpoints.
const Version = "1.0.0"

// String joins the API version with the build identifier.
func String() string {
	return Version + "+" + Build
}
