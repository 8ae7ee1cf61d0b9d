package habitat

// Version is the current version of the go-habitat library
const Version = "0.3.0"

// VersionInfo contains detailed version information
type VersionInfo struct {
	// Version is the semantic version
	Version string
	// API is the supervisor gateway API generation this library speaks
	API string
	// Commands is the hab CLI surface used for lifecycle changes
	Commands string
}

// GetVersion returns the current version information
func GetVersion() VersionInfo {
	return VersionInfo{
		Version:  Version,
		API:      "v1",
		Commands: "hab sup/config",
	}
}
