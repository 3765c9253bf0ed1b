package version

// Name is the binary name reported by the version command.
const Name = "cloud-backup-agent"

var (
	// Version is the semantic version (injected at build time).
	Version = "dev"
	// Commit is the git commit SHA (injected at build time).
	Commit = "unknown"
	// BuildDate is the build timestamp (injected at build time).
	BuildDate = "unknown"
)

// Info returns formatted version information.
func Info() string {
	return Version + " (" + Commit + ", built " + BuildDate + ")"
}

// String returns the name followed by Info.
func String() string {
	return Name + " " + Info()
}
