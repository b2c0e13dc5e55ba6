package version

// Version and GitCommit are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/vrlab-network/vrlab/pkg/version.Version=v1.0.0 \
//	  -X github.com/vrlab-network/vrlab/pkg/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// String returns "version (commit)".
func String() string {
	return Version + " (" + GitCommit + ")"
}
