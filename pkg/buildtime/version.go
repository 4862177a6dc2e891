package buildtime

// set via -ldflags at build time:
//
//	go build -ldflags "-X github.com/sievelab/podgen/pkg/buildtime.version=v1.2.3 \
//	                   -X github.com/sievelab/podgen/pkg/buildtime.revision=abcdef0"
var (
	version  = "develop"
	revision = "unknown"
)

// version string when this podgen has been built.
func VERSION() string {
	return version
}

func GIT_REVISION() string {
	return revision
}

func VersionString() string {
	return version + " (commit: " + revision + ")"
}
