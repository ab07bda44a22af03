package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoString(t *testing.T) {
	info := Info{CommitHash: "0123456789abcdef", BuildTime: "2026-10-01", Version: "dev", Protocol: "1"}
	assert.Equal(t, "hypermark dev (commit 0123456789ab, built 2026-10-01, protocol v1)", info.String())

	info.Version = "v1.2.0"
	info.CommitHash = "abc"
	assert.Equal(t, "hypermark v1.2.0 (commit abc, built 2026-10-01, protocol v1)", info.String())
}

func TestGet(t *testing.T) {
	info := Get("1")
	assert.Equal(t, "1", info.Protocol)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}

func TestFillFromVCS(t *testing.T) {
	info := Info{CommitHash: "dev", BuildTime: "unknown"}
	fillFromVCS(&info, []debug.BuildSetting{
		{Key: "vcs", Value: "git"},
		{Key: "vcs.revision", Value: "feedface"},
		{Key: "vcs.time", Value: "2026-10-19T10:00:00Z"},
	})
	assert.Equal(t, "feedface", info.CommitHash)
	assert.Equal(t, "2026-10-19T10:00:00Z", info.BuildTime)

	stamped := Info{BuildTime: "2026-01-01"}
	fillFromVCS(&stamped, []debug.BuildSetting{{Key: "vcs.time", Value: "later"}})
	assert.Equal(t, "2026-01-01", stamped.BuildTime, "ldflags time wins")
}
