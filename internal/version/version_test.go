package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	origTag, origCommit, origBuildTime, origReader := tag, commit, buildTime, buildInfoReader
	t.Cleanup(func() {
		tag, commit, buildTime, buildInfoReader = origTag, origCommit, origBuildTime, origReader
	})

	vcs := func(settings ...debug.BuildSetting) func() (*debug.BuildInfo, bool) {
		return func() (*debug.BuildInfo, bool) {
			return &debug.BuildInfo{Settings: settings}, true
		}
	}

	tests := []struct {
		name      string
		tag       string
		commit    string
		buildTime string
		reader    func() (*debug.BuildInfo, bool)
		expected  string
	}{
		{
			name: "release build with ldflags",
			tag:  "v1.0.0", commit: "abc123", buildTime: "2025-04-15",
			reader:   func() (*debug.BuildInfo, bool) { return nil, false },
			expected: "v1.0.0 (abc123) built at 2025-04-15\nhttps://github.com/noot-app/foods-cleanup/releases/tag/v1.0.0",
		},
		{
			name: "dev build picks up vcs info",
			tag:  "dev", commit: "123abc", buildTime: "now",
			reader: vcs(
				debug.BuildSetting{Key: "vcs.revision", Value: "9f1c2d"},
				debug.BuildSetting{Key: "vcs.time", Value: "2025-09-30T10:00:00Z"},
				debug.BuildSetting{Key: "vcs.modified", Value: "true"},
			),
			expected: "dev (9f1c2d) built at 2025-09-30T10:00:00Z\nhttps://github.com/noot-app/foods-cleanup/releases/tag/dev",
		},
		{
			name: "no vcs settings keeps defaults",
			tag:  "dev", commit: "123abc", buildTime: "now",
			reader:   vcs(),
			expected: "dev (123abc) built at now\nhttps://github.com/noot-app/foods-cleanup/releases/tag/dev",
		},
		{
			name: "ldflags win over vcs",
			tag:  "v2.0.0", commit: "ldflags-commit", buildTime: "ldflags-time",
			reader: vcs(
				debug.BuildSetting{Key: "vcs.revision", Value: "vcs-commit"},
				debug.BuildSetting{Key: "vcs.time", Value: "vcs-time"},
			),
			expected: "v2.0.0 (ldflags-commit) built at ldflags-time\nhttps://github.com/noot-app/foods-cleanup/releases/tag/v2.0.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, commit, buildTime, buildInfoReader = tt.tag, tt.commit, tt.buildTime, tt.reader
			assert.Equal(t, tt.expected, String())
		})
	}
}

func TestTag(t *testing.T) {
	origTag := tag
	t.Cleanup(func() { tag = origTag })

	tag = "v1.4.2"
	assert.Equal(t, "v1.4.2", Tag())
}
