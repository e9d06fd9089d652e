package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCompatible(t *testing.T) {
	tests := []struct {
		name       string
		client     string
		server     string
		compatible bool
	}{
		{name: "identical", client: "0.9.0", server: "0.9.0", compatible: true},
		{name: "patch skew", client: "0.9.0", server: "0.9.4", compatible: true},
		{name: "snapshot server", client: "0.9.0", server: "0.9-SNAPSHOT", compatible: true},
		{name: "dash separated", client: "3.2-1", server: "3.2.0", compatible: true},
		{name: "minor differs", client: "0.9.0", server: "0.10.0", compatible: false},
		{name: "major differs", client: "1.0.0", server: "2.0.0", compatible: false},
		{name: "unparsable but equal", client: "R2019x.1", server: "R2019x.1.3", compatible: true},
		{name: "unparsable and different", client: "R2019x.1", server: "R2020x.1", compatible: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCompatible(tt.client, tt.server)
			if tt.compatible {
				assert.NoError(t, err)
				return
			}
			var mismatch *MismatchError
			require.ErrorAs(t, err, &mismatch)
			assert.Equal(t, tt.client, mismatch.Client)
			assert.Equal(t, tt.server, mismatch.Server)
			assert.Contains(t, err.Error(), "not compatible")
		})
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		name     string
		v1, v2   string
		expected int
		wantErr  bool
	}{
		{name: "equal", v1: "0.9.0", v2: "0.9.0", expected: 0},
		{name: "older", v1: "0.8.1", v2: "0.9.0", expected: -1},
		{name: "newer", v1: "1.0.0", v2: "0.9.0", expected: 1},
		{name: "invalid", v1: "bogus", v2: "0.9.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CompareVersions(tt.v1, tt.v2)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestGetInfo(t *testing.T) {
	orig, origCommit, origDate := Version, GitCommit, BuildDate
	defer SetBuildInfo(orig, origCommit, origDate)

	SetBuildInfo("1.2.3", "abcdef0123456", "2026-01-02")
	info, err := GetInfo()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.SemVer.Major())
	assert.Equal(t, "mxdeploy v1.2.3, commit abcdef0, built 2026-01-02", GetFormattedVersion("mxdeploy"))
	assert.Contains(t, GetDetailedVersion("mxdispatch"), "Git Commit: abcdef0123456")

	SetBuildInfo("not-a-version", "unknown", "unknown")
	_, err = GetInfo()
	assert.Error(t, err)
}
