// Package version provides version management for mxdeploy and the
// compatibility check between the client and the dispatcher peer.
package version

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Build information that can be set at compile time via -ldflags
var (
	// Version is the semantic version of the application
	Version = "0.9.0"

	// GitCommit is the git commit hash when the binary was built
	GitCommit = "unknown"

	// BuildDate is the date when the binary was built
	BuildDate = "unknown"
)

// Info represents comprehensive version information
type Info struct {
	Version   string          `json:"version"`
	GitCommit string          `json:"gitCommit"`
	BuildDate string          `json:"buildDate"`
	GoVersion string          `json:"goVersion"`
	Platform  string          `json:"platform"`
	SemVer    *semver.Version `json:"-"`
}

// GetVersion returns the current version string
func GetVersion() string {
	return Version
}

// GetInfo returns comprehensive version information
func GetInfo() (*Info, error) {
	sv, err := semver.NewVersion(Version)
	if err != nil {
		return nil, fmt.Errorf("invalid semantic version '%s': %w", Version, err)
	}

	return &Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		SemVer:    sv,
	}, nil
}

// GetFormattedVersion returns a one-line version string for the named program.
func GetFormattedVersion(program string) string {
	parts := []string{fmt.Sprintf("%s v%s", program, Version)}

	if GitCommit != "unknown" && GitCommit != "" {
		shortCommit := GitCommit
		if len(shortCommit) > 7 {
			shortCommit = shortCommit[:7]
		}
		parts = append(parts, fmt.Sprintf("commit %s", shortCommit))
	}

	if BuildDate != "unknown" && BuildDate != "" {
		parts = append(parts, fmt.Sprintf("built %s", BuildDate))
	}

	return strings.Join(parts, ", ")
}

// GetDetailedVersion returns detailed version information for debugging
func GetDetailedVersion(program string) string {
	lines := []string{
		fmt.Sprintf("%s v%s", program, Version),
		fmt.Sprintf("Git Commit: %s", GitCommit),
		fmt.Sprintf("Build Date: %s", BuildDate),
		fmt.Sprintf("Go Version: %s", runtime.Version()),
		fmt.Sprintf("Platform: %s/%s", runtime.GOOS, runtime.GOARCH),
	}
	return strings.Join(lines, "\n")
}

// CompareVersions compares two version strings and returns:
// -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareVersions(v1, v2 string) (int, error) {
	sv1, err := semver.NewVersion(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version v1 '%s': %w", v1, err)
	}

	sv2, err := semver.NewVersion(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version v2 '%s': %w", v2, err)
	}

	return sv1.Compare(sv2), nil
}

// SetBuildInfo sets build information (used for testing)
func SetBuildInfo(version, gitCommit, buildDate string) {
	Version = version
	GitCommit = gitCommit
	BuildDate = buildDate
}

// MismatchError reports a client and server whose major.minor versions differ.
type MismatchError struct {
	Client string
	Server string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("client version %s is not compatible with server version %s (major and minor version must match)", e.Client, e.Server)
}

// CheckCompatible returns a *MismatchError unless the first two components
// of both versions are equal. Dashes count as separators, so
// "1.2-SNAPSHOT" and "1.2.7" are compatible.
func CheckCompatible(client, server string) error {
	cMajor, cMinor := majorMinor(client)
	sMajor, sMinor := majorMinor(server)
	if cMajor != sMajor || cMinor != sMinor {
		return &MismatchError{Client: client, Server: server}
	}
	return nil
}

func majorMinor(v string) (string, string) {
	v = strings.TrimSpace(v)
	if sv, err := semver.NewVersion(v); err == nil {
		return fmt.Sprint(sv.Major()), fmt.Sprint(sv.Minor())
	}

	parts := strings.Split(strings.ReplaceAll(v, "-", "."), ".")
	major, minor := parts[0], ""
	if len(parts) > 1 {
		minor = parts[1]
	}
	return major, minor
}
