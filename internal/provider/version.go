package provider

import (
	"context"
	"os/exec"
	"regexp"

	"golang.org/x/mod/semver"

	"github.com/untoldecay/space/internal/types"
)

// Minimum supported vendor CLI versions. Older CLIs lack the stream flags
// or resume support the engine relies on. The gate warns; it never blocks
// a launch.
var minCLIVersions = map[string]string{
	types.ProviderClaude: "1.0.0",
	types.ProviderCodex:  "0.20.0",
	types.ProviderGemini: "0.4.0",
}

var versionToken = regexp.MustCompile(`\d+\.\d+\.\d+`)

// VerifyCLI runs "<provider> --version" and compares the reported version
// against the minimum. ok is false when the binary is missing, the output
// carries no version token, or the version is too old.
func VerifyCLI(ctx context.Context, provider string) (version string, ok bool) {
	minVer, known := minCLIVersions[provider]
	if !known {
		return "", false
	}
	out, err := exec.CommandContext(ctx, provider, "--version").CombinedOutput()
	if err != nil {
		return "", false
	}
	version = versionToken.FindString(string(out))
	if version == "" {
		return "", false
	}
	return version, semver.Compare("v"+version, "v"+minVer) >= 0
}

// MinCLIVersion reports the gate for a provider, for doctor-style output.
func MinCLIVersion(provider string) (string, bool) {
	v, ok := minCLIVersions[provider]
	return v, ok
}
