package internal

import (
	"fmt"
	"runtime"
	"strings"
)

const (

	// Name of the daemon, used for the binary, log group, and directories.
	Name = "tapdiskd"

	// Placeholder for a variable the build did not set.
	defaultUndefined = "(undefined)"

	// Version string reported by builds made outside the release pipeline.
	defaultLocalBuild = "(local)"

	// Branch whose builds omit the stage from the version string.
	mainBranch = "main"
)

// Set with -ldflags "-X github.com/cruciblehq/tapdiskd/internal.<name>=...".
var (
	version   = "" // Release version, with or without a "v" prefix.
	stage     = "" // Branch or stage the build came from.
	gitCommit = "" // Commit hash of the build.

	rawQuiet   = "false" // Initial quiet mode.
	rawDebug   = "false" // Initial debug mode.
	rawVerbose = "false" // Initial verbose mode.
)

// Returns the release version without its "v" prefix, or "(undefined)".
func Version() string {
	v := strings.ToLower(strings.TrimSpace(version))
	if v == "" {
		return defaultUndefined
	}
	return strings.TrimPrefix(v, "v")
}

// Returns the lowercased build stage, or "(undefined)".
func Stage() string {
	if s := strings.TrimSpace(stage); s != "" {
		return strings.ToLower(s)
	}
	return defaultUndefined
}

// Returns the commit hash, or "(undefined)".
func GitCommit() string {
	if c := strings.TrimSpace(gitCommit); c != "" {
		return c
	}
	return defaultUndefined
}

// Returns the build architecture.
func Arch() string {
	return runtime.GOARCH
}

// Whether the binary was built without release metadata.
//
// Release builds set version, stage, and commit together; a missing one
// marks a local build.
func IsLocal() bool {
	for _, v := range []string{version, stage, gitCommit} {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

// Returns "<version>[+<stage>] <commit> [<arch>]", or "(local)" for local
// builds. The stage is left out for builds of the main branch.
func VersionString() string {
	if IsLocal() {
		return defaultLocalBuild
	}

	var suffix string
	if s := Stage(); s != mainBranch {
		suffix = "+" + s
	}

	return fmt.Sprintf("%s%s %s [%s]", Version(), suffix, GitCommit(), Arch())
}
