// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package testenv prepares the Docker environment for testcontainers-based tests.
package testenv

import (
	"os"
	"strings"
	"testing"
)

// RequireDocker skips t when SKIP_DOCKER_TESTS=true and otherwise points
// testcontainers at a usable Docker socket.
func RequireDocker(t testing.TB) {
	t.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "true" {
		t.Skip("Skipping Docker-based tests (SKIP_DOCKER_TESTS=true)")
	}

	// Auto-detect if we need to disable reaper (e.g., for Rancher Desktop)
	if detectReaperIssue() {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
		t.Log("Auto-detected Rancher Desktop or reaper issue - disabling testcontainers reaper")
	}

	if os.Getenv("DOCKER_HOST") == "" {
		if rdSocket := rancherSocket(); rdSocket != "" {
			os.Setenv("DOCKER_HOST", "unix://"+rdSocket)
		}
	}
}

// SkipIfUnavailable skips t when err (or a recovered panic) says Docker is missing.
func SkipIfUnavailable(t testing.TB, err any) {
	t.Helper()

	var msg string
	switch v := err.(type) {
	case nil:
		return
	case error:
		msg = v.Error()
	case string:
		msg = v
	default:
		return
	}
	if strings.Contains(msg, "Docker not found") || strings.Contains(msg, "rootless Docker") ||
		strings.Contains(msg, "Cannot connect to the Docker daemon") {
		t.Skipf("Skipping test: Docker not available: %v", msg)
	}
}

// detectReaperIssue reports whether the testcontainers reaper should be disabled.
func detectReaperIssue() bool {
	if v := os.Getenv("TESTCONTAINERS_RYUK_DISABLED"); v != "" {
		return v == "true"
	}

	dockerHost := os.Getenv("DOCKER_HOST")
	if strings.Contains(dockerHost, ".rd/docker.sock") {
		return true
	}
	if dockerHost == "" && rancherSocket() != "" {
		return true
	}

	return os.Getenv("DOCKER_CONTEXT") == "rancher-desktop"
}

func rancherSocket() string {
	homeDir := os.Getenv("HOME")
	if homeDir == "" {
		homeDir = os.Getenv("USERPROFILE") // Windows fallback
	}
	if homeDir == "" {
		return ""
	}
	rdSocket := homeDir + "/.rd/docker.sock"
	if _, err := os.Stat(rdSocket); err != nil {
		return ""
	}
	return rdSocket
}
