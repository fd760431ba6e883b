//go:build mage
// +build mage

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Default target to run when none is specified
var Default = Build

// Build builds the binary
func Build() error {
	fmt.Println("Building...")
	return sh.Run("go", "build", "-o", "netmedia", "./cmd/netmedia")
}

// Test runs all tests
func Test() error {
	fmt.Println("Running tests...")
	return sh.Run("go", "test", "-v", "-race", "-coverprofile=coverage.out", "./...")
}

// TestForFail runs the unit tests purely to find out whether any fail
func TestForFail() error {
	fmt.Println("Running unit tests for overall pass/fail...")
	return run(
		context.Background(),
		"go",
		"test",
		"-timeout=60s",
		"./...",
		"-failfast",
		"-shuffle=on",
		"-race",
	)
}

// Lint lints the codebase
func Lint() error {
	fmt.Println("Linting...")
	return run(context.Background(), "golangci-lint", "run", "-c", ".golangci.yml", "./...")
}

// LintForFail lints the codebase purely to find out whether anything fails
func LintForFail() error {
	fmt.Println("Linting to check for overall pass/fail...")
	return run(
		context.Background(),
		"golangci-lint", "run",
		"-c", ".golangci.yml",
		"--fix=false",
		"--max-issues-per-linter=1",
		"--max-same-issues=1",
		"./...",
	)
}

// CheckNils checks for nils
func CheckNils() error {
	fmt.Println("Running check for nils...")
	return run(context.Background(), "nilaway", "./...")
}

// CheckForFail runs all checks on the code for determining whether any fail
func CheckForFail() error {
	fmt.Println("Checking for failures...")
	mg.SerialDeps(LintForFail, TestForFail, CheckNils)
	return nil
}

// Smoke builds the binary and runs the creds and probe commands against a
// throwaway credential database and a local sample file
func Smoke() error {
	mg.Deps(Build)
	fmt.Println("Running smoke commands...")

	dir, err := os.MkdirTemp("", "netmedia-smoke-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	// JPEG SOI, an APP1 Exif header and padding past the probe's first read.
	sample := filepath.Join(dir, "Track #1.jpg")
	head := append([]byte{0xFF, 0xD8, 0xFF, 0xE1, 0x00, 0x10}, []byte("Exif\x00\x00")...)
	if err := os.WriteFile(sample, append(head, make([]byte, 64*1024)...), 0o600); err != nil {
		return err
	}

	bin, err := filepath.Abs("netmedia")
	if err != nil {
		return err
	}

	global := []string{
		"--plain",
		"--log-level", "warn",
		"--cred-db", filepath.Join(dir, "creds.db"),
		"--staging-dir", filepath.Join(dir, "staging"),
	}

	steps := [][]string{
		{"creds", "list"},
		{"creds", "add", "sftp://nas:2222/media", "--id", "smoke", "-u", "smoke", "-p", "smoke"},
		{"creds", "list"},
		{"probe", sample, "--kind", "exif"},
		{"probe", sample, "--kind", "video", "--extended"},
	}

	for _, step := range steps {
		fmt.Println("netmedia", step)
		if err := run(context.Background(), bin, append(append([]string{}, global...), step...)...); err != nil {
			return fmt.Errorf("netmedia %v: %w", step, err)
		}
	}

	return nil
}

// Clean removes build artifacts
func Clean() error {
	fmt.Println("Cleaning...")
	os.Remove("netmedia")
	os.Remove("coverage.out")
	return nil
}

// Install installs the binary
func Install() error {
	fmt.Println("Installing...")
	return sh.Run("go", "install", "./cmd/netmedia")
}

// Fmt formats the code
func Fmt() error {
	fmt.Println("Formatting code...")
	if err := sh.Run("gofmt", "-s", "-w", "."); err != nil {
		return err
	}
	return sh.Run("goimports", "-w", ".")
}

// Check runs all checks (fmt, lint, test)
func Check() error {
	mg.Deps(Test)
	mg.Deps(Fmt)
	mg.Deps(Lint)
	mg.Deps(CheckNils)
	return nil
}

// Coverage generates and opens coverage report
func Coverage() error {
	if err := Test(); err != nil {
		return err
	}
	fmt.Println("Generating coverage report...")
	if err := sh.Run("go", "tool", "cover", "-html=coverage.out", "-o", "coverage.html"); err != nil {
		return err
	}

	// Try to open the coverage report
	cmd := exec.Command("open", "coverage.html")
	if err := cmd.Run(); err != nil {
		fmt.Println("Coverage report generated at coverage.html")
	}
	return nil
}

// Helper function to run commands with context
func run(c context.Context, command string, arg ...string) error {
	cmd := exec.CommandContext(c, command, arg...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}

