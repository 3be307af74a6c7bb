//go:build mage

package main

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// ======================================
// SETUP
// ======================================

// Setup checks the Go version and installs golangci-lint.
func Setup() error {
	fmt.Println("Checking Go version... (go version)")
	if err := goVersion(); err != nil {
		return err
	}
	if _, err := exec.LookPath("golangci-lint"); err != nil {
		fmt.Println("Installing golangci-lint...")
		return sh.RunV("go", "install", "github.com/golangci/golangci-lint/cmd/golangci-lint@latest")
	}
	return nil
}

func goVersion() error {
	out, err := exec.Command("go", "version").Output()
	if err != nil {
		return err
	}
	const requiredMajor, requiredMinor = 1, 24

	re := regexp.MustCompile(`go version go([0-9]+)\.([0-9]+)`)
	matches := re.FindStringSubmatch(string(out))
	if len(matches) < 3 {
		return fmt.Errorf("failed to parse Go version from: %s", out)
	}
	major, _ := strconv.Atoi(matches[1])
	minor, _ := strconv.Atoi(matches[2])
	fmt.Printf("go version: %d.%d (local) | %d.%d (required)\n", major, minor, requiredMajor, requiredMinor)
	if major < requiredMajor || (major == requiredMajor && minor < requiredMinor) {
		return fmt.Errorf("go >= %d.%d required", requiredMajor, requiredMinor)
	}
	return nil
}

// ======================================
// TESTING
// ======================================

type Test mg.Namespace

// All runs all tests with the race detector.
func (Test) All() error {
	fmt.Println("Running tests...")
	return sh.RunV("go", "test", "-race", "./...")
}

// Short runs the tests without the race detector.
func (Test) Short() error {
	fmt.Println("Running short tests...")
	return sh.RunV("go", "test", "-short", "./...")
}

// Coverage writes a coverage profile to coverage.out.
func (Test) Coverage() error {
	fmt.Println("Running tests with coverage...")
	if err := sh.RunV("go", "test", "-coverprofile=coverage.out", "./..."); err != nil {
		return err
	}
	return sh.RunV("go", "tool", "cover", "-func=coverage.out")
}

// fuzzTargets are the wire decoder fuzz targets.
var fuzzTargets = []string{
	"FuzzDecodeMessage",
	"FuzzDecodeDatagram",
	"FuzzReadSubgroupObject",
}

// Fuzz runs each decoder fuzz target for FUZZTIME (default 30s).
func Fuzz() error {
	fuzzTime := os.Getenv("FUZZTIME")
	if fuzzTime == "" {
		fuzzTime = "30s"
	}
	for _, target := range fuzzTargets {
		fmt.Printf("Fuzzing %s for %s...\n", target, fuzzTime)
		err := sh.RunV("go", "test", "./moqt/internal/message",
			"-run", "^$",
			"-fuzz", "^"+target+"$",
			"-fuzztime", fuzzTime,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// ======================================
// DEVELOPMENT UTILITIES
// ======================================

// Vet runs go vet.
func Vet() error {
	fmt.Println("Running go vet...")
	return sh.RunV("go", "vet", "./...")
}

// Lint runs the linter (golangci-lint)
func Lint() error {
	fmt.Println("Running linter...")
	if _, err := exec.LookPath("golangci-lint"); err != nil {
		return fmt.Errorf("golangci-lint not found. Please install it first:\n  mage setup")
	}
	return sh.RunV("golangci-lint", "run")
}

// Fmt formats Go source code
func Fmt() error {
	fmt.Println("Formatting go code...")
	return sh.RunV("go", "fmt", "./...")
}

// Build builds the project and the moqtpeer binary.
func Build() error {
	fmt.Println("Building project...")
	if err := sh.RunV("go", "build", "./..."); err != nil {
		return err
	}
	return sh.RunV("go", "build", "-o", "bin/moqtpeer", "./cmd/moqtpeer")
}

// Check runs vet, lint and the tests.
func Check() {
	mg.SerialDeps(Vet, Lint, Test.All)
}

// Clean removes generated files
func Clean() error {
	fmt.Println("Cleaning up generated files...")
	for _, path := range []string{"./bin", "coverage.out"} {
		if err := sh.Rm(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Help displays available commands (default target)
func Help() {
	fmt.Println("Available Mage commands:")
	fmt.Println("  mage setup      - Check Go and install golangci-lint")
	fmt.Println("  mage test:all   - Run all tests with -race")
	fmt.Println("  mage fuzz       - Fuzz the wire decoders (FUZZTIME)")
	fmt.Println("  mage vet        - Run go vet")
	fmt.Println("  mage lint       - Run golangci-lint")
	fmt.Println("  mage build      - Build the project")
	fmt.Println("  mage check      - Vet, lint and test")
	fmt.Println("  mage clean      - Clean up generated files")
	fmt.Println("")
	fmt.Println("You can also run 'mage -l' to list all available targets.")
}

// Default target - displays help when no target is specified
var Default = Help
