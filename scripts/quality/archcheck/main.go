// Command archcheck fails when a package crosses the layering of the bot:
// the protocol package stays a leaf, modules talk to the runtime only
// through pkg/memoria, and the kernel never knows concrete drivers.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const modulePrefix = "memoria/"

type listedPackage struct {
	ImportPath   string
	Imports      []string
	TestImports  []string
	XTestImports []string
}

func main() {
	packages, err := listPackages()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arch-check: %v\n", err)
		os.Exit(1)
	}

	violations := collectViolations(packages)
	if len(violations) == 0 {
		_, _ = fmt.Fprintf(os.Stdout, "arch-check: passed\n")
		return
	}

	_, _ = fmt.Fprintf(os.Stdout, "arch-check: architecture violations:\n")
	for _, violation := range violations {
		_, _ = fmt.Fprintf(os.Stdout, "  - %s\n", violation)
	}
	os.Exit(1)
}

func listPackages() ([]listedPackage, error) {
	cmd := exec.Command("go", "list", "-json", "-test", "./...")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("go list -json -test ./...: %w", err)
	}

	return decodePackages(&stdout)
}

func decodePackages(r io.Reader) ([]listedPackage, error) {
	decoder := json.NewDecoder(r)
	result := make([]listedPackage, 0, 64)
	for {
		var pkg listedPackage
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode go list output: %w", err)
		}
		if pkg.ImportPath == "" {
			continue
		}
		result = append(result, pkg)
	}

	return result, nil
}

func collectViolations(packages []listedPackage) []string {
	found := make(map[string]struct{})
	record := func(importer string, imported string, reason string) {
		if reason == "" {
			return
		}
		found[fmt.Sprintf("%s -> %s (%s)", importer, imported, reason)] = struct{}{}
	}

	for _, pkg := range packages {
		// go list -test reports synthesized test variants as "pkg [pkg.test]".
		importer, _, _ := strings.Cut(pkg.ImportPath, " ")
		for _, imported := range pkg.Imports {
			record(importer, imported, violationReason(importer, imported, false))
		}
		testImports := append(append([]string{}, pkg.TestImports...), pkg.XTestImports...)
		for _, imported := range testImports {
			record(importer, imported, violationReason(importer, imported, true))
		}
	}

	violations := make([]string, 0, len(found))
	for violation := range found {
		violations = append(violations, violation)
	}
	sort.Strings(violations)

	return violations
}

// violationReason explains why importer may not import imported, or returns
// "" when the edge is allowed. Tests of modules may use internal policies.
func violationReason(importer, imported string, test bool) string {
	if !strings.HasPrefix(imported, modulePrefix) {
		return ""
	}

	if hasPackagePrefix(importer, "pkg/memoria") &&
		!hasPackagePrefix(imported, "pkg/memoria") {
		return "pkg/memoria must only depend on the standard library and third-party packages"
	}

	if hasPackagePrefix(importer, "pkg/") &&
		(hasPackagePrefix(imported, "internal/") || hasPackagePrefix(imported, "modules/")) {
		return "pkg/* must not import internal/* or modules/*"
	}

	if hasPackagePrefix(importer, "internal/kernel") &&
		hasPackagePrefix(imported, "internal/driver") {
		return "internal/kernel must not import internal/driver/*"
	}

	if hasPackagePrefix(importer, "internal/") &&
		hasPackagePrefix(imported, "modules/") {
		return "internal/* must not import modules/*"
	}

	if !test && hasPackagePrefix(importer, "modules/") &&
		hasPackagePrefix(imported, "internal/") {
		return "modules/* must not import internal/*"
	}

	return ""
}

func hasPackagePrefix(importPath string, prefix string) bool {
	return strings.HasPrefix(importPath, modulePrefix+prefix)
}
