// Command archcheck enforces the import layering between pkg, internal and
// modules. It exits non-zero when any package crosses a forbidden boundary.
package main

import (
	"bufio"
	"bytes"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
)

const modulePrefix = "hookrelay/"

// listFormat prints one package per line: its path, a tab, then every import
// of the package and its tests separated by spaces. Test variant paths
// contain spaces, hence the tab.
const listFormat = `{{.ImportPath}}{{"\t"}}{{join .Imports " "}} {{join .TestImports " "}} {{join .XTestImports " "}}`

// packageImports is one package and everything it imports, tests included.
type packageImports struct {
	path    string
	imports []string
}

func main() {
	packages, err := listPackages()
	if err != nil {
		fmt.Fprintf(os.Stderr, "archcheck: %v\n", err)
		os.Exit(1)
	}

	violations := collectViolations(packages)
	if len(violations) == 0 {
		fmt.Println("archcheck: ok")
		return
	}

	fmt.Printf("archcheck: %d violation(s)\n", len(violations))
	for _, violation := range violations {
		fmt.Println("  " + violation)
	}
	os.Exit(1)
}

func listPackages() ([]packageImports, error) {
	output, err := exec.Command("go", "list", "-test", "-f", listFormat, "./...").Output()
	if err != nil {
		return nil, fmt.Errorf("go list: %w", err)
	}

	return parseListOutput(output), nil
}

func parseListOutput(output []byte) []packageImports {
	var packages []packageImports
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		path, imports, _ := strings.Cut(scanner.Text(), "\t")
		if path == "" {
			continue
		}
		packages = append(packages, packageImports{path: path, imports: strings.Fields(imports)})
	}

	return packages
}

// collectViolations returns each distinct offending edge, sorted.
func collectViolations(packages []packageImports) []string {
	found := make(map[string]struct{})
	for _, pkg := range packages {
		for _, imported := range pkg.imports {
			if reason := violationReason(pkg.path, imported); reason != "" {
				found[pkg.path+" -> "+imported+": "+reason] = struct{}{}
			}
		}
	}

	return slices.Sorted(maps.Keys(found))
}

// layerRule forbids imports from one package prefix into another.
type layerRule struct {
	importer string
	imported string
	reason   string
}

var layerRules = []layerRule{
	{importer: "pkg/", imported: "internal/", reason: "pkg/* must not import internal/*"},
	{importer: "pkg/", imported: "modules/", reason: "pkg/* must not import modules/*"},
	{importer: "internal/kernel", imported: "internal/driver", reason: "internal/kernel must not import internal/driver/*"},
	{importer: "internal/kernel", imported: "modules/", reason: "internal/kernel must not import modules/*"},
	{importer: "internal/driver", imported: "internal/kernel", reason: "internal/driver/* must not import internal/kernel"},
	{importer: "internal/driver", imported: "modules/", reason: "internal/driver/* must not import modules/*"},
	{importer: "internal/relay", imported: "internal/kernel", reason: "internal/relay must not import internal/kernel"},
	{importer: "internal/notify", imported: "internal/kernel", reason: "internal/notify must not import internal/kernel"},
	{importer: "modules/", imported: "internal/", reason: "modules/* must not import internal/*"},
}

func violationReason(importer, imported string) string {
	for _, rule := range layerRules {
		if strings.HasPrefix(importer, modulePrefix+rule.importer) &&
			strings.HasPrefix(imported, modulePrefix+rule.imported) {
			return rule.reason
		}
	}

	if importerModule, ok := moduleOf(importer); ok {
		if importedModule, ok := moduleOf(imported); ok && importedModule != importerModule {
			return "modules/* must not import sibling modules"
		}
	}

	return ""
}

// moduleOf returns the top-level module directory of path under modules/.
//
// Test variants reported by go list map back to their package.
func moduleOf(path string) (string, bool) {
	rest, found := strings.CutPrefix(path, modulePrefix+"modules/")
	if !found {
		return "", false
	}
	rest, _, _ = strings.Cut(rest, " ")
	name, _, _ := strings.Cut(rest, "/")
	name = strings.TrimSuffix(name, "_test")

	return name, name != ""
}
