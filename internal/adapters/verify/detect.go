// Package verify implements the Verification Runner secondary port
// (spec.md §4.C): deterministic command detection plus a pure,
// subprocess-driven execution/normalization pipeline.
package verify

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/homer-dev/homer/internal/ports/secondary"
)

type packageJSON struct {
	Scripts map[string]string `json:"scripts"`
}

// stockTestStub is the npm-init placeholder script; a test script equal to
// this (modulo whitespace) is not a real check (spec.md §4.C).
const stockTestStub = `echo "Error: no test specified" && exit 1`

var makeCheckTargetRe = regexp.MustCompile(`(?m)^check\s*:`)

// Runner implements secondary.Verifier.
type Runner struct{}

// New creates a Runner.
func New() *Runner { return &Runner{} }

// Detect implements secondary.Verifier per spec.md §4.C's detection rules,
// checked in order: package.json scripts, then Python tooling, then a
// Makefile check: target as last resort.
func (r *Runner) Detect(projectRoot string) []secondary.VerifyCommand {
	if cmds := detectNode(projectRoot); cmds != nil {
		return cmds
	}
	if cmds := detectPython(projectRoot); cmds != nil {
		return cmds
	}
	if detectMakefile(projectRoot) {
		return []secondary.VerifyCommand{{Name: "check", Command: "make", Args: []string{"check"}}}
	}
	return nil
}

func detectNode(root string) []secondary.VerifyCommand {
	pkgPath := filepath.Join(root, "package.json")
	data, err := os.ReadFile(pkgPath)
	if err != nil {
		return nil
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil
	}

	var cmds []secondary.VerifyCommand

	switch {
	case hasScript(pkg, "typecheck"):
		cmds = append(cmds, npmRun("typecheck"))
	case hasScript(pkg, "type-check"):
		cmds = append(cmds, npmRun("type-check"))
	case fileExists(filepath.Join(root, "tsconfig.json")):
		cmds = append(cmds, secondary.VerifyCommand{Name: "typecheck", Command: "npx", Args: []string{"tsc", "--noEmit"}})
	}

	if hasScript(pkg, "lint") {
		cmds = append(cmds, npmRun("lint"))
	}

	if script, ok := pkg.Scripts["test"]; ok && strings.TrimSpace(script) != stockTestStub {
		cmds = append(cmds, npmRun("test"))
	}

	if len(cmds) == 0 && hasScript(pkg, "build") {
		cmds = append(cmds, npmRun("build"))
	}

	return cmds
}

func hasScript(pkg packageJSON, name string) bool {
	s, ok := pkg.Scripts[name]
	return ok && strings.TrimSpace(s) != ""
}

func npmRun(script string) secondary.VerifyCommand {
	return secondary.VerifyCommand{Name: script, Command: "npm", Args: []string{"run", script}}
}

func detectPython(root string) []secondary.VerifyCommand {
	var cmds []secondary.VerifyCommand

	if hasMypyConfig(root) {
		cmds = append(cmds, secondary.VerifyCommand{Name: "typecheck", Command: "mypy", Args: []string{"."}})
	}
	if fileExists(filepath.Join(root, "tests")) || fileExists(filepath.Join(root, "test")) {
		cmds = append(cmds, secondary.VerifyCommand{Name: "test", Command: "pytest", Args: nil})
	}
	if hasRuffConfig(root) {
		cmds = append(cmds, secondary.VerifyCommand{Name: "lint", Command: "ruff", Args: []string{"check", "."}})
	}

	return cmds
}

func hasMypyConfig(root string) bool {
	if fileExists(filepath.Join(root, "mypy.ini")) {
		return true
	}
	if tomlSectionPresent(filepath.Join(root, "pyproject.toml"), "[tool.mypy]") {
		return true
	}
	return iniSectionPresent(filepath.Join(root, "setup.cfg"), "[mypy]")
}

func hasRuffConfig(root string) bool {
	if fileExists(filepath.Join(root, "ruff.toml")) || fileExists(filepath.Join(root, ".ruff.toml")) {
		return true
	}
	return tomlSectionPresent(filepath.Join(root, "pyproject.toml"), "[tool.ruff]")
}

func detectMakefile(root string) bool {
	data, err := os.ReadFile(filepath.Join(root, "Makefile"))
	if err != nil {
		return false
	}
	return makeCheckTargetRe.Match(data)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// tomlSectionPresent/iniSectionPresent do a line-scan for a section header;
// full TOML/INI parsing is unwarranted for a presence check.
func tomlSectionPresent(path, section string) bool { return sectionPresent(path, section) }
func iniSectionPresent(path, section string) bool  { return sectionPresent(path, section) }

func sectionPresent(path, section string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == section {
			return true
		}
	}
	return false
}
