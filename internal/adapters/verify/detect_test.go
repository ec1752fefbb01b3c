package verify

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
}

func TestDetectNodePrefersExplicitTypecheckScript(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"scripts":{"typecheck":"tsc --noEmit","lint":"eslint ."}}`)

	r := New()
	cmds := r.Detect(dir)
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands, got %d: %+v", len(cmds), cmds)
	}
	if cmds[0].Name != "typecheck" {
		t.Errorf("expected typecheck first, got %s", cmds[0].Name)
	}
}

func TestDetectNodeSynthesizesTscFromTsconfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"scripts":{}}`)
	writeFile(t, dir, "tsconfig.json", `{}`)

	r := New()
	cmds := r.Detect(dir)
	if len(cmds) != 1 || cmds[0].Command != "npx" {
		t.Fatalf("expected synthesized tsc command, got %+v", cmds)
	}
}

func TestDetectNodeSkipsStockTestStub(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"scripts":{"test":"echo \"Error: no test specified\" && exit 1","build":"webpack"}}`)

	r := New()
	cmds := r.Detect(dir)
	if len(cmds) != 1 || cmds[0].Name != "build" {
		t.Fatalf("expected fallback to build, got %+v", cmds)
	}
}

func TestDetectPythonMypyAndPytest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "mypy.ini", "[mypy]\n")
	if err := os.Mkdir(filepath.Join(dir, "tests"), 0755); err != nil {
		t.Fatal(err)
	}

	r := New()
	cmds := r.Detect(dir)
	if len(cmds) != 2 {
		t.Fatalf("expected mypy+pytest, got %+v", cmds)
	}
}

func TestDetectMakefileCheckTarget(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Makefile", "check:\n\tgo vet ./...\n")

	r := New()
	cmds := r.Detect(dir)
	if len(cmds) != 1 || cmds[0].Command != "make" {
		t.Fatalf("expected make check, got %+v", cmds)
	}
}

func TestDetectEmptyProjectReturnsNil(t *testing.T) {
	dir := t.TempDir()
	r := New()
	if cmds := r.Detect(dir); cmds != nil {
		t.Fatalf("expected nil, got %+v", cmds)
	}
}
