package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func resetFlags() {
	outFile = ""
	emitAsm = false
	emitIR = false
	optLevel = 0
	logLevel = 0
	passNames = ""
	pipelineFile = ""
	dumpDir = ""
	dumpAST = false
}

func TestVersion(t *testing.T) {
	if version == "" {
		t.Error("version should not be empty")
	}
}

func TestFlagsExist(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)

	for _, name := range []string{"output", "asm", "emit-ir", "opt", "log", "passes", "pipeline", "dump-dir", "dump-ast"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected flag --%s to exist", name)
		}
	}
}

func TestNormalizeFlags(t *testing.T) {
	got := normalizeFlags([]string{"-O2", "-L1", "-o", "out.ll", "prog.sy", "-O9"})
	want := []string{"--opt=2", "--log=1", "-o", "out.ll", "prog.sy", "-O9"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("normalizeFlags = %v, want %v", got, want)
	}
}

func TestResolvePipelinePrecedence(t *testing.T) {
	resetFlags()
	passNames = "mem2reg, gvn,dce"
	names, err := resolvePipeline()
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"mem2reg", "gvn", "dce"}; !reflect.DeepEqual(names, want) {
		t.Errorf("explicit list = %v, want %v", names, want)
	}

	resetFlags()
	path := filepath.Join(t.TempDir(), "p.yaml")
	if err := os.WriteFile(path, []byte("passes:\n  - mem2reg\n  - sccp\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	pipelineFile = path
	names, err = resolvePipeline()
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"mem2reg", "sccp"}; !reflect.DeepEqual(names, want) {
		t.Errorf("yaml pipeline = %v, want %v", names, want)
	}

	resetFlags()
	optLevel = 0
	names, err = resolvePipeline()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("O0 should run no passes, got %v", names)
	}
}

func TestResolvePipelineBadLevel(t *testing.T) {
	resetFlags()
	optLevel = 7
	if _, err := resolvePipeline(); err == nil {
		t.Error("expected error for -O7")
	}
}

func TestRunParseError(t *testing.T) {
	resetFlags()
	src := filepath.Join(t.TempDir(), "bad.sy")
	if err := os.WriteFile(src, []byte("int main( {"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out, errOut bytes.Buffer
	code := run([]string{src}, &out, &errOut)
	if code != exitSourceError {
		t.Errorf("exit code = %d, want %d", code, exitSourceError)
	}
	if !strings.Contains(errOut.String(), "bad.sy") {
		t.Errorf("diagnostic should name the file, got %q", errOut.String())
	}
}

func TestRunUnknownPass(t *testing.T) {
	resetFlags()
	src := filepath.Join(t.TempDir(), "ok.sy")
	if err := os.WriteFile(src, []byte("int main() { return 0; }"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out, errOut bytes.Buffer
	code := run([]string{"-t", "nosuchpass", src}, &out, &errOut)
	if code != exitSourceError {
		t.Errorf("exit code = %d, want %d", code, exitSourceError)
	}
	if !strings.Contains(errOut.String(), "nosuchpass") {
		t.Errorf("diagnostic should name the pass, got %q", errOut.String())
	}
}

func TestRunEmitsIR(t *testing.T) {
	resetFlags()
	dir := t.TempDir()
	src := filepath.Join(dir, "ok.sy")
	if err := os.WriteFile(src, []byte("int main() { return 3; }"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out, errOut bytes.Buffer
	code := run([]string{"-i", "-O1", src}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, errOut.String())
	}
	if !strings.Contains(out.String(), "define i32 @main()") {
		t.Errorf("expected LLVM dump on stdout, got %q", out.String())
	}
}

func TestRunWritesOutputFile(t *testing.T) {
	resetFlags()
	dir := t.TempDir()
	src := filepath.Join(dir, "ok.sy")
	dst := filepath.Join(dir, "ok.ll")
	if err := os.WriteFile(src, []byte("int main() { return 0; }"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out, errOut bytes.Buffer
	if code := run([]string{"-o", dst, src}, &out, &errOut); code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, errOut.String())
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "@main") {
		t.Errorf("output file missing main, got %q", string(data))
	}
}

func TestRunAsmRequestedWarns(t *testing.T) {
	resetFlags()
	src := filepath.Join(t.TempDir(), "ok.sy")
	if err := os.WriteFile(src, []byte("int main() { return 0; }"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out, errOut bytes.Buffer
	if code := run([]string{"-S", src}, &out, &errOut); code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, errOut.String())
	}
	if !strings.Contains(errOut.String(), "no backend") {
		t.Errorf("expected backend notice, got %q", errOut.String())
	}
}

func TestRunDumpAST(t *testing.T) {
	resetFlags()
	src := filepath.Join(t.TempDir(), "ok.sy")
	if err := os.WriteFile(src, []byte("int main() { return 0; }"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out, errOut bytes.Buffer
	if code := run([]string{"--dump-ast", src}, &out, &errOut); code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, errOut.String())
	}
	if !strings.Contains(out.String(), "main") {
		t.Errorf("AST dump should mention main, got %q", out.String())
	}
}

func TestRunDumpDir(t *testing.T) {
	resetFlags()
	dir := t.TempDir()
	src := filepath.Join(dir, "ok.sy")
	if err := os.WriteFile(src, []byte("int main() { return 0; }"), 0o644); err != nil {
		t.Fatal(err)
	}
	dumps := filepath.Join(dir, "dumps")
	if err := os.Mkdir(dumps, 0o755); err != nil {
		t.Fatal(err)
	}
	var out, errOut bytes.Buffer
	code := run([]string{"-O1", "-L2", "--dump-dir", dumps, src}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, errOut.String())
	}
	entries, err := os.ReadDir(dumps)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Error("expected per-pass dumps in debug mode")
	}
}
