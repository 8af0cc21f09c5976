package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	"github.com/xyproto/env/v2"

	"sysycc/pkg/ir"
	"sysycc/pkg/irgen"
	"sysycc/pkg/lexer"
	"sysycc/pkg/lldump"
	"sysycc/pkg/parser"
	"sysycc/pkg/pass"
	_ "sysycc/pkg/pass/transforms"
	"sysycc/pkg/sysy"
)

var version = "0.1.0"

// Exit codes. Source and type errors are the user's problem; a
// verifier failure is ours.
const (
	exitSourceError = 1
	exitICE         = 70
)

var (
	outFile      string
	emitAsm      bool // -S: rejected, the backend is not linked in
	emitIR       bool
	optLevel     int
	logLevel     int
	passNames    string
	pipelineFile string
	dumpDir      string
	dumpAST      bool
)

var (
	errColor  = color.New(color.FgRed, color.Bold)
	noteColor = color.New(color.FgYellow)
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	rootCmd := newRootCmd(out, errOut)
	rootCmd.SetArgs(normalizeFlags(args))
	if err := rootCmd.Execute(); err != nil {
		var ice *pass.ICE
		var verr *ir.VerifyError
		switch {
		case errors.As(err, &ice):
			errColor.Fprintf(errOut, "sysycc: internal compiler error: %v\n", ice)
			fmt.Fprintln(errOut, ice.Dump)
			return exitICE
		case errors.As(err, &verr):
			errColor.Fprintf(errOut, "sysycc: internal compiler error: %v\n", verr)
			return exitICE
		default:
			errColor.Fprintf(errOut, "sysycc: error: %v\n", err)
			return exitSourceError
		}
	}
	return 0
}

// normalizeFlags rewrites gcc-style single-dash spellings (-O2, -L1)
// to the double-dash form pflag expects
func normalizeFlags(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		switch {
		case len(arg) == 3 && strings.HasPrefix(arg, "-O") && arg[2] >= '0' && arg[2] <= '3':
			out[i] = "--opt=" + arg[2:]
		case len(arg) == 3 && strings.HasPrefix(arg, "-L") && arg[2] >= '0' && arg[2] <= '2':
			out[i] = "--log=" + arg[2:]
		default:
			out[i] = arg
		}
	}
	return out
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sysycc [file]",
		Short: "sysycc compiles SysY to an optimized SSA intermediate representation",
		Long: `sysycc is the middle end of a SysY compiler. It parses a SysY
translation unit, lowers it to a typed SSA IR, runs the pass pipeline
for the chosen optimization level, and emits the optimized module in
LLVM textual syntax for downstream lowering or external tooling.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cmd.Help()
				return nil
			}
			configureLogging(logLevel)
			if emitAsm {
				noteColor.Fprintln(errOut, "sysycc: -S requested but no backend is linked in; emitting IR instead")
			}
			return compileFile(args[0], out, errOut)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	f := rootCmd.Flags()
	f.StringVarP(&outFile, "output", "o", "", "Write output to file instead of stdout")
	f.BoolVarP(&emitAsm, "asm", "S", false, "Emit assembly (requires a linked backend)")
	f.BoolVarP(&emitIR, "emit-ir", "i", false, "Dump the optimized IR in LLVM textual syntax")
	f.IntVar(&optLevel, "opt", 0, "Optimization level 0..3 (also -O0..-O3)")
	f.IntVar(&logLevel, "log", env.Int("SYSYCC_LOG_LEVEL", 1), "Log level: 0 silent, 1 info, 2 debug (also -L0..-L2)")
	f.StringVarP(&passNames, "passes", "t", "", "Comma-separated pass list overriding the level pipeline")
	f.StringVar(&pipelineFile, "pipeline", "", "YAML file listing the pass pipeline")
	f.StringVar(&dumpDir, "dump-dir", env.Str("SYSYCC_DUMP_DIR"), "Directory for per-pass IR dumps in debug mode")
	f.BoolVar(&dumpAST, "dump-ast", false, "Dump the parsed AST and stop")

	return rootCmd
}

// configureLogging maps the driver log level onto commonlog verbosity
func configureLogging(level int) {
	switch {
	case level <= 0:
		commonlog.Configure(-1, nil)
	case level == 1:
		commonlog.Configure(1, nil)
	default:
		commonlog.Configure(2, nil)
	}
}

func compileFile(filename string, out, errOut io.Writer) error {
	src, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if dumpAST {
		return doDumpAST(filename, string(src), out, errOut)
	}
	m, err := compile(filename, string(src), errOut)
	if err != nil {
		return err
	}

	w := out
	if outFile != "" {
		file, err := os.Create(outFile)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}
	if emitIR || emitAsm || outFile != "" {
		fmt.Fprint(w, lldump.Dump(m))
	}
	return nil
}

// doDumpAST parses and pretty-prints the translation unit (--dump-ast)
func doDumpAST(filename, src string, out, errOut io.Writer) error {
	p := parser.New(lexer.New(src))
	cu := p.ParseCompUnit()
	if errs := p.Errors(); len(errs) > 0 {
		for _, e := range errs {
			errColor.Fprintf(errOut, "%s: %s\n", filename, e)
		}
		return fmt.Errorf("%d parse errors in %s", len(errs), filename)
	}
	sysy.NewPrinter(out).PrintCompUnit(cu)
	return nil
}

// compile runs the whole middle end over one translation unit: parse,
// lower to IR, run the pass pipeline, verify before handing off
func compile(filename, src string, errOut io.Writer) (*ir.Module, error) {
	log := commonlog.GetLogger("driver")

	p := parser.New(lexer.New(src))
	cu := p.ParseCompUnit()
	if errs := p.Errors(); len(errs) > 0 {
		for _, e := range errs {
			errColor.Fprintf(errOut, "%s: %s\n", filename, e)
		}
		return nil, fmt.Errorf("%d parse errors in %s", len(errs), filename)
	}

	m, err := irgen.NewGenerator().Generate(cu)
	if err != nil {
		var unsup *irgen.UnsupportedConstruct
		if errors.As(err, &unsup) {
			return nil, &pass.ICE{Pass: "irgen", Err: err}
		}
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	log.Infof("lowered %s: %d functions", filename, len(m.Funcs()))

	names, err := resolvePipeline()
	if err != nil {
		return nil, err
	}
	pm := pass.NewManager(m)
	pm.Debug = logLevel >= 2
	pm.DumpDir = dumpDir
	if err := pm.RunNamed(names); err != nil {
		return nil, err
	}

	// The lowering contract: the backend only ever sees verified IR
	if err := ir.Verify(m); err != nil {
		return nil, &pass.ICE{Pass: "pipeline", Err: err, Dump: m.Format()}
	}
	return m, nil
}

// resolvePipeline picks the pass list: explicit -t wins, then a YAML
// pipeline file, then the default for the -O level
func resolvePipeline() ([]string, error) {
	if passNames != "" {
		var names []string
		for _, n := range strings.Split(passNames, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		return names, nil
	}
	if pipelineFile != "" {
		return pass.LoadPipeline(pipelineFile)
	}
	return pass.LevelPipeline(optLevel)
}
