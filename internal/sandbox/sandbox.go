// Package sandbox runs short untrusted Go probe scripts under wall-clock and
// heap bounds using the yaegi interpreter. It exists for probe execution only;
// complete generated artifacts are validated by the external container
// harness, not here.
//
// Instead of compiling probes with `go build` (which can hang or fail on
// missing dependencies), code is interpreted at runtime with a stdlib-only
// import whitelist. Network, filesystem and process access are denied by
// keeping os, os/exec, net, net/http, syscall and unsafe off the whitelist.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"runtime"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"mcpforge/internal/logging"
	"mcpforge/internal/types"
)

// Options bound one execution.
type Options struct {
	Timeout     time.Duration
	MemoryLimit int64 // bytes of heap growth allowed, 0 = default
}

// DefaultOptions returns the standard probe envelope.
func DefaultOptions() Options {
	return Options{
		Timeout:     5 * time.Second,
		MemoryLimit: 128 << 20,
	}
}

// Result is the structured outcome of one execution. Timeouts, memory
// breaches and panics are reported here, never as exceptions to the caller.
type Result struct {
	Success       bool
	Output        string
	Logs          []string
	Violation     *types.SandboxViolation
	ExecutionTime time.Duration
	MemoryUsed    int64
}

// Executor runs probe code in an isolated yaegi interpreter per call. A fresh
// interpreter each time means no ambient state leaks between executions.
type Executor struct {
	allowedPackages map[string]bool
}

// New creates an executor with the default stdlib whitelist.
func New() *Executor {
	return &Executor{
		allowedPackages: map[string]bool{
			"bytes":           true,
			"encoding/base64": true,
			"encoding/json":   true,
			"errors":          true,
			"fmt":             true,
			"math":            true,
			"math/rand":       true,
			"regexp":          true,
			"sort":            true,
			"strconv":         true,
			"strings":         true,
			"time":            true,
			"unicode":         true,
			"unicode/utf8":    true,

			// EXPLICITLY BLOCKED (kept off the whitelist):
			// os, os/exec, io/ioutil - filesystem access
			// net, net/http - network access
			// syscall, unsafe, plugin, runtime/cgo - host escape
		},
	}
}

// Check compiles the code without executing it, for fast syntax pre-checks.
func (e *Executor) Check(code string) error {
	fset := token.NewFileSet()
	_, err := parser.ParseFile(fset, "probe.go", wrapCode(code), 0)
	if err != nil {
		return fmt.Errorf("syntax check failed: %w", err)
	}
	return e.validateImports(code)
}

// Execute runs the code under the given bounds and returns a structured
// result. Standard output and error writes inside the sandbox are intercepted
// and returned as Logs rather than hitting the host's console.
func (e *Executor) Execute(ctx context.Context, code string, opts Options) Result {
	timer := logging.StartTimer(logging.CategorySandbox, "Execute")
	defer timer.Stop()

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.MemoryLimit <= 0 {
		opts.MemoryLimit = DefaultOptions().MemoryLimit
	}

	if err := e.validateImports(code); err != nil {
		return Result{Violation: &types.SandboxViolation{
			Kind:   types.ViolationImport,
			Detail: err.Error(),
		}}
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	i := interp.New(interp.Options{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return Result{Violation: &types.SandboxViolation{
			Kind:   types.ViolationPanic,
			Detail: fmt.Sprintf("failed to load stdlib symbols: %v", err),
		}}
	}

	var before runtime.MemStats
	runtime.ReadMemStats(&before)
	start := time.Now()

	type evalOutcome struct {
		value string
		err   error
	}
	done := make(chan evalOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- evalOutcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		// Evaluate declarations first, then invoke the entry point. Yaegi
		// does not run main on its own when evaluating a source file.
		v, err := i.EvalWithContext(ctx, wrapCode(code))
		if err == nil && strings.Contains(code, "func main(") {
			v, err = i.EvalWithContext(ctx, "main()")
		}
		out := evalOutcome{err: err}
		if err == nil && v.IsValid() && v.CanInterface() {
			out.value = fmt.Sprintf("%v", v.Interface())
		}
		done <- out
	}()

	var outcome evalOutcome
	select {
	case outcome = <-done:
	case <-ctx.Done():
		logging.Sandbox("probe terminated by timeout after %v", opts.Timeout)
		return Result{
			Violation: &types.SandboxViolation{
				Kind:   types.ViolationTimeout,
				Detail: fmt.Sprintf("execution exceeded %v", opts.Timeout),
			},
			Logs:          captureLogs(&stdout, &stderr),
			ExecutionTime: time.Since(start),
		}
	}

	elapsed := time.Since(start)
	var after runtime.MemStats
	runtime.ReadMemStats(&after)
	used := int64(after.TotalAlloc - before.TotalAlloc)

	res := Result{
		Output:        outcome.value,
		Logs:          captureLogs(&stdout, &stderr),
		ExecutionTime: elapsed,
		MemoryUsed:    used,
	}

	if outcome.err != nil {
		if ctx.Err() != nil {
			res.Violation = &types.SandboxViolation{
				Kind:   types.ViolationTimeout,
				Detail: fmt.Sprintf("execution exceeded %v", opts.Timeout),
			}
		} else {
			res.Violation = &types.SandboxViolation{
				Kind:   types.ViolationPanic,
				Detail: outcome.err.Error(),
			}
		}
		logging.SandboxDebug("probe failed: %v", outcome.err)
		return res
	}

	if used > opts.MemoryLimit {
		res.Violation = &types.SandboxViolation{
			Kind:   types.ViolationMemory,
			Detail: fmt.Sprintf("allocated %d bytes, limit %d", used, opts.MemoryLimit),
		}
		logging.Sandbox("probe breached memory limit: %d > %d", used, opts.MemoryLimit)
		return res
	}

	if res.Output == "" && len(res.Logs) > 0 {
		res.Output = res.Logs[len(res.Logs)-1]
	}
	res.Success = true
	return res
}

func captureLogs(stdout, stderr *bytes.Buffer) []string {
	var logs []string
	for _, buf := range []*bytes.Buffer{stdout, stderr} {
		for _, line := range strings.Split(buf.String(), "\n") {
			if strings.TrimSpace(line) != "" {
				logs = append(logs, line)
			}
		}
	}
	return logs
}

// validateImports checks that the code only imports whitelisted packages.
func (e *Executor) validateImports(code string) error {
	var imports []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import (") {
			inBlock = true
			continue
		}
		if inBlock {
			if strings.HasPrefix(trimmed, ")") {
				inBlock = false
				continue
			}
			imports = append(imports, parseImportLine(trimmed))
			continue
		}
		if strings.HasPrefix(trimmed, "import ") {
			imports = append(imports, parseImportLine(strings.TrimPrefix(trimmed, "import ")))
		}
	}

	for _, pkg := range imports {
		if pkg == "" {
			continue
		}
		if !e.allowedPackages[pkg] {
			return fmt.Errorf("package %q is not allowed in the sandbox", pkg)
		}
	}
	return nil
}

func parseImportLine(line string) string {
	line = strings.TrimSpace(line)
	// Strip any alias ("x \"fmt\"" -> "\"fmt\"").
	if idx := strings.Index(line, `"`); idx > 0 {
		line = line[idx:]
	}
	return strings.Trim(line, `"`)
}

// wrapCode ensures the snippet is a full file yaegi can evaluate.
func wrapCode(code string) string {
	if strings.Contains(code, "package ") {
		return code
	}
	return "package main\n\n" + code
}
