// Package logging provides config-driven categorized file-based logging for
// mcpforge. Logs are written to .forge/logs/ with a separate file per category.
// Logging is controlled by debug_mode in .forge/config.json - when false, only
// warnings and errors are written.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot     Category = "boot"     // Boot/initialization
	CategorySession  Category = "session"  // Session state, checkpoints
	CategoryPipeline Category = "pipeline" // State machine transitions
	CategoryResearch Category = "research" // Evidence gathering, classification
	CategoryEnsemble Category = "ensemble" // Specialist passes, voting
	CategoryClarify  Category = "clarify"  // Gap detection, questions
	CategoryRefine   Category = "refine"   // Generate-test-repair loop
	CategorySandbox  Category = "sandbox"  // Sandboxed probe execution
	CategoryExtract  Category = "extract"  // Structured-output extraction
	CategoryHarness  Category = "harness"  // Container test harness submissions
	CategoryScaffold Category = "scaffold" // Artifact templates, schema checks
	CategoryStore    Category = "store"    // Checkpoint store operations
	CategoryAPI      Category = "api"      // LLM API calls
	CategoryConfig   Category = "config"   // Config load/reload
)

// loggingConfig mirrors the relevant parts of config.LoggingConfig to avoid a
// circular import with internal/config.
type loggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
}

type configFile struct {
	Logging loggingConfig `json:"logging"`
}

// Logger wraps a zap sugared logger bound to one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex

	logsDir      string
	workspace    string
	cfg          loggingConfig
	configLoaded bool
	configMu     sync.RWMutex
)

// Initialize sets up the logging directory and loads config. Should be called
// once at startup with the workspace path. Without initialization, loggers
// fall back to no-ops so library use stays silent.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}
	workspace = ws
	logsDir = filepath.Join(workspace, ".forge", "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs dir: %w", err)
	}
	return loadConfig()
}

func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	cfg = loggingConfig{DebugMode: false, Level: "warn"}
	configLoaded = true

	path := filepath.Join(workspace, ".forge", "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		// Missing config is fine; defaults apply.
		return nil
	}
	var f configFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg = f.Logging
	return nil
}

// ReloadConfig re-reads logging settings, dropping cached loggers so new
// levels take effect.
func ReloadConfig() error {
	loggersMu.Lock()
	for _, l := range loggers {
		_ = l.sugar.Sync()
	}
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
	return loadConfig()
}

// IsDebugMode reports whether debug logging is active.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return cfg.DebugMode
}

// IsCategoryEnabled reports whether a category is enabled. Categories default
// to enabled unless explicitly disabled in config.
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()
	if cfg.Categories == nil {
		return true
	}
	enabled, ok := cfg.Categories[string(category)]
	if !ok {
		return true
	}
	return enabled
}

func level() zapcore.Level {
	configMu.RLock()
	defer configMu.RUnlock()
	if cfg.DebugMode {
		return zapcore.DebugLevel
	}
	switch cfg.Level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}

// Get returns the logger for a category, creating it on first use.
func Get(category Category) *Logger {
	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := newLogger(category)
	loggers[category] = l
	return l
}

func newLogger(category Category) *Logger {
	if logsDir == "" || !IsCategoryEnabled(category) {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	path := filepath.Join(logsDir, string(category)+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	encCfg.TimeKey = "ts"
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(file),
		level(),
	)
	z := zap.New(core).Named(string(category))
	return &Logger{category: category, sugar: z.Sugar()}
}

// Debug logs a debug-level message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an info-level message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error.
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// CloseAll flushes every open logger. Call on shutdown.
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		_ = l.sugar.Sync()
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// TIMERS
// =============================================================================

// Timer measures the duration of an operation for performance logging.
type Timer struct {
	category Category
	name     string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, name string) *Timer {
	return &Timer{category: category, name: name, start: time.Now()}
}

// Stop logs the elapsed time at debug level.
func (t *Timer) Stop() {
	Get(t.category).Debug("%s took %v", t.name, time.Since(t.start))
}

// StopWithInfo logs the elapsed time at info level, for operations worth
// seeing outside debug mode.
func (t *Timer) StopWithInfo() {
	Get(t.category).Info("%s took %v", t.name, time.Since(t.start))
}

// =============================================================================
// CATEGORY HELPERS
// =============================================================================

// Pipeline logs an info message to the pipeline category.
func Pipeline(format string, args ...interface{}) { Get(CategoryPipeline).Info(format, args...) }

// PipelineDebug logs a debug message to the pipeline category.
func PipelineDebug(format string, args ...interface{}) { Get(CategoryPipeline).Debug(format, args...) }

// Research logs an info message to the research category.
func Research(format string, args ...interface{}) { Get(CategoryResearch).Info(format, args...) }

// ResearchDebug logs a debug message to the research category.
func ResearchDebug(format string, args ...interface{}) { Get(CategoryResearch).Debug(format, args...) }

// Ensemble logs an info message to the ensemble category.
func Ensemble(format string, args ...interface{}) { Get(CategoryEnsemble).Info(format, args...) }

// EnsembleDebug logs a debug message to the ensemble category.
func EnsembleDebug(format string, args ...interface{}) { Get(CategoryEnsemble).Debug(format, args...) }

// Clarify logs an info message to the clarify category.
func Clarify(format string, args ...interface{}) { Get(CategoryClarify).Info(format, args...) }

// ClarifyDebug logs a debug message to the clarify category.
func ClarifyDebug(format string, args ...interface{}) { Get(CategoryClarify).Debug(format, args...) }

// Refine logs an info message to the refine category.
func Refine(format string, args ...interface{}) { Get(CategoryRefine).Info(format, args...) }

// RefineDebug logs a debug message to the refine category.
func RefineDebug(format string, args ...interface{}) { Get(CategoryRefine).Debug(format, args...) }

// Sandbox logs an info message to the sandbox category.
func Sandbox(format string, args ...interface{}) { Get(CategorySandbox).Info(format, args...) }

// SandboxDebug logs a debug message to the sandbox category.
func SandboxDebug(format string, args ...interface{}) { Get(CategorySandbox).Debug(format, args...) }

// Scaffold logs an info message to the scaffold category.
func Scaffold(format string, args ...interface{}) { Get(CategoryScaffold).Info(format, args...) }

// ScaffoldDebug logs a debug message to the scaffold category.
func ScaffoldDebug(format string, args ...interface{}) { Get(CategoryScaffold).Debug(format, args...) }

// Harness logs an info message to the harness category.
func Harness(format string, args ...interface{}) { Get(CategoryHarness).Info(format, args...) }

// HarnessDebug logs a debug message to the harness category.
func HarnessDebug(format string, args ...interface{}) { Get(CategoryHarness).Debug(format, args...) }

// API logs an info message to the api category.
func API(format string, args ...interface{}) { Get(CategoryAPI).Info(format, args...) }

// APIDebug logs a debug message to the api category.
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }

// Store logs an info message to the store category.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs a debug message to the store category.
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
