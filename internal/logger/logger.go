package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

func init() {
	// Silence the default charmbracelet/log logger
	// All logging should go through our custom logger instance
	log.SetLevel(log.FatalLevel)
}

const (
	appName     = "xpinstall"
	logFileName = "xpinstall.log"
)

var (
	// Log is the global logger instance
	Log *log.Logger

	// logFile is the file handle for the log file
	logFile *os.File
)

// Init initializes the logger with the given verbosity level
// When verbose is false, logs go to file only
// When verbose is true, logs go to both file and stderr
func Init(verbose bool) error {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}

	// Ensure log directory exists
	logPath, err := xdg.CacheFile(filepath.Join(appName, logFileName))
	if err != nil {
		// Fall back to stderr only if we can't create log dir
		Log = stderrOnly(verbose)
		return nil
	}

	// Open log file (append mode)
	logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		Log = stderrOnly(verbose)
		return nil
	}

	// Set up output destination
	var output io.Writer = logFile
	if verbose {
		output = io.MultiWriter(logFile, os.Stderr)
	}

	Log = log.NewWithOptions(output, log.Options{
		ReportTimestamp: true,
		Prefix:          appName,
	})
	Log.SetLevel(level)
	return nil
}

func stderrOnly(verbose bool) *log.Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if verbose {
		l.SetLevel(log.DebugLevel)
	} else {
		l.SetLevel(log.WarnLevel)
	}
	return l
}

// Discard returns a logger that drops everything, for library callers
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// Get returns the process logger, or a discarding one before Init
func Get() *log.Logger {
	if Log == nil {
		return Discard()
	}
	return Log
}

// Close closes the log file
func Close() {
	if logFile != nil {
		_ = logFile.Close()
	}
}

// GetLogPath returns the path to the log file
func GetLogPath() string {
	return filepath.Join(xdg.CacheHome, appName, logFileName)
}

// Convenience functions that use the global logger

func Debug(msg interface{}, keyvals ...interface{}) {
	if Log != nil {
		Log.Debug(msg, keyvals...)
	}
}

func Info(msg interface{}, keyvals ...interface{}) {
	if Log != nil {
		Log.Info(msg, keyvals...)
	}
}

func Warn(msg interface{}, keyvals ...interface{}) {
	if Log != nil {
		Log.Warn(msg, keyvals...)
	}
}

func Error(msg interface{}, keyvals ...interface{}) {
	if Log != nil {
		Log.Error(msg, keyvals...)
	}
}
