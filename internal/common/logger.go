package common

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

var (
	globalLogger arbor.ILogger
	loggerMutex  sync.RWMutex
)

// GetLogger returns the logger built by InitLogger, or a console logger before that
func GetLogger() arbor.ILogger {
	loggerMutex.RLock()
	defer loggerMutex.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return arbor.NewLogger().WithConsoleWriter(consoleWriter())
}

// InitLogger builds the process logger from the logging section and makes it global.
// A log file that cannot be created degrades to console output.
func InitLogger(config *Config) arbor.ILogger {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	logger := arbor.NewLogger()
	console := false
	for _, output := range config.Logging.Output {
		switch output {
		case "file":
			path, err := logFilePath(config.Logging.File)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: file logging disabled: %v\n", err)
				console = true
				continue
			}
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   path,
				TimeFormat: "15:04:05",
				MaxSize:    100 * 1024 * 1024,
				MaxBackups: 3,
				OutputType: models.OutputFormatLogfmt,
			})
		case "stdout", "console":
			console = true
		}
	}
	if console {
		logger = logger.WithConsoleWriter(consoleWriter())
	}

	logger = logger.WithLevelFromString(config.Logging.Level)
	globalLogger = logger
	return logger
}

// NewTestLogger returns a console logger at warn level for tests
func NewTestLogger() arbor.ILogger {
	return arbor.NewLogger().WithConsoleWriter(consoleWriter()).WithLevelFromString("warn")
}

func consoleWriter() models.WriterConfiguration {
	return models.WriterConfiguration{
		Type:       models.LogWriterTypeConsole,
		TimeFormat: "15:04:05",
		OutputType: models.OutputFormatLogfmt,
	}
}

// logFilePath resolves the log file and creates its directory
func logFilePath(configured string) (string, error) {
	path := configured
	if path == "" {
		exePath, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("failed to locate executable: %w", err)
		}
		path = filepath.Join(filepath.Dir(exePath), "logs", "fibercore.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	return path, nil
}
