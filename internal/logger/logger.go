package logger

// Log levels accepted in configuration.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

// New returns a console logger at the given level.
func New(level string) *Logger {
	return newZapLogger(level)
}

// Nop discards everything; used by tests and optional collaborators.
func Nop() *Logger {
	return nopLogger()
}
