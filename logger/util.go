package logger

// WithKV returns a child logger carrying a single metadata key.
func WithKV(log Logger, key string, value interface{}) Logger {
	return log.With(map[string]interface{}{key: value})
}

// WithComponent tags every line logged through the returned logger with the
// component name. All narrative-cache packages log through one of these.
func WithComponent(log Logger, component string) Logger {
	if log == nil {
		log = NewConsoleLogger()
	}
	return WithKV(log, "component", component)
}

// StripColors removes ANSI escape sequences from s.
func StripColors(s string) string {
	return ansiColorStripper.ReplaceAllString(s, "")
}
