package main

// Exit codes
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error (invalid arguments, runtime failure, aborted import)
	ExitConfigError = 2 // Configuration error (unreadable or invalid config, database unavailable)
	ExitDataError   = 3 // Data error (archive cannot be opened or read, malformed snapshot)
	ExitNotFound    = 4 // Paper or profile not found
)
