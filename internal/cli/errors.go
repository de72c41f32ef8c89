package cli

import "errors"

// Config errors.
var (
	ErrConfigInvalid      = errors.New("invalid config")
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrCacheDirEmpty      = errors.New("cache_dir cannot be empty")
	ErrNegativeValue      = errors.New("value must not be negative")
)

// Command errors.
var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrUnexpectedArgs  = errors.New("unexpected arguments")
	ErrInvalidJobs     = errors.New("--jobs must be at least 1")
	ErrCorruptEntries  = errors.New("corrupt entries found")
	ErrCleanupFailures = errors.New("cleanup finished with errors")
)
