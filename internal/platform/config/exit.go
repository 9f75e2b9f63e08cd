package config

import (
	"fmt"
	"os"
)

// Exitf prints to stderr and exits with status 1. CLI entry points use it
// for fatal errors that need no stack trace.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
