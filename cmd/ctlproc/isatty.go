package main

import (
	"golang.org/x/term"
)

// isatty returns true if the given file descriptor is a terminal
func isatty(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}
