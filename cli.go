package main

import "fmt"

// Version is the current relay version. Set at build time via -ldflags.
var Version = "0.1.0-dev"

// RunCLI handles subcommand execution before flag parsing. Returns true if
// a subcommand was handled (spec's distillation drops CLI surface, but
// SPEC_FULL.md keeps `version` as genuinely useful operational surface).
func RunCLI(args []string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("audiorelay %s\n", Version)
		return true
	default:
		return false
	}
}
