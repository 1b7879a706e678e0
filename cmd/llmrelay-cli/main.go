// Package main provides the llmrelay-cli command-line tool for managing
// the relay.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/stackbound/llmrelay"
	"github.com/stackbound/llmrelay/internal/version"
)

const usage = `llmrelay-cli — llmrelay command line tool

Usage:
  llmrelay-cli <command> [arguments]

Commands:
  validate <config-file>    Validate a relay configuration file (YAML)
  version                   Print version info
  help                      Show this help
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "validate":
		cmdValidate()
	case "version":
		cmdVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		fmt.Print(usage)
		os.Exit(1)
	}
}

func cmdValidate() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: llmrelay-cli validate <config-file>")
		os.Exit(1)
	}
	path := os.Args[2]

	cfg, err := llmrelay.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Config is valid\n")
	fmt.Printf("  Providers: %d\n", len(cfg.Providers))

	var names []string
	for _, p := range cfg.Providers {
		names = append(names, p.Name)
	}
	fmt.Printf("  Names:     %s\n", strings.Join(names, ", "))

	if cc := cfg.CheckConfig; cc != nil && cc.Enabled {
		fmt.Printf("  Health:    %s every %ds\n", cc.Endpoint, cc.Interval)
	}

	for _, p := range cfg.Providers {
		if p.Fallback != "" && len(llmrelay.MatchProviders(cfg, p.Fallback)) == 0 {
			fmt.Printf("  Warning:   provider %q falls back to model %q, which no provider serves\n",
				p.Name, p.Fallback)
		}
	}
}

func cmdVersion() {
	fmt.Printf("llmrelay-cli %s\n", version.String())
}
