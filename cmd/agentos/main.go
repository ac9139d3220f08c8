// Package main is the agentos CLI: it boots the gateway, the bus
// client, the hosted agents, and the memory engine from one
// configuration file.
//
// Start the platform:
//
//	agentos serve --config agentos.yaml
//
// Validate a configuration without starting anything:
//
//	agentos config validate --config agentos.yaml
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Process exit codes.
const (
	exitOK     = 0
	exitConfig = 1
	exitBus    = 2
	exitStore  = 3
	exitSignal = 130
)

// exitError carries a process exit code alongside the cause.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		code := exitConfig
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		if code == exitSignal {
			os.Exit(code)
		}
		slog.Error("command failed", "error", err)
		os.Exit(code)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentos",
		Short: "agentos - multi-agent orchestration platform",
		Long: `agentos routes task requests from external channels to named agents,
drives each agent through a policy-gated tool loop against an LLM
provider, and streams responses back over the originating connection.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}
