// Package main provides the entry point for the DAPNET proxy.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCommand(os.Args[2:]))
		case "help":
			printUsage()
			return
		}
	}
	os.Exit(runProxy(os.Args[1:]))
}

func printUsage() {
	fmt.Println(`DAPNET proxy - transparent relay between a pager transmitter and DAPNET

Usage:
  dapnet-proxy [flags] <profile>...
  dapnet-proxy config <subcommand> [options]

Every profile file starts an independent proxy. Profiles are Java-style
properties files; .yaml and .json profiles are accepted too.

Commands:
  config    Validate profiles or print sample configurations
  help      Show this help message

Flags:`)
	newProxyFlags().PrintDefaults()
}

// newProxyFlags declares the flags of the proxy command. Flag names other
// than config and version map onto AppConfig keys.
func newProxyFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("dapnet-proxy", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Path to the process configuration file (YAML)")
	fs.BoolP("version", "v", false, "Show version information")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("log-format", "console", "Log format: json, console")
	fs.String("log-output", "", "Log output: file path, stderr, or empty for stdout")
	fs.Bool("status", false, "Serve the HTTP status endpoint")
	fs.String("status-listen", "127.0.0.1:8080", "Status endpoint listen address")
	fs.Bool("metrics", false, "Serve Prometheus metrics on a separate listener")
	fs.String("metrics-listen", ":9090", "Metrics listen address")
	fs.Duration("dial-timeout", 0, "Timeout of a single dial attempt (default from config)")
	fs.String("ip-version", "", "Force IPv4 (4) or IPv6 (6)")
	fs.Usage = printUsage
	return fs
}

func runConfigCommand(args []string) int {
	if len(args) == 0 {
		printConfigUsage()
		return 0
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:])
	case "sample":
		return runConfigSample(args[1:])
	case "help", "--help", "-h":
		printConfigUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config subcommand: %s\n", args[0])
		printConfigUsage()
		return 1
	}
}

func printConfigUsage() {
	fmt.Println(`Manage DAPNET proxy configuration files

Usage:
  dapnet-proxy config <subcommand> [options]

Subcommands:
  validate    Validate one or more profile files
  sample      Print a sample profile or process configuration`)
}
