package main

import (
	"fmt"
	"os"

	"github.com/sahmadiut/dapnet-proxy/internal/config"
	"github.com/spf13/pflag"
)

func runConfigValidate(args []string) int {
	fs := pflag.NewFlagSet("validate", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Println(`Validate profile files

Usage:
  dapnet-proxy config validate <profile>...`)
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one profile is required")
		fs.Usage()
		return 1
	}

	code := 0
	for _, path := range fs.Args() {
		p, err := config.LoadProfile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %s: %v\n", path, err)
			code = 1
			continue
		}
		fmt.Printf("✅ %s: profile %q (%s <-> %s)\n", path, p.Name, p.FrontendAddr, p.BackendAddr)
	}
	return code
}

func runConfigSample(args []string) int {
	fs := pflag.NewFlagSet("sample", pflag.ContinueOnError)
	configType := fs.String("type", "profile", "Configuration type: 'profile' or 'app'")
	fs.Usage = func() {
		fmt.Println(`Print a sample configuration

Usage:
  dapnet-proxy config sample [--type <profile|app>]

Options:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}

	switch *configType {
	case "profile":
		fmt.Print(config.SampleProfile())
	case "app":
		fmt.Print(config.SampleAppConfig())
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown config type: %s (use 'profile' or 'app')\n", *configType)
		return 1
	}
	return 0
}
