package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joeycumines/ticktree/internal/command"
	"github.com/joeycumines/ticktree/internal/config"
)

const version = "0.1.0"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	configPath, err := config.GetConfigPath()
	if err != nil {
		configPath = ""
	}
	cfg := config.NewConfig()
	if configPath != "" {
		loaded, err := config.LoadFromPath(configPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Warning: ignoring config %s: %v\n", configPath, err)
		} else {
			cfg = loaded
		}
	}
	return command.Dispatch(newRegistry(cfg, configPath), args, stdout, stderr)
}

func newRegistry(cfg *config.Config, configPath string) *command.Registry {
	registry := command.NewRegistry()
	registry.Register(command.NewHelpCommand(registry))
	registry.Register(command.NewVersionCommand(version))
	registry.Register(command.NewConfigCommand(cfg, configPath))
	registry.Register(command.NewRunCommand(cfg))
	registry.Register(command.NewValidateCommand(cfg))
	registry.Register(command.NewSnapshotsCommand(cfg))
	return registry
}
