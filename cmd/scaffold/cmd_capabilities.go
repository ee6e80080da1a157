package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/scaffoldhq/scaffold/src/capability"
)

// CapabilitiesCmd probes and prints what the host can run
type CapabilitiesCmd struct {
	Force bool `help:"Re-probe even when a fresh snapshot is cached"`
}

// Run executes the capabilities command
func (c *CapabilitiesCmd) Run(kctx *kong.Context, cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	logger := createLogger(cfg.Logging)

	caps := capability.NewService(logger, capability.WithTTL(cfg.Capabilities.CacheTTL))
	snap, err := caps.Detect(context.Background(), c.Force)
	if err != nil {
		return fmt.Errorf("capability detection failed: %w", err)
	}

	fmt.Printf("Host: %s (%s), shell %s\n", snap.Platform, snap.OS, snap.Shell)

	names := make([]string, 0, len(snap.Runtimes))
	for name := range snap.Runtimes {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Runtimes:")
	if len(names) == 0 {
		fmt.Println("  none found")
	}
	for _, name := range names {
		fmt.Printf("  %-8s %s\n", name, snap.Runtimes[name])
	}

	fmt.Printf("Git: %v  Docker: %v\n", snap.GitInstalled, snap.DockerInstalled)
	if len(snap.PackageManagers) > 0 {
		fmt.Printf("Package managers: %s\n", strings.Join(snap.PackageManagers, ", "))
	}
	fmt.Printf("Detected at %s\n", snap.DetectedAt.Format("2006-01-02 15:04:05"))
	return nil
}
