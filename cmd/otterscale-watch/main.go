// Package main is the entry point for the otterscale-watch binary. Its
// server subcommand serves cached, live Kubernetes collections over
// ConnectRPC.
//
// Dependencies are assembled via Google Wire; see wire.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/otterscale/otterscale-watch/internal/cmd"
	"github.com/otterscale/otterscale-watch/internal/cmd/server"
	"github.com/otterscale/otterscale-watch/internal/config"
	"github.com/otterscale/otterscale-watch/internal/core"
	"github.com/otterscale/otterscale-watch/internal/providers/cache"
	"github.com/otterscale/otterscale-watch/internal/providers/kubernetes"
)

// version is injected at build time via -ldflags
// (e.g. -ldflags "-X main.version=v1.2.3").
var version = "devel"

func main() {
	// Cancel on SIGINT (Ctrl+C) or SIGTERM (container runtime).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		// Cobra is configured with SilenceErrors: true, so we
		// print the error here for consistent formatting.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires all dependencies and executes the root Cobra command.
func run(ctx context.Context) error {
	rootCmd, cleanup, err := wireCmd()
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	return rootCmd.ExecuteContext(ctx)
}

// newCmd is a Wire provider that constructs the root Cobra command and
// registers the server subcommand. The server graph is wired lazily,
// after flags have been parsed, so that flag values reach the
// providers below.
func newCmd(conf *config.Config) (*cobra.Command, error) {
	c := &cobra.Command{
		Use:           "otterscale-watch",
		Short:         "OtterScale Watch: shared, cached watches over Kubernetes collections.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	v := core.Version(version)

	serverCmd, err := cmd.NewServerCommand(conf, func() (*server.Server, func(), error) {
		return wireServer(v, conf)
	})
	if err != nil {
		return nil, err
	}

	c.AddCommand(serverCmd)

	return c, nil
}

// provideKubeconfig is a Wire provider for the kubeconfig path whose
// contexts name the watchable clusters.
func provideKubeconfig(conf *config.Config) kubernetes.Kubeconfig {
	return kubernetes.Kubeconfig(conf.ServerKubeconfig())
}

// provideBootstrapTimeout is a Wire provider for the timeout of the
// initial list of a collection.
func provideBootstrapTimeout(conf *config.Config) core.BootstrapTimeout {
	return core.BootstrapTimeout(conf.ServerBootstrapTimeout())
}

// provideCollectionCache is a Wire provider for the shared collection
// store.
func provideCollectionCache(conf *config.Config) *cache.CollectionCache {
	return cache.NewCollectionCache(conf.ServerCacheTTL())
}

// provideVersionCache is a Wire provider that puts a TTL cache in
// front of the discovery client.
func provideVersionCache(client *kubernetes.DiscoveryClient, conf *config.Config) *cache.VersionCache {
	return cache.NewVersionCache(client, conf.ServerCacheTTL())
}
