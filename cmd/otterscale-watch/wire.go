//go:build wireinject

package main

import (
	"github.com/google/wire"
	"github.com/spf13/cobra"

	"github.com/otterscale/otterscale-watch/internal/cmd"
	"github.com/otterscale/otterscale-watch/internal/cmd/server"
	"github.com/otterscale/otterscale-watch/internal/config"
	"github.com/otterscale/otterscale-watch/internal/core"
	"github.com/otterscale/otterscale-watch/internal/handler"
	"github.com/otterscale/otterscale-watch/internal/providers"
)

func wireCmd() (*cobra.Command, func(), error) {
	panic(wire.Build(
		newCmd,
		config.ProviderSet,
	))
}

func wireServer(core.Version, *config.Config) (*server.Server, func(), error) {
	panic(wire.Build(
		provideKubeconfig,
		provideBootstrapTimeout,
		provideCollectionCache,
		provideVersionCache,
		cmd.ProviderSet,
		handler.ProviderSet,
		core.ProviderSet,
		providers.ProviderSet,
	))
}
