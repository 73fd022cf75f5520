//go:build wireinject

package app

import (
	"context"

	"polybot/internal/config"

	"github.com/google/wire"
)

var providerSet = wire.NewSet(
	provideStore,
	provideGateway,
	provideOracle,
	provideLedger,
	provideStateStore,
	provideNotifier,
	provideGate,
	provideExitEngine,
	provideResolver,
	provideScanners,
	provideRunner,
	provideHTTPServer,
	wire.Struct(new(App), "cfg", "store", "ledger", "gate", "exits", "runner", "http", "scanners"),
)

func buildAppWithWire(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	panic(wire.Build(providerSet))
}
