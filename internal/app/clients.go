package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/joe/netmedia/pkg/filesystem"
	"github.com/joe/netmedia/pkg/throttle"
)

// pooledClients hands out connector clients and sizes each resizable session
// pool to its protocol's throttle limit the first time the client is seen.
type pooledClients struct {
	connector *filesystem.Connector
	throttle  *throttle.Manager
	logger    *zap.Logger

	mu    sync.Mutex
	sized map[filesystem.Client]struct{}
}

func newPooledClients(connector *filesystem.Connector, manager *throttle.Manager, logger *zap.Logger) *pooledClients {
	return &pooledClients{
		connector: connector,
		throttle:  manager,
		logger:    logger,
		sized:     make(map[filesystem.Client]struct{}),
	}
}

// ClientFor implements mediascan.ClientSource and fileops.ClientSource.
func (p *pooledClients) ClientFor(ctx context.Context, parsed *filesystem.ParsedPath) (filesystem.Client, error) {
	client, err := p.connector.ClientFor(ctx, parsed)
	if err != nil {
		return nil, err //nolint:wrapcheck // Connector returns classified errors
	}

	pool, ok := client.(filesystem.ResizablePool)
	if !ok {
		return client, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, done := p.sized[client]; done {
		return client, nil
	}

	target := p.throttle.Limit(client.Protocol())
	pool.ResizePool(target)
	p.sized[client] = struct{}{}

	p.logger.Debug("session pool sized to throttle limit",
		zap.String("resource", client.Endpoint().ResourceKey()),
		zap.Int("target", target),
		zap.Int("size", pool.PoolSize()))

	return client, nil
}
