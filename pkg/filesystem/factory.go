package filesystem

import (
	"context"
	"sync"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
)

// NewClient creates an unconnected client for the endpoint's protocol.
func NewClient(endpoint Endpoint, auth Auth, opts Options) (Client, error) {
	switch endpoint.Protocol {
	case ProtocolSMB:
		return NewSMBClient(endpoint, auth, opts), nil
	case ProtocolSFTP:
		return NewSFTPClient(endpoint, auth, opts), nil
	case ProtocolFTP:
		return NewFTPClient(endpoint, auth, opts), nil
	case ProtocolLocal:
		return NewLocalClient(opts), nil
	case ProtocolCloud:
	}

	return nil, pkgerrors.Newf(pkgerrors.KindNoStrategyForProtocol, "connect", endpoint.ResourceKey(),
		"no client for protocol %q", endpoint.Protocol)
}

// AuthResolver supplies credentials for a parsed path.
type AuthResolver interface {
	ResolveAuth(ctx context.Context, parsed *ParsedPath) (Auth, error)
}

// ClientConstructor builds a client; NewClient is the default.
type ClientConstructor func(endpoint Endpoint, auth Auth, opts Options) (Client, error)

// Connector hands out connected clients, one per endpoint, and closes them
// all on Close.
type Connector struct {
	resolver  AuthResolver
	opts      Options
	construct ClientConstructor

	mu      sync.Mutex
	clients map[string]Client
	pending map[string]*pendingClient
}

// pendingClient is a connect in progress. Callers for the same endpoint wait
// on done instead of dialling again.
type pendingClient struct {
	done   chan struct{}
	client Client
	err    error
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithClientConstructor replaces NewClient, typically with a mock factory.
func WithClientConstructor(construct ClientConstructor) ConnectorOption {
	return func(c *Connector) {
		c.construct = construct
	}
}

// NewConnector creates a Connector. resolver may be nil when only local
// paths or credential-less servers are used.
func NewConnector(resolver AuthResolver, opts Options, options ...ConnectorOption) *Connector {
	connector := &Connector{
		resolver:  resolver,
		opts:      opts.withDefaults(),
		construct: NewClient,
		clients:   make(map[string]Client),
		pending:   make(map[string]*pendingClient),
	}

	for _, option := range options {
		option(connector)
	}

	return connector
}

// ClientFor returns a connected client for parsed's endpoint.
// FTP without stored credentials logs in anonymously; SFTP with a user in the
// URL falls back to the SSH agent and default keys. Connects run outside the
// lock, so a slow server only delays callers for the same endpoint.
func (c *Connector) ClientFor(ctx context.Context, parsed *ParsedPath) (Client, error) {
	key := connectorKey(parsed.Endpoint)

	for {
		c.mu.Lock()

		if client, ok := c.clients[key]; ok {
			c.mu.Unlock()
			return client, nil
		}

		if call, ok := c.pending[key]; ok {
			c.mu.Unlock()

			select {
			case <-call.done:
			case <-ctx.Done():
				return nil, classify(parsed.Endpoint, "connect", "/", ctx.Err())
			}

			// A connect abandoned by its own caller says nothing about the server.
			if call.err != nil && pkgerrors.KindOf(call.err) == pkgerrors.KindCancelled {
				continue
			}

			return call.client, call.err
		}

		call := &pendingClient{done: make(chan struct{})}
		c.pending[key] = call
		c.mu.Unlock()

		call.client, call.err = c.connect(ctx, parsed)

		c.mu.Lock()
		delete(c.pending, key)

		if call.err == nil {
			c.clients[key] = call.client
		}
		c.mu.Unlock()

		close(call.done)

		return call.client, call.err
	}
}

func (c *Connector) connect(ctx context.Context, parsed *ParsedPath) (Client, error) {
	auth, err := c.resolveAuth(ctx, parsed)
	if err != nil {
		return nil, err
	}

	client, err := c.construct(parsed.Endpoint, auth, c.opts)
	if err != nil {
		return nil, err
	}

	if err := client.Connect(ctx); err != nil {
		_ = client.Close()
		return nil, err //nolint:wrapcheck // Clients return classified errors
	}

	return client, nil
}

func (c *Connector) resolveAuth(ctx context.Context, parsed *ParsedPath) (Auth, error) {
	if !parsed.IsRemote() || c.resolver == nil {
		return Auth{}, nil
	}

	auth, err := c.resolver.ResolveAuth(ctx, parsed)
	if err == nil {
		return auth, nil
	}

	if pkgerrors.KindOf(err) == pkgerrors.KindNoCredentials {
		switch parsed.Endpoint.Protocol {
		case ProtocolFTP:
			return Auth{}, nil
		case ProtocolSFTP:
			if parsed.Endpoint.User != "" {
				return Auth{}, nil
			}
		case ProtocolSMB, ProtocolLocal, ProtocolCloud:
		}
	}

	return Auth{}, err //nolint:wrapcheck // Resolver returns classified errors
}

// Forget closes and drops the cached client for endpoint.
func (c *Connector) Forget(endpoint Endpoint) {
	key := connectorKey(endpoint)

	c.mu.Lock()
	client, ok := c.clients[key]
	delete(c.clients, key)
	c.mu.Unlock()

	if ok {
		_ = client.Close()
	}
}

// Close closes every cached client.
func (c *Connector) Close() error {
	c.mu.Lock()
	clients := c.clients
	c.clients = make(map[string]Client)
	c.mu.Unlock()

	var firstErr error

	for _, client := range clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func connectorKey(endpoint Endpoint) string {
	return endpoint.ResourceKey() + "/" + endpoint.Share + "#" + endpoint.User + "#" + endpoint.CredentialID
}
