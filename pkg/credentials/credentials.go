// Package credentials stores connection secrets and resolves which of them
// applies to a given remote path.
package credentials

import (
	"context"
	"strings"

	"go.uber.org/zap"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
	"github.com/joe/netmedia/pkg/filesystem"
)

// Credentials is one stored login for a server.
type Credentials struct {
	ID         string
	Protocol   filesystem.Protocol
	Host       string
	Port       int
	Share      string // SMB only; may be "share" or "share/folder"
	Username   string
	Password   string
	PrivateKey string // PEM, SFTP only
	Passphrase string
	Domain     string
}

// Auth converts the credentials to the form clients consume.
func (c *Credentials) Auth() filesystem.Auth {
	auth := filesystem.Auth{
		Username:   c.Username,
		Password:   c.Password,
		Passphrase: c.Passphrase,
		Domain:     c.Domain,
	}

	if c.PrivateKey != "" {
		auth.PrivateKey = []byte(c.PrivateKey)
	}

	return auth
}

// Lookup finds stored credentials. Every method returns nil, nil when nothing
// matches. Host and share comparisons are case-insensitive.
type Lookup interface {
	ByID(ctx context.Context, id string) (*Credentials, error)
	ByTypeServerAndPort(ctx context.Context, protocol filesystem.Protocol, host string, port int) (*Credentials, error)
	ByServerAndShare(ctx context.Context, host, share string) (*Credentials, error)
	ByServer(ctx context.Context, host string) ([]Credentials, error)
}

// Store is a Lookup that can also be managed.
type Store interface {
	Lookup
	Save(ctx context.Context, creds *Credentials) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Credentials, error)
}

// Resolver picks credentials for a path. It implements
// filesystem.AuthResolver.
type Resolver struct {
	lookup Lookup
	logger *zap.Logger
}

// NewResolver creates a Resolver over lookup.
func NewResolver(lookup Lookup, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{lookup: lookup, logger: logger}
}

// Resolve returns the credentials for parsed, trying in order: the explicit
// credID (or the one bound to the endpoint), an exact protocol, host and port
// match, for SMB the share and then share plus first folder, and finally any
// credentials for the host with the same protocol. Protocols never cross, so
// an FTP login is never offered to an SFTP server on the same host.
func (r *Resolver) Resolve(ctx context.Context, parsed *filesystem.ParsedPath, credID string) (*Credentials, error) {
	endpoint := parsed.Endpoint

	if credID == "" {
		credID = endpoint.CredentialID
	}

	if credID != "" {
		creds, err := r.lookup.ByID(ctx, credID)
		if err != nil {
			return nil, pkgerrors.Classify("resolve credentials", parsed.Raw, err)
		}

		if creds != nil {
			return creds, nil
		}

		r.logger.Debug("credential id not found, falling back to server lookup",
			zap.String("credential_id", credID),
			zap.String("path", parsed.URL()))
	}

	creds, err := r.lookup.ByTypeServerAndPort(ctx, endpoint.Protocol, endpoint.Host, endpoint.Port)
	if err != nil {
		return nil, pkgerrors.Classify("resolve credentials", parsed.Raw, err)
	}

	if creds != nil {
		return creds, nil
	}

	if endpoint.Protocol == filesystem.ProtocolSMB && endpoint.Share != "" {
		candidates := []string{endpoint.Share}
		if first := parsed.FirstSegment(); first != "" {
			candidates = append(candidates, endpoint.Share+"/"+first)
		}

		for _, share := range candidates {
			creds, err := r.lookup.ByServerAndShare(ctx, endpoint.Host, share)
			if err != nil {
				return nil, pkgerrors.Classify("resolve credentials", parsed.Raw, err)
			}

			if creds != nil {
				return creds, nil
			}
		}
	}

	all, err := r.lookup.ByServer(ctx, endpoint.Host)
	if err != nil {
		return nil, pkgerrors.Classify("resolve credentials", parsed.Raw, err)
	}

	for i := range all {
		if all[i].Protocol == endpoint.Protocol {
			return &all[i], nil
		}
	}

	return nil, pkgerrors.Newf(pkgerrors.KindNoCredentials, "resolve credentials", parsed.URL(),
		"no credentials stored for %s", endpoint.ResourceKey())
}

// ResolveAuth resolves credentials for parsed and converts them to
// filesystem.Auth. A username in the URL wins over an empty stored one.
func (r *Resolver) ResolveAuth(ctx context.Context, parsed *filesystem.ParsedPath) (filesystem.Auth, error) {
	creds, err := r.Resolve(ctx, parsed, "")
	if err != nil {
		return filesystem.Auth{}, err
	}

	auth := creds.Auth()
	if auth.Username == "" {
		auth.Username = parsed.Endpoint.User
	}

	return auth, nil
}

var _ filesystem.AuthResolver = (*Resolver)(nil)

// normalize fills defaults so lookups compare like with like.
func normalize(creds *Credentials) {
	creds.Protocol = filesystem.Protocol(strings.ToLower(string(creds.Protocol)))
	creds.Host = strings.ToLower(strings.TrimSpace(creds.Host))
	creds.Share = strings.Trim(creds.Share, "/")

	if creds.Port == 0 {
		creds.Port = creds.Protocol.DefaultPort()
	}
}
