package filesystem

import (
	"net"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
)

// Protocol identifies the transport that serves a path.
type Protocol string

// Exported constants.
const (
	ProtocolLocal Protocol = "local"
	ProtocolSMB   Protocol = "smb"
	ProtocolSFTP  Protocol = "sftp"
	ProtocolFTP   Protocol = "ftp"
	ProtocolCloud Protocol = "cloud"
)

// DefaultPort returns the well-known port for remote protocols, 0 otherwise.
func (p Protocol) DefaultPort() int {
	switch p {
	case ProtocolSMB:
		return 445 //nolint:mnd // SMB over TCP
	case ProtocolSFTP:
		return 22 //nolint:mnd // SSH
	case ProtocolFTP:
		return 21 //nolint:mnd // FTP control
	case ProtocolLocal, ProtocolCloud:
		return 0
	}

	return 0
}

// IsRemote reports whether the protocol talks to a network server.
func (p Protocol) IsRemote() bool {
	return p == ProtocolSMB || p == ProtocolSFTP || p == ProtocolFTP
}

// Endpoint identifies a remote resource. It is immutable once resolved.
type Endpoint struct {
	Protocol     Protocol
	Host         string
	Port         int
	Share        string // SMB share; empty for other protocols
	User         string // user named in the URL, if any
	CredentialID string
}

// ResourceKey returns the key used to throttle connections to this endpoint.
func (e Endpoint) ResourceKey() string {
	switch e.Protocol {
	case ProtocolLocal:
		return "local"
	case ProtocolCloud:
		return "cloud://" + e.Host
	case ProtocolSMB, ProtocolSFTP, ProtocolFTP:
	}

	return string(e.Protocol) + "://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL returns the protocol-qualified form of p, a path inside the endpoint.
// Remote paths are percent-escaped so ParsePath recovers p unchanged.
func (e Endpoint) URL(p string) string {
	switch e.Protocol {
	case ProtocolLocal:
		return p
	case ProtocolCloud:
		return "cloud://" + e.Host + cleanRemote(p)
	case ProtocolSMB, ProtocolSFTP, ProtocolFTP:
	}

	u := &url.URL{ //nolint:varnamelen // u is idiomatic for URL
		Scheme: string(e.Protocol),
		Host:   net.JoinHostPort(e.Host, strconv.Itoa(e.Port)),
		Path:   cleanRemote(p),
	}

	if e.Protocol == ProtocolSMB {
		u.Path = path.Join("/", e.Share, cleanRemote(p))
	} else if e.User != "" {
		u.User = url.User(e.User)
	}

	return u.String()
}

// WithCredential returns a copy of e bound to the given stored credential.
func (e Endpoint) WithCredential(id string) Endpoint {
	e.CredentialID = id

	return e
}

// ParsedPath is a path string decomposed into its endpoint and in-endpoint path.
type ParsedPath struct {
	Endpoint Endpoint

	// Path is the location inside the endpoint. Remote paths are slash
	// rooted; for SMB it is relative to the share. Local paths are OS paths.
	Path string

	Raw string
}

// IsRemote reports whether the path is served by a network protocol.
func (p *ParsedPath) IsRemote() bool {
	return p.Endpoint.Protocol.IsRemote()
}

// URL returns the protocol-qualified form of the path.
func (p *ParsedPath) URL() string {
	return p.Endpoint.URL(p.Path)
}

// FirstSegment returns the first component of Path, or "" at the root.
func (p *ParsedPath) FirstSegment() string {
	trimmed := strings.TrimPrefix(p.Path, "/")
	if trimmed == "" {
		return ""
	}

	first, _, _ := strings.Cut(trimmed, "/")

	return first
}

// Join returns a copy of p pointing at name below it.
func (p *ParsedPath) Join(name string) *ParsedPath {
	joined := *p
	if p.Endpoint.Protocol == ProtocolLocal {
		joined.Path = filepath.Join(p.Path, name)
	} else {
		joined.Path = path.Join(p.Path, name)
	}

	joined.Raw = joined.URL()

	return &joined
}

// Dir returns a copy of p pointing at its parent.
func (p *ParsedPath) Dir() *ParsedPath {
	parent := *p
	if p.Endpoint.Protocol == ProtocolLocal {
		parent.Path = filepath.Dir(p.Path)
	} else {
		parent.Path = path.Dir(cleanRemote(p.Path))
	}

	parent.Raw = parent.URL()

	return &parent
}

// ParsePath decomposes a path string into endpoint and remainder.
// Recognised forms:
//   - smb://host[:port]/share/path
//   - sftp://[user@]host[:port]/path
//   - ftp://[user@]host[:port]/path
//   - cloud://provider/id
//   - file:///path or a plain OS path (local)
//
// Ports default to 445, 22 and 21 respectively.
func ParsePath(raw string) (*ParsedPath, error) {
	if raw == "" {
		return nil, pkgerrors.Newf(pkgerrors.KindNotFound, "parse", raw, "empty path")
	}

	scheme, rest, hasScheme := strings.Cut(raw, "://")
	if !hasScheme {
		return &ParsedPath{
			Endpoint: Endpoint{Protocol: ProtocolLocal},
			Path:     filepath.Clean(raw),
			Raw:      raw,
		}, nil
	}

	switch Protocol(strings.ToLower(scheme)) {
	case ProtocolSMB, ProtocolSFTP, ProtocolFTP:
		return parseRemoteURL(raw)
	case ProtocolCloud:
		provider, id, _ := strings.Cut(rest, "/")
		if provider == "" {
			return nil, pkgerrors.Newf(pkgerrors.KindProtocolError, "parse", raw, "cloud path must name a provider")
		}

		return &ParsedPath{
			Endpoint: Endpoint{Protocol: ProtocolCloud, Host: provider},
			Path:     "/" + id,
			Raw:      raw,
		}, nil
	case ProtocolLocal:
	}

	if strings.EqualFold(scheme, "file") {
		u, err := url.Parse(raw) //nolint:varnamelen // u is idiomatic for URL
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.KindProtocolError, "parse", raw, err)
		}

		return &ParsedPath{
			Endpoint: Endpoint{Protocol: ProtocolLocal},
			Path:     filepath.Clean(filepath.FromSlash(u.Path)),
			Raw:      raw,
		}, nil
	}

	return nil, pkgerrors.Newf(pkgerrors.KindNoStrategyForProtocol, "parse", raw, "unsupported scheme %q", scheme)
}

func parseRemoteURL(raw string) (*ParsedPath, error) {
	u, err := url.Parse(raw) //nolint:varnamelen // u is idiomatic for URL
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.KindProtocolError, "parse", raw, err)
	}

	protocol := Protocol(strings.ToLower(u.Scheme))

	host := u.Hostname()
	if host == "" {
		return nil, pkgerrors.Newf(pkgerrors.KindProtocolError, "parse", raw, "%s URL must include a host", protocol)
	}

	port := protocol.DefaultPort()
	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil || p <= 0 || p > 65535 {
			return nil, pkgerrors.Newf(pkgerrors.KindProtocolError, "parse", raw, "invalid port %q", portStr)
		}

		port = p
	}

	endpoint := Endpoint{Protocol: protocol, Host: host, Port: port}
	if u.User != nil {
		endpoint.User = u.User.Username()
	}

	remote := cleanRemote(u.Path)

	if protocol == ProtocolSMB {
		share, inShare, _ := strings.Cut(strings.TrimPrefix(remote, "/"), "/")
		if share == "" {
			return nil, pkgerrors.Newf(pkgerrors.KindProtocolError, "parse", raw, "SMB URL must include a share")
		}

		endpoint.Share = share
		remote = cleanRemote(inShare)
	}

	return &ParsedPath{Endpoint: endpoint, Path: remote, Raw: raw}, nil
}

// cleanRemote normalises a remote path to a slash-rooted clean form.
func cleanRemote(p string) string {
	return path.Clean("/" + p)
}
