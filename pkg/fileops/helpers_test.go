//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package fileops_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
	"github.com/joe/netmedia/pkg/fileops"
	"github.com/joe/netmedia/pkg/filesystem"
	"github.com/joe/netmedia/pkg/staging"
)

// mockSource serves one MockClient per endpoint.
type mockSource struct {
	mu      sync.Mutex
	clients map[string]*filesystem.MockClient
}

func newMockSource() *mockSource {
	return &mockSource{clients: make(map[string]*filesystem.MockClient)}
}

// mock returns the client for the endpoint of raw, creating it on first use.
func (s *mockSource) mock(t *testing.T, raw string) *filesystem.MockClient {
	t.Helper()

	parsed, err := filesystem.ParsePath(raw)
	if err != nil {
		t.Fatalf("failed to parse %s: %v", raw, err)
	}

	return s.forEndpoint(parsed.Endpoint)
}

func (s *mockSource) forEndpoint(endpoint filesystem.Endpoint) *filesystem.MockClient {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := endpoint.ResourceKey() + "/" + endpoint.Share
	if client, ok := s.clients[key]; ok {
		return client
	}

	client := filesystem.NewMockClient(endpoint)
	s.clients[key] = client

	return client
}

func (s *mockSource) ClientFor(_ context.Context, parsed *filesystem.ParsedPath) (filesystem.Client, error) {
	return s.forEndpoint(parsed.Endpoint), nil
}

type fixture struct {
	source  *mockSource
	cache   *staging.Cache
	cloud   *memCloud
	handler *fileops.Handler
}

func newFixture(t *testing.T, opts ...fileops.HandlerOption) *fixture {
	t.Helper()

	cache, err := staging.New(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("failed to create staging cache: %v", err)
	}

	source := newMockSource()
	cloud := newMemCloud()

	registry := fileops.NewRegistry(
		fileops.NewRemoteStrategy(filesystem.ProtocolSMB, source, cache),
		fileops.NewRemoteStrategy(filesystem.ProtocolSFTP, source, cache),
		fileops.NewRemoteStrategy(filesystem.ProtocolFTP, source, cache),
		fileops.NewLocalStrategy(nil),
		fileops.NewCloudStrategy(cloud, cache),
	)

	return &fixture{
		source:  source,
		cache:   cache,
		cloud:   cloud,
		handler: fileops.NewHandler(registry, cache, opts...),
	}
}

// stagingFiles lists bridge files left behind.
func (f *fixture) stagingFiles(t *testing.T) []string {
	t.Helper()

	entries, err := os.ReadDir(filepath.Join(f.cache.Dir(), staging.TempDirName))
	if err != nil {
		t.Fatalf("failed to read staging dir: %v", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	return names
}

// memCloud is an in-memory CloudStore keyed by "parent/name" ids.
type memCloud struct {
	mu      sync.Mutex
	objects map[string][]byte
	next    int
}

func newMemCloud() *memCloud {
	return &memCloud{objects: make(map[string][]byte)}
}

func (c *memCloud) put(id string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.objects[id] = data
}

func (c *memCloud) Exists(_ context.Context, _, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.objects[id]

	return ok, nil
}

func (c *memCloud) Download(_ context.Context, _, id string, w io.Writer, _ filesystem.ProgressFunc) error {
	c.mu.Lock()
	data, ok := c.objects[id]
	c.mu.Unlock()

	if !ok {
		return pkgerrors.New(pkgerrors.KindNotFound, "download", id, nil)
	}

	_, err := io.Copy(w, bytes.NewReader(data))

	return err //nolint:wrapcheck // Test fake
}

func (c *memCloud) Upload(
	_ context.Context, _, parentID, name string, r io.Reader, _ int64, _ filesystem.ProgressFunc,
) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err //nolint:wrapcheck // Test fake
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.next++
	id := path.Join(parentID, name) + "#" + strconv.Itoa(c.next)
	c.objects[id] = data

	return id, nil
}

func (c *memCloud) Delete(_ context.Context, _, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.objects, id)

	return nil
}

func (c *memCloud) Move(_ context.Context, _, id, parentID, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.objects[id]
	if !ok {
		return "", pkgerrors.New(pkgerrors.KindNotFound, "move", id, nil)
	}

	delete(c.objects, id)

	newID := path.Join(parentID, name)
	c.objects[newID] = data

	return newID, nil
}

func (c *memCloud) Mkdir(_ context.Context, _, parentID, name string) (string, error) {
	return path.Join(parentID, name), nil
}
