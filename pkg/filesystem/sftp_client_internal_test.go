//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package filesystem

import (
	"bytes"
	"context"
	"strings"
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	pkgerrors "github.com/joe/netmedia/pkg/errors"
)

func newMemorySFTPClient(t *testing.T) *SFTPClient {
	t.Helper()

	factory, _ := newInMemorySFTPFactory(t)

	pool, err := NewSFTPClientPoolWithLimits(factory, 2, 1, 4)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}

	endpoint := Endpoint{Protocol: ProtocolSFTP, Host: "server", Port: 22}
	client := newSFTPClientWithPool(endpoint, pool, Options{})

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestSFTPClient_UploadListDownload(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ctx := context.Background()
	client := newMemorySFTPClient(t)

	g.Expect(client.Mkdir(ctx, "/photos/sub")).Should(Succeed())

	payload := bytes.Repeat([]byte("x"), 2048)

	var lastProgress int64

	err := client.Upload(ctx, "/photos/a.jpg", bytes.NewReader(payload), int64(len(payload)), func(n, _ int64) {
		lastProgress = n
	})
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(lastProgress).Should(Equal(int64(2048)))

	entries, err := client.List(ctx, "/photos", false)
	g.Expect(err).ShouldNot(HaveOccurred())

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
	}

	g.Expect(names).Should(ConsistOf("a.jpg", "sub"))

	var buf bytes.Buffer
	g.Expect(client.Download(ctx, "/photos/a.jpg", &buf, nil)).Should(Succeed())
	g.Expect(buf.Bytes()).Should(Equal(payload))

	entry, err := client.Stat(ctx, "/photos/a.jpg")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(entry.Path).Should(Equal("/photos/a.jpg"))
	g.Expect(entry.Size).Should(Equal(int64(2048)))
}

func TestSFTPClient_ReadRange_ReturnsLeadingBytes(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ctx := context.Background()
	client := newMemorySFTPClient(t)

	g.Expect(client.Upload(ctx, "/clip.mp4", strings.NewReader("0123456789"), 10, nil)).Should(Succeed())

	data, err := client.ReadRange(ctx, "/clip.mp4", 2, 4)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(string(data)).Should(Equal("2345"))

	data, err = client.ReadRange(ctx, "/clip.mp4", 8, 100)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(string(data)).Should(Equal("89"))
}

func TestSFTPClient_ReadRange_NegativeLengthIsEmpty(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ctx := context.Background()
	client := newMemorySFTPClient(t)

	g.Expect(client.Upload(ctx, "/a.jpg", strings.NewReader("0123"), 4, nil)).Should(Succeed())

	data, err := client.ReadRange(ctx, "/a.jpg", 0, -1)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(data).Should(BeEmpty())
}

func TestSFTPClient_RenameAndDelete(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ctx := context.Background()
	client := newMemorySFTPClient(t)

	g.Expect(client.Upload(ctx, "/a.jpg", strings.NewReader("img"), 3, nil)).Should(Succeed())
	g.Expect(client.Mkdir(ctx, "/sorted")).Should(Succeed())
	g.Expect(client.Rename(ctx, "/a.jpg", "/sorted/a.jpg")).Should(Succeed())

	_, err := client.Stat(ctx, "/a.jpg")
	g.Expect(pkgerrors.KindOf(err)).Should(Equal(pkgerrors.KindNotFound))

	g.Expect(client.Delete(ctx, "/sorted/a.jpg")).Should(Succeed())

	_, err = client.Stat(ctx, "/sorted/a.jpg")
	g.Expect(err).Should(HaveOccurred())
}

func TestSFTPClient_Download_MissingFileIsNotFound(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	client := newMemorySFTPClient(t)

	err := client.Download(context.Background(), "/missing.jpg", &bytes.Buffer{}, nil)
	g.Expect(pkgerrors.KindOf(err)).Should(Equal(pkgerrors.KindNotFound))
	g.Expect(err.Error()).Should(ContainSubstring("sftp://server:22/missing.jpg"))
}

func TestSFTPClient_Download_ReleasesSessionAfterStream(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ctx := context.Background()
	client := newMemorySFTPClient(t)

	g.Expect(client.Upload(ctx, "/a.jpg", strings.NewReader("img"), 3, nil)).Should(Succeed())

	for range 5 {
		g.Expect(client.Download(ctx, "/a.jpg", &bytes.Buffer{}, nil)).Should(Succeed())
	}

	g.Expect(client.PoolSize()).Should(Equal(2))
}

func TestSFTPClient_Upload_CancelledRemovesPartialFile(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	client := newMemorySFTPClient(t)

	ctx, cancel := context.WithCancel(context.Background())

	reader := &cancelAfterReader{data: bytes.Repeat([]byte("y"), 4*DefaultBufferSize), cancel: cancel}

	err := client.Upload(ctx, "/big.mov", reader, int64(len(reader.data)), nil)
	g.Expect(pkgerrors.KindOf(err)).Should(Equal(pkgerrors.KindCancelled))

	_, err = client.Stat(context.Background(), "/big.mov")
	g.Expect(pkgerrors.KindOf(err)).Should(Equal(pkgerrors.KindNotFound))
}

func TestSFTPClient_ResizePool_DelegatesToPool(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	client := newMemorySFTPClient(t)

	client.ResizePool(3)
	g.Expect(client.PoolTargetSize()).Should(Equal(3))
	g.Expect(client.PoolSize()).Should(Equal(3))
	g.Expect(client.PoolMinSize()).Should(Equal(DefaultPoolConfig().MinSize))
	g.Expect(client.PoolMaxSize()).Should(Equal(DefaultPoolConfig().MaxSize))
}

func TestSFTPClient_Connect_WithoutUsernameIsNoCredentials(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	client := NewSFTPClient(Endpoint{Protocol: ProtocolSFTP, Host: "127.0.0.1", Port: 1}, Auth{}, Options{})

	err := client.Connect(context.Background())
	g.Expect(pkgerrors.KindOf(err)).Should(Equal(pkgerrors.KindNoCredentials))
}

func TestSSHAuthMethods_ExplicitCredentialsSkipAgent(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	methods, err := sshAuthMethods(Auth{Username: "alice", Password: "secret"})
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(methods).Should(HaveLen(2), "password plus keyboard-interactive")
}

func TestSSHAuthMethods_InvalidKeyIsAuthenticationFailure(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	_, err := sshAuthMethods(Auth{Username: "alice", PrivateKey: []byte("not a key")})
	g.Expect(pkgerrors.KindOf(err)).Should(Equal(pkgerrors.KindAuthenticationFailed))
}

// cancelAfterReader cancels its context once the first chunk has been read.
type cancelAfterReader struct {
	data   []byte
	off    int
	cancel context.CancelFunc
}

func (r *cancelAfterReader) Read(p []byte) (int, error) {
	n := copy(p, r.data[r.off:])
	r.off += n

	r.cancel()

	return n, nil
}
