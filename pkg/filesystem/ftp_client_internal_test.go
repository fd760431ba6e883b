//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package filesystem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jlaffaye/ftp"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	pkgerrors "github.com/joe/netmedia/pkg/errors"
)

// fakeFTPServer is an in-memory FTP server shared by every fake connection.
type fakeFTPServer struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool

	// passiveTimeouts makes operations time out on passive-mode connections.
	passiveListTimeout bool
	compatListTimeout  bool
	// passiveRetrCut cuts passive-mode RETR streams after this many bytes.
	passiveRetrCut int
	storFail       bool
	// mkdRefused makes MKD answer 550 without creating anything.
	mkdRefused bool

	user, password string

	dials       []ftpMode
	retrOffsets []uint64
	deleted     []string
}

func newFakeFTPServer() *fakeFTPServer {
	return &fakeFTPServer{
		files:          map[string][]byte{},
		dirs:           map[string]bool{"/": true},
		passiveRetrCut: -1,
	}
}

func (s *fakeFTPServer) addFile(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[p] = data

	for dir := path.Dir(p); ; dir = path.Dir(dir) {
		s.dirs[dir] = true
		if dir == "/" {
			return
		}
	}
}

func (s *fakeFTPServer) dial(_ context.Context, _ string, mode ftpMode, _, _ time.Duration) (ftpConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dials = append(s.dials, mode)

	return &fakeFTPConn{server: s, mode: mode}, nil
}

func (s *fakeFTPServer) dialModes() []ftpMode {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]ftpMode(nil), s.dials...)
}

var errFakeTimeout = fmt.Errorf("read tcp 10.0.0.2:50000: %w", os.ErrDeadlineExceeded)

func replyError(code int, msg string) error {
	return &textproto.Error{Code: code, Msg: msg}
}

type fakeFTPConn struct {
	server *fakeFTPServer
	mode   ftpMode
}

func (c *fakeFTPConn) Login(user, password string) error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()

	if c.server.user != "" && (user != c.server.user || password != c.server.password) {
		return replyError(530, "Login incorrect.")
	}

	c.server.user, c.server.password = user, password

	return nil
}

func (c *fakeFTPConn) List(dir string) ([]*ftp.Entry, error) {
	s := c.server

	s.mu.Lock()
	defer s.mu.Unlock()

	if (c.mode == ftpModePassive && s.passiveListTimeout) || (c.mode == ftpModeCompat && s.compatListTimeout) {
		return nil, errFakeTimeout
	}

	if !s.dirs[dir] {
		return nil, replyError(550, "No such file or directory")
	}

	entries := []*ftp.Entry{{Name: ".", Type: ftp.EntryTypeFolder}, {Name: "..", Type: ftp.EntryTypeFolder}}

	for p := range s.dirs {
		if p != "/" && path.Dir(p) == dir {
			entries = append(entries, &ftp.Entry{Name: path.Base(p), Type: ftp.EntryTypeFolder})
		}
	}

	for p, data := range s.files {
		if path.Dir(p) == dir {
			entries = append(entries, &ftp.Entry{Name: path.Base(p), Type: ftp.EntryTypeFile, Size: uint64(len(data))})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return entries, nil
}

func (c *fakeFTPConn) RetrFrom(p string, offset uint64) (io.ReadCloser, error) {
	s := c.server

	s.mu.Lock()
	defer s.mu.Unlock()

	s.retrOffsets = append(s.retrOffsets, offset)

	data, ok := s.files[p]
	if !ok {
		return nil, replyError(550, "Failed to open file.")
	}

	rest := data[min(int(offset), len(data)):] //nolint:gosec // Test offsets are small

	if c.mode == ftpModePassive && s.passiveRetrCut >= 0 {
		return io.NopCloser(io.MultiReader(
			bytes.NewReader(rest[:min(s.passiveRetrCut, len(rest))]),
			errorReader{errFakeTimeout},
		)), nil
	}

	return io.NopCloser(bytes.NewReader(rest)), nil
}

func (c *fakeFTPConn) Stor(p string, r io.Reader) error {
	data, err := io.ReadAll(r)

	s := c.server

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		return err
	}

	if s.storFail {
		s.files[p] = data[:len(data)/2]
		return replyError(451, "Requested action aborted: local error in processing.")
	}

	if !s.dirs[path.Dir(p)] {
		return replyError(553, "Could not create file.")
	}

	s.files[p] = data

	return nil
}

func (c *fakeFTPConn) Delete(p string) error {
	s := c.server

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[p]; !ok {
		return replyError(550, "Delete operation failed.")
	}

	delete(s.files, p)
	s.deleted = append(s.deleted, p)

	return nil
}

func (c *fakeFTPConn) RemoveDir(p string) error {
	s := c.server

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirs[p] {
		return replyError(550, "Remove directory operation failed.")
	}

	delete(s.dirs, p)
	s.deleted = append(s.deleted, p)

	return nil
}

func (c *fakeFTPConn) Rename(from, to string) error {
	s := c.server

	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.files[from]
	if !ok {
		return replyError(550, "RNFR command failed.")
	}

	delete(s.files, from)
	s.files[to] = data

	return nil
}

func (c *fakeFTPConn) MakeDir(p string) error {
	s := c.server

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dirs[p] || s.mkdRefused {
		return replyError(550, "Create directory operation failed.")
	}

	s.dirs[p] = true

	return nil
}

func (c *fakeFTPConn) Quit() error { return nil }

type errorReader struct{ err error }

func (r errorReader) Read([]byte) (int, error) { return 0, r.err }

func newFakeFTPClient(server *fakeFTPServer, auth Auth) *FTPClient {
	client := NewFTPClient(Endpoint{Protocol: ProtocolFTP, Host: "nas", Port: 21}, auth, Options{})
	client.dial = server.dial

	return client
}

func TestFTPClient_List_RecursiveSkipsDotEntries(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	server := newFakeFTPServer()
	server.addFile("/photos/a.jpg", make([]byte, 2048))
	server.addFile("/photos/notes.txt", []byte("n"))
	server.addFile("/photos/sub/b.jpg", make([]byte, 3000))

	client := newFakeFTPClient(server, Auth{})

	entries, err := client.List(context.Background(), "/photos", true)
	g.Expect(err).ShouldNot(HaveOccurred())

	sizes := map[string]int64{}
	for _, entry := range entries {
		sizes[entry.Path] = entry.Size
	}

	g.Expect(sizes).Should(Equal(map[string]int64{
		"/photos/a.jpg":     2048,
		"/photos/notes.txt": 1,
		"/photos/sub":       0,
		"/photos/sub/b.jpg": 3000,
	}))
	g.Expect(server.dialModes()).Should(Equal([]ftpMode{ftpModePassive}), "the whole walk uses one connection")
}

func TestFTPClient_List_TimeoutFallsBackExactlyOnce(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	server := newFakeFTPServer()
	server.addFile("/photos/a.jpg", []byte("a"))
	server.passiveListTimeout = true

	client := newFakeFTPClient(server, Auth{})

	entries, err := client.List(context.Background(), "/photos", false)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(entries).Should(HaveLen(1))
	g.Expect(client.Fallbacks()).Should(Equal(int64(1)))
	g.Expect(server.dialModes()).Should(Equal([]ftpMode{ftpModePassive, ftpModeCompat}))

	// The next operation starts in passive mode again.
	server.passiveListTimeout = false

	_, err = client.List(context.Background(), "/photos", false)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(server.dialModes()[2]).Should(Equal(ftpModePassive))
}

func TestFTPClient_List_BothModesTimeOutReturnsTimeout(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	server := newFakeFTPServer()
	server.addFile("/photos/a.jpg", []byte("a"))
	server.passiveListTimeout = true
	server.compatListTimeout = true

	client := newFakeFTPClient(server, Auth{})

	_, err := client.List(context.Background(), "/photos", false)
	g.Expect(pkgerrors.KindOf(err)).Should(Equal(pkgerrors.KindTimeout))
	g.Expect(server.dialModes()).Should(HaveLen(2), "fallback is attempted once, not recursively")
	g.Expect(err.Error()).Should(ContainSubstring("ftp://nas:21/photos"))
}

func TestFTPClient_List_ReplyCodesMapToKinds(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	server := newFakeFTPServer()
	client := newFakeFTPClient(server, Auth{})

	_, err := client.List(context.Background(), "/missing", false)
	g.Expect(pkgerrors.KindOf(err)).Should(Equal(pkgerrors.KindNotFound))
	g.Expect(server.dialModes()).Should(HaveLen(1), "non-timeout errors are not retried")

	server.user, server.password = "admin", "right"
	wrong := newFakeFTPClient(server, Auth{Username: "admin", Password: "wrong"})

	err = wrong.Connect(context.Background())
	g.Expect(pkgerrors.KindOf(err)).Should(Equal(pkgerrors.KindAuthenticationFailed))
}

func TestFTPClient_Anonymous_LoginWhenNoCredentials(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	server := newFakeFTPServer()
	client := newFakeFTPClient(server, Auth{})

	g.Expect(client.Connect(context.Background())).Should(Succeed())
	g.Expect(server.user).Should(Equal("anonymous"))
}

func TestFTPClient_Download_FallbackResumesAtOffset(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	payload := []byte("0123456789abcdef")

	server := newFakeFTPServer()
	server.addFile("/v/clip.mp4", payload)
	server.passiveRetrCut = 5

	client := newFakeFTPClient(server, Auth{})

	var (
		buf  bytes.Buffer
		last int64
	)

	err := client.Download(context.Background(), "/v/clip.mp4", &buf, func(n, _ int64) { last = n })
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(buf.Bytes()).Should(Equal(payload))
	g.Expect(last).Should(Equal(int64(len(payload))))
	g.Expect(server.retrOffsets).Should(Equal([]uint64{0, 5}))
	g.Expect(client.Fallbacks()).Should(Equal(int64(1)))
}

func TestFTPClient_ReadRange_LimitsBytes(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	server := newFakeFTPServer()
	server.addFile("/a.jpg", []byte("0123456789"))

	client := newFakeFTPClient(server, Auth{})

	data, err := client.ReadRange(context.Background(), "/a.jpg", 3, 4)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(string(data)).Should(Equal("3456"))
}

func TestFTPClient_Upload_FailureDeletesPartialFile(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	server := newFakeFTPServer()
	server.storFail = true

	client := newFakeFTPClient(server, Auth{})

	err := client.Upload(context.Background(), "/up.jpg", strings.NewReader("abcdef"), 6, nil)
	g.Expect(pkgerrors.KindOf(err)).Should(Equal(pkgerrors.KindProtocolError))
	g.Expect(server.files).ShouldNot(HaveKey("/up.jpg"))
	g.Expect(server.dialModes()).Should(HaveLen(1), "uploads are never replayed")
}

func TestFTPClient_Upload_ReportsProgress(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	server := newFakeFTPServer()
	client := newFakeFTPClient(server, Auth{})

	var last int64

	err := client.Upload(context.Background(), "/up.jpg", strings.NewReader("abcdef"), 6, func(n, total int64) {
		g.Expect(total).Should(Equal(int64(6)))

		last = n
	})
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(last).Should(Equal(int64(6)))
	g.Expect(server.files["/up.jpg"]).Should(Equal([]byte("abcdef")))
}

func TestFTPClient_MkdirStatRenameDelete(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	server := newFakeFTPServer()
	server.addFile("/photos/a.jpg", []byte("a"))

	client := newFakeFTPClient(server, Auth{})
	ctx := context.Background()

	g.Expect(client.Mkdir(ctx, "/photos/sorted/2024")).Should(Succeed(), "existing components are tolerated")
	g.Expect(server.dirs).Should(HaveKey("/photos/sorted/2024"))

	entry, err := client.Stat(ctx, "/photos/a.jpg")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(entry.Size).Should(Equal(int64(1)))

	_, err = client.Stat(ctx, "/photos/missing.jpg")
	g.Expect(pkgerrors.KindOf(err)).Should(Equal(pkgerrors.KindNotFound))

	g.Expect(client.Rename(ctx, "/photos/a.jpg", "/photos/sorted/2024/a.jpg")).Should(Succeed())
	g.Expect(server.files).Should(HaveKey("/photos/sorted/2024/a.jpg"))

	g.Expect(client.Delete(ctx, "/photos/sorted/2024/a.jpg")).Should(Succeed())
	g.Expect(client.Delete(ctx, "/photos/sorted/2024")).Should(Succeed(), "directories fall back to RMD")
	g.Expect(server.deleted).Should(Equal([]string{"/photos/sorted/2024/a.jpg", "/photos/sorted/2024"}))
}

func TestFTPClient_Mkdir_RefusedCreationIsAnError(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	server := newFakeFTPServer()
	server.addFile("/photos/a.jpg", []byte("a"))
	server.mkdRefused = true

	client := newFakeFTPClient(server, Auth{})

	err := client.Mkdir(context.Background(), "/photos/.trash_1")
	g.Expect(err).Should(HaveOccurred())
	g.Expect(server.dirs).ShouldNot(HaveKey("/photos/.trash_1"))

	g.Expect(client.Mkdir(context.Background(), "/photos")).Should(Succeed(), "an existing directory still counts")
}

func TestFTPClient_Mkdir_FileInTheWayIsAnError(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	server := newFakeFTPServer()
	server.addFile("/photos/sorted", []byte("not a dir"))
	server.mkdRefused = true

	client := newFakeFTPClient(server, Auth{})

	g.Expect(client.Mkdir(context.Background(), "/photos/sorted")).ShouldNot(Succeed())
}

func TestFTPClient_CancelledContextDoesNotFallBack(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	server := newFakeFTPServer()
	server.addFile("/photos/a.jpg", []byte("a"))

	client := newFakeFTPClient(server, Auth{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.List(ctx, "/photos", false)
	g.Expect(pkgerrors.KindOf(err)).Should(Equal(pkgerrors.KindCancelled))
	g.Expect(errors.Is(err, context.Canceled)).Should(BeTrue())
	g.Expect(client.Fallbacks()).Should(BeZero())
}
