//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package scanner_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
	"github.com/joe/netmedia/pkg/filesystem"
	"github.com/joe/netmedia/pkg/scanner"
	"github.com/joe/netmedia/pkg/throttle"
)

var ftpEndpoint = filesystem.Endpoint{Protocol: filesystem.ProtocolFTP, Host: "nas", Port: 21}

func mediaTree() *filesystem.MockClient {
	mock := filesystem.NewMockClient(ftpEndpoint)
	mock.AddSizedFile("/photos/a.jpg", 2048)
	mock.AddSizedFile("/photos/notes.txt", 10)
	mock.AddSizedFile("/photos/sub/b.jpg", 3000)
	mock.AddSizedFile("/photos/sub/deeper/c.PNG", 100)
	mock.AddSizedFile("/photos/.trash_1700000000000/old.jpg", 5)
	mock.AddSizedFile("/photos/README", 5)

	return mock
}

func fileURLs(files []scanner.ScannedFile) []string {
	urls := make([]string, 0, len(files))
	for _, file := range files {
		urls = append(urls, file.FullPath)
	}

	return urls
}

func TestScanRecursive_FiltersByExtensionAndSkipsTrash(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	s := scanner.New(mediaTree(), ftpEndpoint)

	result, err := s.ScanRecursive(context.Background(), "/photos", scanner.NewFilter([]string{"jpg", ".png"}), nil)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(result.State).Should(Equal(scanner.StateDone))
	g.Expect(fileURLs(result.Files)).Should(ConsistOf(
		"ftp://nas:21/photos/a.jpg",
		"ftp://nas:21/photos/sub/b.jpg",
		"ftp://nas:21/photos/sub/deeper/c.PNG",
	))

	for _, file := range result.Files {
		g.Expect(file.IsDir).Should(BeFalse())

		if file.Name == "b.jpg" {
			g.Expect(file.SizeBytes).Should(Equal(int64(3000)))
			g.Expect(file.Path).Should(Equal("/photos/sub/b.jpg"))
		}
	}
}

func TestScanRecursive_EmptyExtensionSetStillRequiresExtension(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	s := scanner.New(mediaTree(), ftpEndpoint)

	result, err := s.ScanRecursive(context.Background(), "/photos", scanner.NewFilter(nil), nil)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(result.Files).Should(HaveLen(4))
	g.Expect(fileURLs(result.Files)).ShouldNot(ContainElement(HaveSuffix("README")))
}

func TestScanRecursive_FailingSubtreeIsLoggedAndSkipped(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	mock := mediaTree()
	mock.ListErrors["/photos/sub"] = pkgerrors.Newf(pkgerrors.KindPermissionDenied, "list", "/photos/sub", "denied")

	core, logs := observer.New(zap.WarnLevel)
	s := scanner.New(mock, ftpEndpoint, scanner.WithLogger(zap.New(core)))

	result, err := s.ScanRecursive(context.Background(), "/photos", scanner.NewFilter([]string{"jpg"}), nil)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(result.State).Should(Equal(scanner.StateDone))
	g.Expect(result.FailedListings).Should(Equal(1))
	g.Expect(fileURLs(result.Files)).Should(Equal([]string{"ftp://nas:21/photos/a.jpg"}))
	g.Expect(logs.FilterMessage("directory listing failed, skipping subtree").Len()).Should(Equal(1))
}

func TestScanRecursive_RootFailureIsReturned(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	s := scanner.New(mediaTree(), ftpEndpoint)

	result, err := s.ScanRecursive(context.Background(), "/missing", nil, nil)
	g.Expect(pkgerrors.KindOf(err)).Should(Equal(pkgerrors.KindNotFound))
	g.Expect(result.State).Should(Equal(scanner.StateFailed))
	g.Expect(result.Files).Should(BeEmpty())
}

func bigTree() *filesystem.MockClient {
	mock := filesystem.NewMockClient(ftpEndpoint)

	for dir := range 10 {
		for file := range 100 {
			mock.AddSizedFile(fmt.Sprintf("/media/d%02d/f%03d.jpg", dir, file), 1)
		}
	}

	return mock
}

func TestScanRecursive_CancelledReturnsPartialResults(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	mock := bigTree()
	mock.Latency = 20 * time.Millisecond

	var progressed atomic.Int64

	cb := &scanner.Callback{
		OnProgress: func(count int) { progressed.Store(int64(count)) },
		ShouldStop: func() bool { return progressed.Load() >= 100 },
	}

	s := scanner.New(mock, ftpEndpoint, scanner.WithIOWorkers(1))

	result, err := s.ScanRecursive(context.Background(), "/media", scanner.NewFilter([]string{"jpg"}), cb)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(result.State).Should(Equal(scanner.StateCancelled))
	g.Expect(result.Files).ShouldNot(BeEmpty())
	g.Expect(len(result.Files)).Should(BeNumerically("<", 1000))
}

func TestScanRecursive_ContextCancelledBeforeStart(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := bigTree()
	s := scanner.New(mock, ftpEndpoint)

	result, err := s.ScanRecursive(ctx, "/media", nil, nil)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(result.State).Should(Equal(scanner.StateCancelled))
	g.Expect(result.Files).Should(BeEmpty())
	g.Expect(mock.Calls("List")).Should(BeZero())
}

func TestScanRecursive_ProgressIsMonotonicAndFinal(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	var (
		reports []int
		last    atomic.Int64
		regress atomic.Int64
	)

	cb := &scanner.Callback{OnProgress: func(count int) {
		if int64(count) < last.Load() {
			regress.Add(1)
		}

		last.Store(int64(count))
		reports = append(reports, count)
	}}

	s := scanner.New(bigTree(), ftpEndpoint)

	result, err := s.ScanRecursive(context.Background(), "/media", nil, cb)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(result.Files).Should(HaveLen(1000))
	g.Expect(regress.Load()).Should(BeZero())
	g.Expect(reports[len(reports)-1]).Should(Equal(1000))
}

func TestScanRecursive_HonoursThrottleLimit(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	mock := bigTree()
	mock.Latency = 5 * time.Millisecond

	manager := throttle.New(throttle.Config{Limits: map[filesystem.Protocol]int{filesystem.ProtocolFTP: 2}})
	s := scanner.New(mock, ftpEndpoint, scanner.WithThrottle(manager), scanner.WithIOWorkers(8))

	result, err := s.ScanRecursive(context.Background(), "/media", nil, nil)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(result.Files).Should(HaveLen(1000))
	g.Expect(mock.PeakConcurrentLists()).Should(BeNumerically("<=", 2))
	g.Expect(manager.InUse(ftpEndpoint.ResourceKey())).Should(BeZero())
}

func TestScanRecursive_IOWorkersBoundListings(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	mock := bigTree()
	mock.Latency = 5 * time.Millisecond

	s := scanner.New(mock, ftpEndpoint, scanner.WithIOWorkers(3))

	_, err := s.ScanRecursive(context.Background(), "/media", nil, nil)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(mock.PeakConcurrentLists()).Should(BeNumerically("<=", 3))
}

func TestCountRecursive_MatchesScanAndIsIdempotent(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	s := scanner.New(mediaTree(), ftpEndpoint)
	filter := scanner.NewFilter([]string{"jpg", "png"})
	ctx := context.Background()

	first, err := s.CountRecursive(ctx, "/photos", filter, 0, nil)
	g.Expect(err).ShouldNot(HaveOccurred())

	second, err := s.CountRecursive(ctx, "/photos", filter, 0, nil)
	g.Expect(err).ShouldNot(HaveOccurred())

	result, err := s.ScanRecursive(ctx, "/photos", filter, nil)
	g.Expect(err).ShouldNot(HaveOccurred())

	g.Expect(first).Should(Equal(3))
	g.Expect(second).Should(Equal(first))
	g.Expect(len(result.Files)).Should(Equal(first))
}

func TestCountRecursive_StopsAtMaxCount(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	s := scanner.New(bigTree(), ftpEndpoint)

	count, err := s.CountRecursive(context.Background(), "/media", nil, 250, nil)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(count).Should(Equal(250))

	count, err = s.CountRecursive(context.Background(), "/media", nil, 0, nil)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(count).Should(Equal(scanner.DefaultMaxCount))
}

func TestScanLimited_TakesFilesBeforeSubdirectories(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	s := scanner.New(mediaTree(), ftpEndpoint)
	filter := scanner.NewFilter([]string{"jpg", "png"})

	result, limitReached, err := s.ScanLimited(context.Background(), "/photos", filter, 2, nil)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(limitReached).Should(BeTrue())
	g.Expect(fileURLs(result.Files)).Should(Equal([]string{
		"ftp://nas:21/photos/a.jpg",
		"ftp://nas:21/photos/sub/b.jpg",
	}))

	result, limitReached, err = s.ScanLimited(context.Background(), "/photos", filter, 10, nil)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(limitReached).Should(BeFalse())
	g.Expect(result.Files).Should(HaveLen(3))
	g.Expect(result.State).Should(Equal(scanner.StateDone))
}

func TestScanPaged_CoversEveryFileExactlyOnce(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	mock := filesystem.NewMockClient(ftpEndpoint)
	for i := range 23 {
		mock.AddSizedFile(fmt.Sprintf("/lib/%c/%02d.mp3", 'a'+rune(i%3), i), 1)
	}

	s := scanner.New(mock, ftpEndpoint)
	seen := make(map[string]int)

	offset := 0

	for {
		page, err := s.ScanPaged(context.Background(), "/lib", scanner.NewFilter([]string{"mp3"}), offset, 5, true)
		g.Expect(err).ShouldNot(HaveOccurred())
		g.Expect(len(page.Files)).Should(BeNumerically("<=", 5))

		for _, file := range page.Files {
			seen[file.FullPath]++
		}

		offset += len(page.Files)

		if !page.HasMore {
			break
		}
	}

	g.Expect(seen).Should(HaveLen(23))

	for url, count := range seen {
		g.Expect(count).Should(Equal(1), url)
	}
}

func TestScanPaged_OrdersCaseInsensitively(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	mock := filesystem.NewMockClient(ftpEndpoint)
	mock.AddSizedFile("/m/Beta.jpg", 1)
	mock.AddSizedFile("/m/alpha.jpg", 1)
	mock.AddSizedFile("/m/Zeta/x.jpg", 1)
	mock.AddSizedFile("/m/charlie.jpg", 1)

	s := scanner.New(mock, ftpEndpoint)

	page, err := s.ScanPaged(context.Background(), "/m", nil, 1, 2, true)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(fileURLs(page.Files)).Should(Equal([]string{"ftp://nas:21/m/Beta.jpg", "ftp://nas:21/m/charlie.jpg"}))
	g.Expect(page.HasMore).Should(BeTrue())

	page, err = s.ScanPaged(context.Background(), "/m", nil, 3, 2, true)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(fileURLs(page.Files)).Should(Equal([]string{"ftp://nas:21/m/Zeta/x.jpg"}))
	g.Expect(page.HasMore).Should(BeFalse())

	page, err = s.ScanPaged(context.Background(), "/m", nil, 0, 10, false)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(page.Files).Should(HaveLen(3))
}

func TestScanPaged_DoesNotListBeyondThePage(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	mock := bigTree()
	s := scanner.New(mock, ftpEndpoint)

	page, err := s.ScanPaged(context.Background(), "/media", nil, 0, 10, true)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(page.HasMore).Should(BeTrue())
	g.Expect(mock.Calls("List")).Should(Equal(2))
}

func TestScanDirectory_DoesNotRecurse(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	s := scanner.New(mediaTree(), ftpEndpoint)

	files, err := s.ScanDirectory(context.Background(), "/photos", scanner.NewFilter([]string{"jpg", "txt"}))
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(fileURLs(files)).Should(ConsistOf("ftp://nas:21/photos/a.jpg", "ftp://nas:21/photos/notes.txt"))
}

type countingMetrics struct {
	scanned atomic.Int64
	failed  atomic.Int64
}

func (m *countingMetrics) FilesScanned(_ filesystem.Protocol, n int) { m.scanned.Add(int64(n)) }
func (m *countingMetrics) ListingFailed(filesystem.Protocol)         { m.failed.Add(1) }

func TestScanner_ReportsMetrics(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	mock := mediaTree()
	mock.ListErrors["/photos/sub/deeper"] = pkgerrors.Newf(pkgerrors.KindTimeout, "list", "", "slow")

	metrics := &countingMetrics{}
	s := scanner.New(mock, ftpEndpoint, scanner.WithMetrics(metrics))

	_, err := s.ScanRecursive(context.Background(), "/photos", scanner.NewFilter([]string{"jpg"}), nil)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(metrics.scanned.Load()).Should(Equal(int64(2)))
	g.Expect(metrics.failed.Load()).Should(Equal(int64(1)))
}
