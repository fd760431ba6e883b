// Package metrics provides Prometheus metrics for netmedia.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joe/netmedia/pkg/fileops"
	"github.com/joe/netmedia/pkg/filesystem"
)

// Exported constants.
const (
	Namespace = "netmedia"
)

// Collectors holds every netmedia collector. It satisfies the metrics hooks of
// the throttle, scanner and fileops packages.
type Collectors struct {
	gatherer prometheus.Gatherer

	// Throttle metrics
	slotsInUse  *prometheus.GaugeVec
	waiters     *prometheus.GaugeVec
	waitSeconds *prometheus.HistogramVec

	// Transfer metrics
	transferBytes *prometheus.CounterVec
	operations    *prometheus.CounterVec
	operationFile *prometheus.CounterVec

	// Scan metrics
	filesScanned    *prometheus.CounterVec
	listingFailures *prometheus.CounterVec

	// Probe metrics
	probeBytes   *prometheus.CounterVec
	probeFetches *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Collectors {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	factory := promauto.With(reg)

	return &Collectors{
		gatherer: reg,

		slotsInUse: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "throttle_slots_in_use",
				Help:      "Connection slots currently held",
			},
			[]string{"protocol"},
		),
		waiters: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "throttle_waiters",
				Help:      "Callers waiting for a connection slot",
			},
			[]string{"protocol"},
		),
		waitSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "throttle_wait_seconds",
				Help:      "Time spent waiting for a connection slot",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"protocol"},
		),
		transferBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "transfer_bytes_total",
				Help:      "Bytes moved by streamed transfers",
			},
			[]string{"protocol"},
		),
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "operations_total",
				Help:      "Batch file operations by outcome",
			},
			[]string{"kind", "status"},
		),
		operationFile: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "operation_files_total",
				Help:      "Files handled by batch operations",
			},
			[]string{"kind", "result"},
		),
		filesScanned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "scan_files_total",
				Help:      "Matching files found by scans",
			},
			[]string{"protocol"},
		),
		listingFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "scan_listing_failures_total",
				Help:      "Directory listings that failed and were skipped",
			},
			[]string{"protocol"},
		),
		probeBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "probe_bytes_total",
				Help:      "Bytes downloaded for metadata probing",
			},
			[]string{"kind"},
		),
		probeFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "probe_fetches_total",
				Help:      "Metadata probe fetches by source",
			},
			[]string{"kind", "source"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// SlotsInUse adjusts the held-slot gauge.
func (c *Collectors) SlotsInUse(protocol filesystem.Protocol, delta int) {
	c.slotsInUse.WithLabelValues(string(protocol)).Add(float64(delta))
}

// Waiters adjusts the waiting-caller gauge.
func (c *Collectors) Waiters(protocol filesystem.Protocol, delta int) {
	c.waiters.WithLabelValues(string(protocol)).Add(float64(delta))
}

// ObserveWait records how long an admission took.
func (c *Collectors) ObserveWait(protocol filesystem.Protocol, wait time.Duration) {
	c.waitSeconds.WithLabelValues(string(protocol)).Observe(wait.Seconds())
}

// FilesScanned counts matching scan results.
func (c *Collectors) FilesScanned(protocol filesystem.Protocol, n int) {
	c.filesScanned.WithLabelValues(string(protocol)).Add(float64(n))
}

// ListingFailed counts a skipped directory listing.
func (c *Collectors) ListingFailed(protocol filesystem.Protocol) {
	c.listingFailures.WithLabelValues(string(protocol)).Inc()
}

// OperationFinished records the outcome of a batch operation.
func (c *Collectors) OperationFinished(kind fileops.OperationKind, status fileops.Status, succeeded, failed int) {
	c.operations.WithLabelValues(kind.String(), status.String()).Inc()
	c.operationFile.WithLabelValues(kind.String(), "success").Add(float64(succeeded))
	c.operationFile.WithLabelValues(kind.String(), "failure").Add(float64(failed))
}

// ProbeFetched records a metadata probe. cached reports a cache hit.
func (c *Collectors) ProbeFetched(kind string, bytes int, cached bool) {
	source := "network"
	if cached {
		source = "cache"
	} else {
		c.probeBytes.WithLabelValues(kind).Add(float64(bytes))
	}

	c.probeFetches.WithLabelValues(kind, source).Inc()
}

// Advisor wraps a buffer advisor so that recorded transfers also count bytes.
func (c *Collectors) Advisor(inner filesystem.BufferAdvisor) filesystem.BufferAdvisor {
	return &countingAdvisor{inner: inner, bytes: c.transferBytes}
}

type countingAdvisor struct {
	inner filesystem.BufferAdvisor
	bytes *prometheus.CounterVec
}

func (a *countingAdvisor) RecommendedBufferSize(resourceKey string) int {
	return a.inner.RecommendedBufferSize(resourceKey)
}

func (a *countingAdvisor) RecordTransfer(resourceKey string, bytes int64, elapsed time.Duration) {
	a.bytes.WithLabelValues(protocolOf(resourceKey)).Add(float64(bytes))
	a.inner.RecordTransfer(resourceKey, bytes, elapsed)
}

// protocolOf extracts the scheme of a resource key such as "smb://nas:445".
func protocolOf(resourceKey string) string {
	scheme, _, found := strings.Cut(resourceKey, "://")
	if !found {
		return string(filesystem.ProtocolLocal)
	}

	return scheme
}
