// Package reconcile implements the on-demand consistency audit between the
// metadata catalog and the blob store.
//
// Uploads write to both stores without a transaction, so they can drift: a
// record without a blob, or a blob without a record. The audit materializes
// both full key sets, computes the asymmetric differences, and reports them.
// It is read-only; it never repairs what it finds.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/azcx/imagehost/internal/constants"
)

// ErrStoreUnavailable is returned when either store cannot be listed. The
// audit is all-or-nothing: no partial report is ever produced.
var ErrStoreUnavailable = errors.New("store unavailable")

// Catalog lists the image names known to the metadata catalog.
type Catalog interface {
	ListAllNames(ctx context.Context) ([]string, error)
}

// Blobs lists the object keys present in the blob store. Implementations
// must follow pagination to exhaustion before returning.
type Blobs interface {
	ListAllKeys(ctx context.Context) ([]string, error)
}

// Report is the outcome of one audit. MissingInBlobStore holds catalog names
// with no stored object; ExtraInBlobStore holds stored objects with no
// catalog record. Both are sorted. Source records what triggered the audit
// and never affects the comparison.
type Report struct {
	Consistent         bool     `json:"consistent"`
	MissingInBlobStore []string `json:"missingInBlobStore"`
	ExtraInBlobStore   []string `json:"extraInBlobStore"`
	Source             string   `json:"source"`
}

// Engine compares the catalog against the blob store.
type Engine struct {
	catalog        Catalog
	blobs          Blobs
	reservedPrefix string

	auditsRun           *prometheus.CounterVec
	inconsistenciesSeen prometheus.Counter
}

type options struct {
	reservedPrefix string
}

// Options represents an optional function to override Engine default values.
type Options func(*options)

// WithReservedPrefix overrides the object key prefix excluded from the
// comparison.
func WithReservedPrefix(prefix string) Options {
	return func(o *options) {
		o.reservedPrefix = prefix
	}
}

// New creates an audit engine over the given stores and registers its metrics.
func New(catalog Catalog, blobs Blobs, reg prometheus.Registerer, args ...Options) (*Engine, error) {
	opts := options{
		reservedPrefix: constants.ReservedBlobPrefix,
	}
	for _, opt := range args {
		opt(&opts)
	}

	auditsRun := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_audits_total",
		Help: "Number of consistency audits run, by result.",
	}, []string{"result"})
	inconsistenciesSeen := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_inconsistent_entries_total",
		Help: "Total number of inconsistent entries reported across all audits.",
	})

	for _, c := range []prometheus.Collector{auditsRun, inconsistenciesSeen} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register reconcile metrics: %v", err)
		}
	}

	return &Engine{
		catalog:        catalog,
		blobs:          blobs,
		reservedPrefix: opts.reservedPrefix,

		auditsRun:           auditsRun,
		inconsistenciesSeen: inconsistenciesSeen,
	}, nil
}

// Audit compares the full set of catalog names against the full set of blob
// keys and reports the differences. Object keys under the reserved prefix
// belong to the hosting application and are excluded from the comparison.
//
// The audit is a pure read: running it twice against unmodified stores yields
// identical reports, and concurrent audits are safe. If either store cannot
// be listed the whole audit fails with ErrStoreUnavailable and no report.
func (e *Engine) Audit(ctx context.Context, source string) (Report, error) {
	slog.Info("Starting consistency audit", "source", source)

	names, err := e.catalog.ListAllNames(ctx)
	if err != nil {
		e.auditsRun.WithLabelValues("error").Inc()
		return Report{}, fmt.Errorf("%w: listing catalog names: %v", ErrStoreUnavailable, err)
	}

	keys, err := e.blobs.ListAllKeys(ctx)
	if err != nil {
		e.auditsRun.WithLabelValues("error").Inc()
		return Report{}, fmt.Errorf("%w: listing blob keys: %v", ErrStoreUnavailable, err)
	}

	catalogSet := make(map[string]struct{}, len(names))
	for _, n := range names {
		catalogSet[n] = struct{}{}
	}

	blobSet := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, e.reservedPrefix) {
			continue
		}
		blobSet[k] = struct{}{}
	}

	report := Report{
		MissingInBlobStore: difference(catalogSet, blobSet),
		ExtraInBlobStore:   difference(blobSet, catalogSet),
		Source:             source,
	}
	report.Consistent = len(report.MissingInBlobStore) == 0 && len(report.ExtraInBlobStore) == 0

	result := "consistent"
	if !report.Consistent {
		result = "inconsistent"
		e.inconsistenciesSeen.Add(float64(len(report.MissingInBlobStore) + len(report.ExtraInBlobStore)))
	}
	e.auditsRun.WithLabelValues(result).Inc()

	slog.Info("Consistency audit finished",
		"source", source,
		"consistent", report.Consistent,
		"missing_in_blob_store", len(report.MissingInBlobStore),
		"extra_in_blob_store", len(report.ExtraInBlobStore))
	return report, nil
}

// difference returns the members of a not present in b, sorted.
func difference(a, b map[string]struct{}) []string {
	diff := []string{}
	for k := range a {
		if _, ok := b[k]; !ok {
			diff = append(diff, k)
		}
	}
	sort.Strings(diff)
	return diff
}
