// Package output persists the results of a finished run: a JSON-lines export
// and summary in blob storage, optional result rows, and optional per-result
// notifications.
package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-fetcher/internal/fetch"
	"github.com/JakeFAU/bulk-fetcher/internal/progress"
	"github.com/JakeFAU/bulk-fetcher/internal/storage"
)

// Hasher digests response bodies.
type Hasher interface {
	Hash(data []byte) string
}

// Publisher sends one notification.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Config controls export paths and notification routing.
type Config struct {
	Prefix      string
	ContentType string
	Topic       string
}

// Record is one line of results.jsonl.
type Record struct {
	URL         string    `json:"url"`
	Code        int       `json:"code"`
	RawStatus   int       `json:"raw_status"`
	Body        string    `json:"body"`
	BodySHA256  string    `json:"body_sha256"`
	Pass        int       `json:"pass"`
	CompletedAt time.Time `json:"completed_at"`
}

// Notification is published once per resolved URL.
type Notification struct {
	RunID      string `json:"run_id"`
	URL        string `json:"url"`
	Code       int    `json:"code"`
	Pass       int    `json:"pass"`
	BodySHA256 string `json:"body_sha256"`
	BlobURI    string `json:"blob_uri"`
}

// Attributes exposes routing metadata to publishers that support it.
func (n Notification) Attributes() map[string]string {
	return map[string]string{
		"run_id": n.RunID,
		"code":   strconv.Itoa(n.Code),
	}
}

// Summary describes what a run produced and where it was written.
type Summary struct {
	RunID      string         `json:"run_id"`
	Passes     int            `json:"passes"`
	Resolved   int            `json:"resolved"`
	Unresolved []string       `json:"unresolved"`
	ByCode     map[string]int `json:"by_code"`
	Duration   time.Duration  `json:"duration_ns"`
	ResultsURI string         `json:"results_uri"`
	SummaryURI string         `json:"-"`
	Stored     int            `json:"-"`
	Published  int            `json:"-"`
}

// Exporter writes run reports to the configured sinks. Only the blob store
// is required.
type Exporter struct {
	cfg       Config
	blobs     storage.BlobStore
	results   storage.ResultStore
	publisher Publisher
	hasher    Hasher
	logger    *zap.Logger
}

// NewExporter builds an Exporter. results and publisher may be nil.
func NewExporter(
	cfg Config,
	blobs storage.BlobStore,
	results storage.ResultStore,
	publisher Publisher,
	hasher Hasher,
	logger *zap.Logger,
) *Exporter {
	if cfg.ContentType == "" {
		cfg.ContentType = "application/x-ndjson"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		cfg:       cfg,
		blobs:     blobs,
		results:   results,
		publisher: publisher,
		hasher:    hasher,
		logger:    logger,
	}
}

// Export writes report. Blob failures abort the export; row and notification
// failures are logged, counted, and returned joined after every result has
// been attempted.
func (e *Exporter) Export(ctx context.Context, report fetch.Report) (Summary, error) {
	runID := progress.FormatID(report.RunID)
	summary := Summary{
		RunID:      runID,
		Passes:     report.Passes,
		Resolved:   len(report.Results),
		Unresolved: append([]string{}, report.Unresolved...),
		ByCode:     CountByCode(report.Results),
		Duration:   report.Duration,
	}

	records := make([]Record, len(report.Results))
	var lines bytes.Buffer
	enc := json.NewEncoder(&lines)
	for i, res := range report.Results {
		records[i] = e.record(res)
		if err := enc.Encode(records[i]); err != nil {
			return summary, fmt.Errorf("encode result %s: %w", res.URL, err)
		}
	}
	resultsURI, err := e.blobs.PutObject(ctx, e.objectPath(runID, "results.jsonl"), e.cfg.ContentType, &lines)
	if err != nil {
		return summary, fmt.Errorf("write results: %w", err)
	}
	summary.ResultsURI = resultsURI

	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return summary, fmt.Errorf("encode summary: %w", err)
	}
	summaryURI, err := e.blobs.PutObject(ctx, e.objectPath(runID, "summary.json"), "application/json", bytes.NewReader(summaryJSON))
	if err != nil {
		return summary, fmt.Errorf("write summary: %w", err)
	}
	summary.SummaryURI = summaryURI

	var errs []error
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("export interrupted: %w", err))
			break
		}
		if e.results != nil {
			if err := e.results.StoreResult(ctx, e.row(runID, rec, resultsURI)); err != nil {
				e.logger.Warn("store result failed", zap.String("url", rec.URL), zap.Error(err))
				errs = append(errs, err)
			} else {
				summary.Stored++
			}
		}
		if e.publisher != nil {
			if _, err := e.publisher.Publish(ctx, e.cfg.Topic, e.notification(runID, rec, resultsURI)); err != nil {
				e.logger.Warn("publish result failed", zap.String("url", rec.URL), zap.Error(err))
				errs = append(errs, err)
			} else {
				summary.Published++
			}
		}
	}

	e.logger.Info("run exported",
		zap.String("run_id", runID),
		zap.String("results_uri", resultsURI),
		zap.Int("resolved", summary.Resolved),
		zap.Int("unresolved", len(summary.Unresolved)),
		zap.Int("stored", summary.Stored),
		zap.Int("published", summary.Published),
	)
	return summary, errors.Join(errs...)
}

func (e *Exporter) objectPath(runID, name string) string {
	return path.Join(e.cfg.Prefix, runID, name)
}

func (e *Exporter) record(res fetch.Result) Record {
	rec := Record{
		URL:         res.URL,
		Code:        res.Code,
		RawStatus:   res.RawStatus,
		Body:        res.Body,
		Pass:        res.Pass,
		CompletedAt: res.CompletedAt,
	}
	if e.hasher != nil {
		rec.BodySHA256 = e.hasher.Hash([]byte(res.Body))
	}
	return rec
}

func (e *Exporter) row(runID string, rec Record, blobURI string) storage.ResultRecord {
	return storage.ResultRecord{
		RunID:       runID,
		URL:         rec.URL,
		Code:        rec.Code,
		RawStatus:   rec.RawStatus,
		BodyHash:    rec.BodySHA256,
		BodyBytes:   len(rec.Body),
		Pass:        rec.Pass,
		CompletedAt: rec.CompletedAt,
		BlobURI:     blobURI,
	}
}

func (e *Exporter) notification(runID string, rec Record, blobURI string) Notification {
	return Notification{
		RunID:      runID,
		URL:        rec.URL,
		Code:       rec.Code,
		Pass:       rec.Pass,
		BodySHA256: rec.BodySHA256,
		BlobURI:    blobURI,
	}
}

// CountByCode tallies results by outcome label ("200", "404", "410", "unknown").
func CountByCode(results []fetch.Result) map[string]int {
	out := make(map[string]int)
	for _, r := range results {
		out[r.Outcome()]++
	}
	return out
}

// SortedCodes returns the keys of counts in a stable order for logging.
func SortedCodes(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
