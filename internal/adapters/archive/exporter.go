// Package archive renders trace and stock snapshots into auditor-facing
// formats (JSON, CSV, and an FDA sortable spreadsheet) and keeps them in the
// blob store.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tracecore/internal/blob"
	"tracecore/internal/core"
	"tracecore/pkg/domain"
)

// Format is an archive rendering.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

var contentTypes = map[Format]string{
	FormatJSON: "application/json",
	FormatCSV:  "text/csv",
	FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// DefaultFormats is used when a request names none.
var DefaultFormats = []Format{FormatJSON, FormatCSV, FormatXLSX}

// ParseFormats accepts a comma separated list, dropping duplicates. An empty
// list selects DefaultFormats.
func ParseFormats(raw string) ([]Format, error) {
	var out []Format
	seen := make(map[Format]struct{})
	for _, part := range strings.Split(raw, ",") {
		f := Format(strings.ToLower(strings.TrimSpace(part)))
		if f == "" {
			continue
		}
		if _, ok := contentTypes[f]; !ok {
			return nil, fmt.Errorf("unsupported archive format %q", part)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	if len(out) == 0 {
		return append([]Format(nil), DefaultFormats...), nil
	}
	return out, nil
}

// Artifact describes one stored archive file.
type Artifact struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	ETag        string    `json:"etag,omitempty"`
	URL         string    `json:"url,omitempty"`
	Seed        string    `json:"seed"`
	Kind        string    `json:"kind"`
	CreatedAt   time.Time `json:"created_at"`
}

// Exporter writes archives to a blob store.
type Exporter struct {
	store  blob.Store
	logger core.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the exporter logger.
func WithLogger(l core.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExporter returns an exporter writing to store.
func NewExporter(store blob.Store, opts ...Option) *Exporter {
	e := &Exporter{
		store:  store,
		logger: core.NopLogger(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type rendered struct {
	format  Format
	payload []byte
}

// ArchiveTrace stores res in each requested format.
func (e *Exporter) ArchiveTrace(ctx context.Context, res domain.TraceResult, formats []Format) ([]Artifact, error) {
	kind := "trace-" + string(res.Direction)
	return e.archive(ctx, res.Seed, kind, formats, func(f Format) ([]byte, error) {
		switch f {
		case FormatJSON:
			return renderJSON(res)
		case FormatCSV:
			return RenderTraceCSV(res)
		default:
			return RenderTraceXLSX(res)
		}
	})
}

// ArchiveStock stores a ledger breakdown in each requested format.
func (e *Exporter) ArchiveStock(ctx context.Context, sb domain.StockBreakdown, formats []Format) ([]Artifact, error) {
	return e.archive(ctx, sb.TLC, "stock", formats, func(f Format) ([]byte, error) {
		switch f {
		case FormatJSON:
			return renderJSON(sb)
		case FormatCSV:
			return RenderStockCSV(sb)
		default:
			return RenderStockXLSX(sb)
		}
	})
}

func (e *Exporter) archive(ctx context.Context, seed, kind string, formats []Format, render func(Format) ([]byte, error)) ([]Artifact, error) {
	if e.store == nil {
		return nil, fmt.Errorf("archive store not configured")
	}
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	outputs := make([]rendered, 0, len(formats))
	for _, f := range formats {
		if _, ok := contentTypes[f]; !ok {
			return nil, fmt.Errorf("unsupported archive format %q", f)
		}
		payload, err := render(f)
		if err != nil {
			return nil, fmt.Errorf("render %s %s: %w", kind, f, err)
		}
		outputs = append(outputs, rendered{format: f, payload: payload})
	}

	id := e.newID()
	created := e.now()
	artifacts := make([]Artifact, 0, len(outputs))
	for _, out := range outputs {
		key := Key(seed, kind, created, id, out.format)
		info, err := e.store.Put(ctx, key, bytes.NewReader(out.payload), blob.PutOptions{
			ContentType: contentTypes[out.format],
			Metadata:    map[string]string{"seed": seed, "kind": kind, "archive-id": id},
		})
		if err != nil {
			return artifacts, fmt.Errorf("store %s: %w", key, err)
		}
		artifacts = append(artifacts, Artifact{
			ID:          id,
			Key:         key,
			Format:      out.format,
			ContentType: contentTypes[out.format],
			SizeBytes:   int64(len(out.payload)),
			ETag:        info.ETag,
			URL:         info.URL,
			Seed:        seed,
			Kind:        kind,
			CreatedAt:   created,
		})
		e.logger.Info("archive stored", "key", key, "format", out.format, "size", len(out.payload))
	}
	return artifacts, nil
}

// Key lays archives out as archives/<seed>/<kind>/<timestamp>-<id>.<ext> so
// a prefix listing returns them in creation order.
func Key(seed, kind string, at time.Time, id string, f Format) string {
	return fmt.Sprintf("archives/%s/%s/%s-%s.%s", keySegment(seed), kind, at.UTC().Format("20060102T150405Z"), id, f)
}

// List returns the archives stored for a seed lot.
func (e *Exporter) List(ctx context.Context, seed string) ([]blob.Info, error) {
	return e.store.List(ctx, "archives/"+keySegment(seed)+"/")
}

func keySegment(s string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", " ", "_")
	if out := r.Replace(strings.TrimSpace(s)); out != "" {
		return out
	}
	return "_"
}
