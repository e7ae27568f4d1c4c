package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/tuvi/internal/assets"
	"github.com/mohammad-safakhou/tuvi/internal/chart"
	"github.com/mohammad-safakhou/tuvi/internal/extract"
	"github.com/mohammad-safakhou/tuvi/internal/metrics"
	"github.com/mohammad-safakhou/tuvi/internal/store"
)

// ChartStore is the persistence the cache needs.
type ChartStore interface {
	LatestChart(ctx context.Context, key store.ChartKey) (store.ChartRecord, bool, error)
	InsertChart(ctx context.Context, rec store.ChartRecord) (store.ChartRecord, error)
}

// ChartCache maps fingerprints to the most recent stored artifact. Store
// failures never reach callers: lookups miss and stores are dropped.
type ChartCache struct {
	store  ChartStore
	dir    *assets.Dir
	logger *zap.Logger
}

// NewChartCache builds the cache. A nil store disables caching.
func NewChartCache(st ChartStore, dir *assets.Dir, logger *zap.Logger) *ChartCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChartCache{store: st, dir: dir, logger: logger}
}

func keyOf(fp chart.Fingerprint) store.ChartKey {
	return store.ChartKey{
		UserID:    fp.RequesterID,
		Day:       fp.Day,
		Month:     fp.Month,
		Year:      fp.Year,
		BirthTime: fp.Slot.Label(),
		Gender:    string(fp.Sex),
	}
}

// Lookup returns the newest usable artifact for fp.
func (c *ChartCache) Lookup(ctx context.Context, fp chart.Fingerprint) (chart.Artifact, bool) {
	if c.store == nil {
		return chart.Artifact{}, false
	}
	rec, ok, err := c.store.LatestChart(ctx, keyOf(fp))
	if err != nil {
		c.logger.Warn("chart cache lookup failed",
			zap.Int64("requester_id", fp.RequesterID),
			zap.Error(fmt.Errorf("%w: %v", chart.ErrStoreUnavailable, err)))
		metrics.Errors.WithLabelValues("store").Inc()
		return chart.Artifact{}, false
	}
	if !ok {
		return chart.Artifact{}, false
	}
	a, ok := c.Resolve(rec)
	if !ok {
		return chart.Artifact{}, false
	}
	metrics.ChartsReused.Inc()
	return a, true
}

// Resolve turns a stored row into an artifact on disk. Rows holding base64
// bytes, bare or as a data URI, are written out once as
// {requester}_c{id}.{ext}. Rows from older releases carry image bytes under
// the path tag and are treated the same way. A row whose file is gone or
// whose bytes do not decode resolves to nothing.
func (c *ChartCache) Resolve(rec store.ChartRecord) (chart.Artifact, bool) {
	fp, err := FingerprintOf(rec)
	if err != nil {
		c.logger.Warn("stored chart has invalid fingerprint", zap.Int64("chart_id", rec.ID), zap.Error(err))
		return chart.Artifact{}, false
	}
	a := chart.Artifact{
		ID:          rec.ID,
		Fingerprint: fp,
		Form:        chart.StorageForm(rec.StorageForm),
		MediaType:   rec.MediaType,
		CreatedAt:   rec.CreatedAt,
	}
	if a.Form == "" {
		a.Form = chart.FormImage
	}

	switch rec.ImageEncoding {
	case store.EncodingPath:
		if assets.Exists(rec.ChartImage) {
			a.Path = rec.ChartImage
			return a, true
		}
		if a.Form == chart.FormImage {
			if media, data, err := extract.DecodePayload(rec.ChartImage); err == nil {
				if _, isImage := extract.MediaTypeOf(data); isImage || media != "" {
					return c.materialize(rec, a, media, data)
				}
			}
		}
		c.logger.Info("stored chart file missing", zap.Int64("chart_id", rec.ID), zap.String("path", rec.ChartImage))
		return chart.Artifact{}, false
	case store.EncodingBase64:
		media, data, err := extract.DecodePayload(rec.ChartImage)
		if err != nil || len(data) == 0 {
			c.logger.Warn("stored chart bytes undecodable", zap.Int64("chart_id", rec.ID), zap.Error(err))
			return chart.Artifact{}, false
		}
		return c.materialize(rec, a, media, data)
	default:
		c.logger.Warn("stored chart has unknown encoding", zap.Int64("chart_id", rec.ID), zap.String("encoding", rec.ImageEncoding))
		return chart.Artifact{}, false
	}
}

// materialize writes decoded row bytes next to the other artifacts. The media
// type comes from a data URI header, then from the bytes, then from the row.
func (c *ChartCache) materialize(rec store.ChartRecord, a chart.Artifact, media string, data []byte) (chart.Artifact, bool) {
	if c.dir == nil {
		return chart.Artifact{}, false
	}
	if a.Form == chart.FormImage {
		if media == "" {
			media, _ = extract.MediaTypeOf(data)
		}
		if media != "" {
			a.MediaType = media
		}
	}
	name := fmt.Sprintf("%d_c%d.%s", rec.UserID, rec.ID, extFor(a.Form, a.MediaType))
	p := c.dir.Path(name)
	if !assets.Exists(p) {
		if _, err := c.dir.WriteNamed(name, data); err != nil && !errors.Is(err, fs.ErrExist) {
			c.logger.Warn("materialize stored chart", zap.Int64("chart_id", rec.ID), zap.Error(err))
			return chart.Artifact{}, false
		}
	}
	a.Path = p
	return a, true
}

// Store persists a fresh artifact by path and returns its row id, or 0 when
// the store is disabled or unreachable.
func (c *ChartCache) Store(ctx context.Context, a chart.Artifact) int64 {
	if c.store == nil {
		return 0
	}
	fp := a.Fingerprint
	key := keyOf(fp)
	rec, err := c.store.InsertChart(ctx, store.ChartRecord{
		UserID:        key.UserID,
		Day:           key.Day,
		Month:         key.Month,
		Year:          key.Year,
		BirthTime:     key.BirthTime,
		Gender:        key.Gender,
		ChartImage:    a.Path,
		StorageForm:   string(a.Form),
		ImageEncoding: store.EncodingPath,
		MediaType:     a.MediaType,
	})
	if err != nil {
		c.logger.Warn("chart cache store failed",
			zap.Int64("requester_id", fp.RequesterID),
			zap.Error(fmt.Errorf("%w: %v", chart.ErrStoreUnavailable, err)))
		metrics.Errors.WithLabelValues("store").Inc()
		return 0
	}
	return rec.ID
}

// FingerprintOf rebuilds the request fingerprint of a stored row.
func FingerprintOf(rec store.ChartRecord) (chart.Fingerprint, error) {
	date, err := chart.NewBirthDate(rec.Day, rec.Month, rec.Year)
	if err != nil {
		return chart.Fingerprint{}, err
	}
	slot, err := chart.ParseSlot(rec.BirthTime)
	if err != nil {
		return chart.Fingerprint{}, err
	}
	sex, err := chart.ParseSex(rec.Gender)
	if err != nil {
		return chart.Fingerprint{}, err
	}
	return chart.NewFingerprint(rec.UserID, date, slot, sex)
}

func extFor(form chart.StorageForm, mediaType string) string {
	if form == chart.FormRawPage {
		return "html"
	}
	switch mediaType {
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	}
	return "jpg"
}
