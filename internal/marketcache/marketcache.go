// Package marketcache implements the Market-Data Window Cache (C1):
// pulls historical bars from the gateway, persists them, and serves
// rolling-window reads from the minimal uncached sub-range.
package marketcache

import (
	"context"
	"sort"
	"time"

	"github.com/ibx/engine/internal/gateway"
	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/pkg/apperr"
	"github.com/ibx/engine/pkg/logger"
)

const defaultPageSize = 500

// BarStore is the persistence surface marketcache needs: insert and
// range-read, kept narrow so it can be satisfied by a fake in tests.
type BarStore interface {
	InsertBars(ctx context.Context, bars []models.Bar) error
	RangeBars(ctx context.Context, contract models.ContractKey, barSize string, start, end time.Time) ([]models.Bar, error)
	Coverage(ctx context.Context, contract models.ContractKey, barSize string, start, end time.Time) (coveredStart, coveredEnd time.Time, ok bool)
}

type Cache struct {
	client   gateway.Client
	bars     BarStore
	pageSize int
}

func New(client gateway.Client, bars BarStore) *Cache {
	return &Cache{client: client, bars: bars, pageSize: defaultPageSize}
}

type Request struct {
	Contract          models.ContractKey
	Start, End        time.Time
	BarSize           string
	WhatToShow        gateway.WhatToShow
	UseRTH            bool
	IncludePartialBar bool
	MaxBars           int
	PageSize          int
}

// GetHistoricalBars computes the minimal uncached sub-range, fetches it
// from the gateway in page-sized slices, persists the result, and
// returns the merged series plus fetch metadata. Requests with
// end<=start are rejected; hitting MaxBars returns the newest MaxBars
// rather than silently truncating from the front.
func (c *Cache) GetHistoricalBars(ctx context.Context, req Request) ([]models.Bar, models.BarFetchMeta, error) {
	if !req.End.After(req.Start) {
		return nil, models.BarFetchMeta{}, apperr.New(apperr.CodeInvalidArgument, "end must be after start")
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = c.pageSize
	}

	coveredStart, coveredEnd, covered := c.bars.Coverage(ctx, req.Contract, req.BarSize, req.Start, req.End)

	segments := uncoveredSegments(req.Start, req.End, coveredStart, coveredEnd, covered)
	fetchCount := 0
	for _, seg := range segments {
		for cursor := seg.start; cursor.Before(seg.end); {
			chunkEnd := cursor.Add(pageDuration(req.BarSize, pageSize))
			if chunkEnd.After(seg.end) {
				chunkEnd = seg.end
			}
			bars, err := c.client.FetchBars(ctx, req.Contract, cursor, chunkEnd, req.BarSize, req.WhatToShow, req.UseRTH)
			if err != nil {
				return nil, models.BarFetchMeta{}, apperr.Wrap(apperr.CodeGatewayUnavailable, err, "fetch bars")
			}
			if len(bars) > 0 {
				if err := c.bars.InsertBars(ctx, bars); err != nil {
					return nil, models.BarFetchMeta{}, apperr.Wrap(apperr.CodeInternal, err, "persist bars")
				}
			}
			fetchCount++
			cursor = chunkEnd
		}
	}

	merged, err := c.bars.RangeBars(ctx, req.Contract, req.BarSize, req.Start, req.End)
	if err != nil {
		return nil, models.BarFetchMeta{}, apperr.Wrap(apperr.CodeInternal, err, "range read bars")
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Ts.Before(merged[j].Ts) })

	truncated := false
	if req.MaxBars > 0 && len(merged) > req.MaxBars {
		merged = merged[len(merged)-req.MaxBars:]
		truncated = true
	}

	hitRatio := 1.0
	if len(segments) > 0 {
		hitRatio = 0.0
		if covered {
			hitRatio = 0.5
		}
	}

	meta := models.BarFetchMeta{
		HitRatio:      hitRatio,
		FetchSegments: fetchCount,
		CoverageStart: req.Start,
		CoverageEnd:   req.End,
		Truncated:     truncated,
	}
	if len(merged) > 0 {
		logger.Info("marketcache served %d bars for %s/%s (segments=%d truncated=%v)",
			len(merged), req.Contract.String(), req.BarSize, fetchCount, truncated)
	}
	return merged, meta, nil
}

type timeSegment struct{ start, end time.Time }

func uncoveredSegments(start, end, coveredStart, coveredEnd time.Time, covered bool) []timeSegment {
	if !covered {
		return []timeSegment{{start, end}}
	}
	var segments []timeSegment
	if start.Before(coveredStart) {
		segments = append(segments, timeSegment{start, coveredStart})
	}
	if end.After(coveredEnd) {
		segments = append(segments, timeSegment{coveredEnd, end})
	}
	return segments
}

func pageDuration(barSize string, pageSize int) time.Duration {
	unit := BarDuration(barSize)
	return unit * time.Duration(pageSize)
}

// BarDuration maps a bar-size string to its wall-clock duration.
// Exported so callers can size a historical-bars request window without
// duplicating the table.
func BarDuration(barSize string) time.Duration {
	switch barSize {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	case "2d":
		return 48 * time.Hour
	default:
		return time.Minute
	}
}
