// Package stats derives aggregate execution metrics from the history store.
// It is a pure read-side projection: it never mutates history, and it is
// safe to compute concurrently with appends.
package stats

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"playbookd/internal/history"
	"playbookd/internal/model"
)

const (
	topFolders  = 5
	recentLimit = 20
)

// Aggregator computes statistics snapshots on demand.
type Aggregator struct {
	store  *history.Store
	window time.Duration // recent-activity lookback
}

func New(store *history.Store) *Aggregator {
	return &Aggregator{store: store, window: 24 * time.Hour}
}

// Snapshot computes a Statistics value over the store's current contents.
// The four aggregation queries run concurrently. An empty store yields all
// zeros and empty slices, never NaN or nil.
func (a *Aggregator) Snapshot(ctx context.Context) (model.Statistics, error) {
	var (
		total, successful, failed int
		avg                       float64
		folders                   []model.FolderCount
		recent                    []model.HistoryRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		total, successful, failed, err = a.store.Counts(gctx)
		return err
	})
	g.Go(func() (err error) {
		avg, err = a.store.AverageDuration(gctx)
		return err
	})
	g.Go(func() (err error) {
		folders, err = a.store.TopFolders(gctx, topFolders)
		return err
	})
	g.Go(func() (err error) {
		recent, err = a.store.Recent(gctx, time.Now().UTC().Add(-a.window), recentLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.Statistics{}, err
	}

	stats := model.Statistics{
		TotalExecutions: total,
		Successful:      successful,
		Failed:          failed,
		MostUsedFolders: folders,
		RecentActivity:  recent,
	}
	if stats.MostUsedFolders == nil {
		stats.MostUsedFolders = []model.FolderCount{}
	}
	if stats.RecentActivity == nil {
		stats.RecentActivity = []model.HistoryRecord{}
	}
	if total > 0 {
		stats.SuccessRate = round(float64(successful)/float64(total)*100, 1)
		stats.AverageDuration = round(avg, 2)
	}
	return stats, nil
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
