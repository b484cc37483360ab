// Package redis keeps the ingestion run journal in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/integrator/internal/domain"
)

// ErrNoRuns is returned when no run has been recorded yet.
var ErrNoRuns = errors.New("no ingestion run recorded")

// Journal records ingestion runs. It is optional: snapshots never depend on it.
type Journal struct {
	client *redis.Client
}

// NewJournal creates a journal on client.
func NewJournal(client *redis.Client) *Journal {
	return &Journal{client: client}
}

// RecordRun stores run as the last run, prepends it to the recent list and
// bumps its status counter in one transaction.
func (j *Journal) RecordRun(ctx context.Context, run domain.IngestRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	_, err = j.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, KeyLastRun, data, 0)
		pipe.LPush(ctx, KeyRecentRuns, data)
		pipe.LTrim(ctx, KeyRecentRuns, 0, MaxRecentRuns-1)
		pipe.HIncrBy(ctx, KeyStatusCounters, string(run.Status), 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// LastRun returns the most recent run.
func (j *Journal) LastRun(ctx context.Context) (*domain.IngestRun, error) {
	data, err := j.client.Get(ctx, KeyLastRun).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoRuns
		}
		return nil, fmt.Errorf("failed to get last run: %w", err)
	}

	var run domain.IngestRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// RecentRuns returns up to limit runs, newest first. Entries that fail to
// decode are skipped.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]domain.IngestRun, error) {
	if limit <= 0 || limit > MaxRecentRuns {
		limit = MaxRecentRuns
	}
	items, err := j.client.LRange(ctx, KeyRecentRuns, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]domain.IngestRun, 0, len(items))
	for _, item := range items {
		var run domain.IngestRun
		if err := json.Unmarshal([]byte(item), &run); err != nil {
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Counters returns run counts keyed by status.
func (j *Journal) Counters(ctx context.Context) (map[string]int64, error) {
	raw, err := j.client.HGetAll(ctx, KeyStatusCounters).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get counters: %w", err)
	}

	counters := make(map[string]int64, len(raw))
	for status, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		counters[status] = n
	}
	return counters, nil
}

// Ping checks the connection.
func (j *Journal) Ping(ctx context.Context) error {
	return j.client.Ping(ctx).Err()
}
