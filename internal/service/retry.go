package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"climatology/harvester/internal/domain"
	"climatology/harvester/internal/domain/task"
	"climatology/harvester/internal/queue"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RetryReport summarises one pass over the retry queue
type RetryReport struct {
	Retried   int
	Recovered int
	Requeued  int
	Abandoned int
	// Units holds the refreshed results of every unit that had items retried.
	Units []*domain.UnitResult
}

func (s *Service) enqueueRetry(ctx context.Context, unitKey string, out domain.DownloadOutcome, logger log.FieldLogger) {
	if s.retryQueue == nil {
		return
	}

	t := &task.ItemRetryTask{
		UnitKey:     unitKey,
		Item:        out.Item,
		Destination: out.Destination,
	}
	if out.Err != nil {
		t.Error = out.Err.Error()
	}

	if _, err := s.retryQueue.AddTask(ctx, t); err != nil {
		logger.Errorf("❌ Failed to add %s to retry queue: %v", out.Item.FileName, err)
		return
	}
	logger.Warnf("🔄 Added %s to retry queue", out.Item.FileName)
}

// PendingRetries returns how many entries the retry stream holds, acknowledged ones included
// until the stream is trimmed.
func (s *Service) PendingRetries(ctx context.Context) (int64, error) {
	if s.retryQueue == nil {
		return 0, errors.New("no retry queue configured")
	}
	return s.retryQueue.Len(ctx, task.ItemRetryTaskType)
}

// Retry drains the retry queue once. Every queued item is fetched again; items that still fail
// are queued for another pass until they have been retried MaxRetryRounds times. Units whose
// items were retried are reconciled again and their recorded state is refreshed.
func (s *Service) Retry(ctx context.Context) (*RetryReport, error) {
	if s.retryQueue == nil {
		return nil, errors.New("no retry queue configured")
	}

	consumer := fmt.Sprintf("retry-%d", os.Getpid())

	messages, err := s.retryQueue.AutoClaim(ctx, consumer, task.ItemRetryTaskType, s.opts.RetryClaimIdle)
	if err != nil {
		return nil, err
	}
	if len(messages) > 0 {
		log.Infof("🔄 Reclaimed %d abandoned retry tasks", len(messages))
	}

	for {
		msg, err := s.retryQueue.GetTask(ctx, consumer, task.ItemRetryTaskType)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			break
		}
		messages = append(messages, *msg)
	}

	report := &RetryReport{}
	if len(messages) == 0 {
		log.Info("✅ Retry queue is empty")
		return report, nil
	}

	log.Infof("🚀 Retrying %d items with %d workers", len(messages), s.opts.ItemWorkers)

	var mu sync.Mutex
	touched := make(map[string]bool)

	g := new(errgroup.Group)
	g.SetLimit(s.opts.ItemWorkers)

	for _, msg := range messages {
		g.Go(func() error {
			outcome, unitKey := s.retryOne(ctx, msg)

			mu.Lock()
			defer mu.Unlock()
			report.Retried++
			switch outcome {
			case retryRecovered:
				report.Recovered++
			case retryRequeued:
				report.Requeued++
			default:
				report.Abandoned++
			}
			if unitKey != "" {
				touched[unitKey] = true
			}
			return nil
		})
	}
	g.Wait()

	keys := make([]string, 0, len(touched))
	for k := range touched {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if r := s.reconcileAgain(ctx, k); r != nil {
			report.Units = append(report.Units, r)
		}
	}

	log.Infof("✅ Retry pass finished: %d retried, %d recovered, %d requeued, %d abandoned",
		report.Retried, report.Recovered, report.Requeued, report.Abandoned)

	return report, ctx.Err()
}

type retryOutcome int

const (
	retryAbandoned retryOutcome = iota
	retryRecovered
	retryRequeued
)

func (s *Service) retryOne(ctx context.Context, msg redis.XMessage) (retryOutcome, string) {
	t, err := queue.Decode[*task.ItemRetryTask](msg)
	if err != nil {
		log.Errorf("❌ Dropping malformed retry task: %v", err)
		s.ack(ctx, msg.ID)
		return retryAbandoned, ""
	}

	logger := log.WithField("unit", t.UnitKey)
	out := s.fetcher.Fetch(ctx, t.Item, t.Destination, logger)

	if ctx.Err() != nil && !out.Succeeded {
		// Leave the task pending; a later pass reclaims it.
		return retryAbandoned, ""
	}

	result := retryAbandoned
	switch {
	case out.Succeeded:
		logger.Infof("✅ Recovered %s", t.Item.FileName)
		result = retryRecovered
	case t.RetryCount+1 < s.opts.MaxRetryRounds:
		next := *t
		next.RetryCount++
		if out.Err != nil {
			next.Error = out.Err.Error()
		}
		if _, err := s.retryQueue.AddTask(ctx, &next); err != nil {
			logger.Errorf("❌ Failed to requeue %s: %v", t.Item.FileName, err)
		} else {
			result = retryRequeued
		}
	default:
		logger.Errorf("❌ Giving up on %s after %d retry passes", t.Item.FileName, t.RetryCount+1)
	}

	s.ack(ctx, msg.ID)
	return result, t.UnitKey
}

func (s *Service) ack(ctx context.Context, msgID string) {
	if err := s.retryQueue.AckTask(ctx, task.ItemRetryTaskType, msgID); err != nil {
		log.Warnf("⚠️ Failed to acknowledge retry task %s: %v", msgID, err)
	}
}

// reconcileAgain refreshes a unit's recorded result after some of its items were retried.
func (s *Service) reconcileAgain(ctx context.Context, unitKey string) *domain.UnitResult {
	if s.stateManager == nil {
		return nil
	}

	prev, err := s.stateManager.GetResult(ctx, unitKey)
	if err != nil || prev == nil {
		log.Warnf("⚠️ No recorded result for unit %s, skipping reconciliation", unitKey)
		return nil
	}

	logger := log.WithField("unit", unitKey)
	report, err := s.reconciler.Reconcile(ctx, unitKey, prev.Summary.TotalItems, logger)
	if err != nil {
		logger.Errorf("Reconciliation failed: %v", err)
		return nil
	}

	prev.Report = &report
	prev.Error = ""
	prev.Status = domain.UnitStatusCompleted
	if !report.Complete() {
		prev.Status = domain.UnitStatusIncomplete
		prev.Error = (&domain.ShortfallError{Report: report}).Error()
	}
	s.saveResult(ctx, prev)

	return prev
}
