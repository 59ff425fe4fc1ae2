package job

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"OpenMCP-Orchestrator/pkg/logger"
)

// RecoverStale 在启动时修复上一个进程遗留的作业：超过 staleAfter 仍处于
// running 的作业放回 pending，随后重投所有滞留的 pending 作业。staleAfter
// 不大于零时不按时间过滤。返回重投的作业数量。
func RecoverStale(ctx context.Context, store Store, producer Producer, staleAfter time.Duration) (int, error) {
	var cutoff ListOption
	if staleAfter > 0 {
		cutoff = WithUpdatedUntil(time.Now().Add(-staleAfter))
	}

	for {
		running, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusRunning), cutoff, WithLimit(100)}))
		if err != nil {
			return 0, err
		}
		if len(running) == 0 {
			break
		}
		for _, job := range running {
			if err := store.Requeue(ctx, job.ID); err != nil && !stdErrors.Is(err, ErrJobConflict) {
				return 0, err
			}
		}
	}

	republished := 0
	offset := 0
	for {
		pending, err := store.List(ctx, buildListOptions([]ListOption{
			WithStatuses(StatusPending), WithLimit(100), WithOffset(offset), WithSortOrder(SortByUpdatedAsc),
		}))
		if err != nil {
			return republished, err
		}
		for _, job := range pending {
			if err := producer.Publish(ctx, job.ID); err != nil {
				return republished, err
			}
			republished++
		}
		if len(pending) < 100 {
			break
		}
		offset += len(pending)
	}
	if republished > 0 {
		logger.L().Info("恢复滞留作业", slog.Int("count", republished))
	}
	return republished, nil
}
