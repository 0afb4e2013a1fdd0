package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"gorm.io/gorm"
)

// StatusService 状态校验器：对照流转参照表校验并落状态，
// 只负责实体状态与历史，不触碰库存
type StatusService struct {
	seq SequenceGenerator
}

func NewStatusService(seq SequenceGenerator) *StatusService {
	return &StatusService{seq: seq}
}

// ValidateAndApply 校验 (当前状态, 目标状态) 是否为参照表中的合法边，
// 通过后更新实体状态、盖时间戳、追加状态历史并递增版本号。
// 当前状态为空（新建实体）时不校验。
func (s *StatusService) ValidateAndApply(tx *gorm.DB, run *entity.ProductionRun, newStatus, reason, actor string) error {
	runs := repository.NewRunRepository(tx)

	if run.StatusID != "" {
		allowed, err := runs.TransitionAllowed(run.StatusID, newStatus)
		if err != nil {
			return fmt.Errorf("查询状态流转表失败: %w", err)
		}
		if !allowed {
			return fmt.Errorf("%w: %s -> %s", ErrStateTransition, run.StatusID, newStatus)
		}
	}

	now := time.Now()
	run.StatusID = newStatus
	run.StatusUpdatedAt = &now

	if err := runs.UpdateMutable(run); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("生产运行 %s 已被其他请求修改: %w", run.ID, ErrConcurrencyConflict)
		}
		return fmt.Errorf("更新状态失败: %w", err)
	}

	history := &entity.StatusHistory{
		ID:        s.seq.NewID(),
		RunID:     run.ID,
		StatusID:  newStatus,
		Reason:    reason,
		ChangedBy: actor,
		ChangedAt: now,
	}
	if err := runs.CreateStatusHistory(history); err != nil {
		return fmt.Errorf("写入状态历史失败: %w", err)
	}
	return nil
}
