package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReturnService 退料：冲销已发出的组件数量，恢复原库存项
type ReturnService struct {
	db     *gorm.DB
	repos  *repository.Repositories
	seq    SequenceGenerator
	logger *zap.Logger
}

func NewReturnService(db *gorm.DB, repos *repository.Repositories, seq SequenceGenerator, logger *zap.Logger) *ReturnService {
	return &ReturnService{db: db, repos: repos, seq: seq, logger: logger}
}

// ReturnItem 单条退料行
type ReturnItem struct {
	ProductID string     `json:"product_id" binding:"required"`
	TaskID    string     `json:"task_id" binding:"required"`
	FromDate  *time.Time `json:"from_date"`
	LotID     string     `json:"lot_id"`
	Quantity  float64    `json:"quantity" binding:"required,gt=0"`
}

// ReturnLineError 单行校验错误
type ReturnLineError struct {
	Index     int    `json:"index"`
	ProductID string `json:"product_id"`
	TaskID    string `json:"task_id"`
	Message   string `json:"message"`
}

// ReturnResult 批量退料结果
type ReturnResult struct {
	Success bool              `json:"success"`
	Errors  []ReturnLineError `json:"errors,omitempty"`
}

// ReturnMaterial 批量退料。先校验全部行并逐行累积错误；
// 任一行不通过则整批不提交。单行可退上限为该
// (任务,产品,批次) 的累计发料量减去累计已退量，
// 批次留空时不限定批次、跨批次计算。
// 退料以负数发料记录追加，按先发先退回冲到原库存项。
func (s *ReturnService) ReturnMaterial(ctx context.Context, runID string, items []ReturnItem, actor string) (*ReturnResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: 退料明细为空", ErrValidation)
	}

	result := &ReturnResult{}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)

		run, err := repos.Run.GetRun(runID)
		if err != nil {
			return notFound(err, "生产运行 %s", runID)
		}

		now := time.Now()
		for idx, item := range items {
			lineErr := s.validateLine(repos, run, idx, item, now)
			if lineErr != nil {
				result.Errors = append(result.Errors, *lineErr)
			}
		}
		if len(result.Errors) > 0 {
			return fmt.Errorf("%w: %d 条退料行校验未通过，整批不提交", ErrValidation, len(result.Errors))
		}

		for _, item := range items {
			if err := s.applyLine(repos, run, item, actor, now); err != nil {
				return err
			}
		}
		result.Success = true
		return nil
	})
	if err != nil {
		if len(result.Errors) > 0 {
			// 行级错误随结果带回，调用方据此展示每一条违规
			return result, err
		}
		return nil, err
	}

	s.logger.Info("组件退料",
		zap.String("run_id", runID),
		zap.Int("lines", len(items)),
	)
	return result, nil
}

func (s *ReturnService) validateLine(repos *repository.Repositories, run *entity.ProductionRun, idx int, item ReturnItem, now time.Time) *ReturnLineError {
	lineError := func(format string, args ...interface{}) *ReturnLineError {
		return &ReturnLineError{
			Index:     idx,
			ProductID: item.ProductID,
			TaskID:    item.TaskID,
			Message:   fmt.Sprintf(format, args...),
		}
	}

	if item.Quantity <= 0 {
		return lineError("退料数量必须大于0")
	}
	if item.FromDate != nil && item.FromDate.After(now) {
		return lineError("发料日期不能晚于当前时间")
	}

	task, err := repos.Run.GetTask(item.TaskID)
	if err != nil {
		return lineError("任务 %s 不存在", item.TaskID)
	}
	if task.ParentID != run.ID {
		return lineError("任务 %s 不属于运行 %s", item.TaskID, run.RunCode)
	}

	issued, err := repos.Component.SumIssuedGross(item.TaskID, item.ProductID, item.LotID)
	if err != nil {
		return lineError("查询发料量失败")
	}
	returned, err := repos.Component.SumReturned(item.TaskID, item.ProductID, item.LotID)
	if err != nil {
		return lineError("查询退料量失败")
	}
	returnable := issued - returned
	if item.Quantity > returnable+qtyEpsilon {
		return lineError("退料数量 %.4f 超过可退数量 %.4f", item.Quantity, returnable)
	}
	return nil
}

func (s *ReturnService) applyLine(repos *repository.Repositories, run *entity.ProductionRun, item ReturnItem, actor string, now time.Time) error {
	balances, err := repos.Component.ListIssuedItemBalances(item.TaskID, item.ProductID, item.LotID)
	if err != nil {
		return err
	}

	remaining := item.Quantity
	for _, bal := range balances {
		if remaining <= qtyEpsilon {
			break
		}
		take := remaining
		if bal.Net < take {
			take = bal.Net
		}

		invItem, err := repos.Inventory.GetByID(bal.InventoryItemID)
		if err != nil {
			return notFound(err, "库存项 %s", bal.InventoryItemID)
		}

		if err := repos.Component.CreateIssuance(&entity.Issuance{
			ID:              s.seq.NewID(),
			RunID:           run.ID,
			TaskID:          item.TaskID,
			ProductID:       item.ProductID,
			InventoryItemID: invItem.ID,
			LotID:           invItem.LotID,
			Quantity:        -take,
			UnitCost:        invItem.UnitCost,
			IssuedBy:        actor,
			IssuedAt:        now,
		}); err != nil {
			return fmt.Errorf("写入退料记录失败: %w", err)
		}
		if err := repos.Inventory.AdjustQuantities(invItem.ID, take, take); err != nil {
			return fmt.Errorf("恢复库存项 %s 失败: %w", invItem.ID, err)
		}

		remaining -= take
	}
	if remaining > qtyEpsilon {
		return fmt.Errorf("退料回冲不完整: 产品 %s 剩余 %.4f 找不到原发料记录", item.ProductID, remaining)
	}

	// 净发料量跌破预估时，需求状态回退为待发，后续可再发料
	needs, err := repos.Component.ListNeeds(item.TaskID)
	if err != nil {
		return err
	}
	for i := range needs {
		need := &needs[i]
		if need.ProductID != item.ProductID || need.StatusID != entity.ComponentStatusIssued {
			continue
		}
		net, err := repos.Component.SumIssuedNet(item.TaskID, item.ProductID)
		if err != nil {
			return err
		}
		if net < need.EstimatedQty-qtyEpsilon {
			if err := repos.Component.UpdateNeedStatus(need.ID, entity.ComponentStatusNeeded); err != nil {
				return err
			}
		}
	}
	return nil
}
