package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IssuanceService 发料引擎：把预留（或直接请求）转换为实际的库存消耗
type IssuanceService struct {
	db     *gorm.DB
	repos  *repository.Repositories
	seq    SequenceGenerator
	logger *zap.Logger
}

func NewIssuanceService(db *gorm.DB, repos *repository.Repositories, seq SequenceGenerator, logger *zap.Logger) *IssuanceService {
	return &IssuanceService{db: db, repos: repos, seq: seq, logger: logger}
}

// IssueOverride 指定产品从特定库位/批次发料的拆分
type IssueOverride struct {
	ProductID  string  `json:"product_id" binding:"required"`
	LocationID string  `json:"location_id"`
	LotID      string  `json:"lot_id"`
	Quantity   float64 `json:"quantity"`
}

// IssueOptions 发料模式
type IssueOptions struct {
	// FailIfNotAvailable 任一组件无法足额覆盖时整个发料操作回滚
	FailIfNotAvailable bool
	// FailIfNotOnHand 仅按实际在库量发料（可承诺量可能含在途）
	FailIfNotOnHand bool
	Overrides       []IssueOverride
	Actor           string
}

// IssuedLine 单条发料结果
type IssuedLine struct {
	ProductID       string          `json:"product_id"`
	InventoryItemID string          `json:"inventory_item_id"`
	LotID           string          `json:"lot_id"`
	Quantity        float64         `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
}

// Issue 对任务的全部待发组件需求执行发料，一个事务内完成
func (s *IssuanceService) Issue(ctx context.Context, taskID string, opts IssueOptions) ([]IssuedLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var lines []IssuedLine
	err := s.db.Transaction(func(tx *gorm.DB) error {
		task, err := repository.NewRunRepository(tx).GetTask(taskID)
		if err != nil {
			return notFound(err, "任务 %s", taskID)
		}
		lines, err = s.issueInTx(tx, task, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// issueInTx 在既有事务内发料，供 Issue 和任务完工共用。
// 每个需求：缺口 = 预估 − 净已发，缺口≤0 跳过（重复调用不会重复扣库存）；
// 发满后把需求置为 ISSUED。
func (s *IssuanceService) issueInTx(tx *gorm.DB, task *entity.ProductionRun, opts IssueOptions) ([]IssuedLine, error) {
	repos := s.repos.WithTx(tx)

	needs, err := repos.Component.ListNeeds(task.ID)
	if err != nil {
		return nil, fmt.Errorf("读取组件需求失败: %w", err)
	}

	now := time.Now()
	var lines []IssuedLine

	for i := range needs {
		need := &needs[i]
		if need.StatusID != entity.ComponentStatusNeeded {
			continue
		}
		if !need.EffectiveAt(now) {
			continue
		}

		issued, err := repos.Component.SumIssuedNet(task.ID, need.ProductID)
		if err != nil {
			return nil, err
		}
		outstanding := need.EstimatedQty - issued
		if outstanding <= qtyEpsilon {
			if err := repos.Component.UpdateNeedStatus(need.ID, entity.ComponentStatusIssued); err != nil {
				return nil, err
			}
			continue
		}

		facility := need.FacilityID
		if facility == "" {
			facility = task.FacilityID
		}

		overrides := overridesFor(opts.Overrides, need.ProductID)
		if len(overrides) > 0 {
			for _, ov := range overrides {
				if outstanding <= qtyEpsilon {
					break
				}
				want := ov.Quantity
				if want <= 0 || want > outstanding {
					want = outstanding
				}
				items, err := repos.Inventory.FindAvailable(need.ProductID, facility, ov.LocationID, ov.LotID)
				if err != nil {
					return nil, err
				}
				taken, newLines, err := s.issueFromItems(repos, task, need, items, want, opts, now)
				if err != nil {
					return nil, err
				}
				outstanding -= taken
				lines = append(lines, newLines...)
			}
		} else {
			items, err := repos.Inventory.FindAvailable(need.ProductID, facility, need.LocationID, need.LotID)
			if err != nil {
				return nil, err
			}
			taken, newLines, err := s.issueFromItems(repos, task, need, items, outstanding, opts, now)
			if err != nil {
				return nil, err
			}
			outstanding -= taken
			lines = append(lines, newLines...)
		}

		if outstanding <= qtyEpsilon {
			if err := repos.Component.UpdateNeedStatus(need.ID, entity.ComponentStatusIssued); err != nil {
				return nil, err
			}
		} else if opts.FailIfNotAvailable {
			return nil, fmt.Errorf("组件 %s 缺口 %.4f 无法足额发料: %w",
				need.ProductCode, outstanding, ErrInsufficientInventory)
		}
	}

	if len(lines) > 0 {
		s.logger.Info("组件发料",
			zap.String("task_id", task.ID),
			zap.String("run_id", task.ParentID),
			zap.Int("lines", len(lines)),
		)
	}
	return lines, nil
}

// issueFromItems 从候选库存项中按先入先出扣减，最多发 want 数量
func (s *IssuanceService) issueFromItems(repos *repository.Repositories, task *entity.ProductionRun, need *entity.ComponentAssignment, items []entity.InventoryItem, want float64, opts IssueOptions, now time.Time) (float64, []IssuedLine, error) {
	var taken float64
	var lines []IssuedLine

	for i := range items {
		if want-taken <= qtyEpsilon {
			break
		}
		item := &items[i]

		available := item.AvailableToPromise
		if opts.FailIfNotOnHand && item.QuantityOnHand < available {
			available = item.QuantityOnHand
		}
		take := want - taken
		if available < take {
			take = available
		}
		if take <= qtyEpsilon {
			continue
		}

		if err := repos.Inventory.AdjustQuantities(item.ID, -take, -take); err != nil {
			return taken, lines, fmt.Errorf("扣减库存项 %s 失败: %w", item.ID, err)
		}

		iss := &entity.Issuance{
			ID:              s.seq.NewID(),
			RunID:           task.ParentID,
			TaskID:          task.ID,
			ProductID:       need.ProductID,
			InventoryItemID: item.ID,
			LotID:           item.LotID,
			Quantity:        take,
			UnitCost:        item.UnitCost,
			IssuedBy:        opts.Actor,
			IssuedAt:        now,
		}
		if err := repos.Component.CreateIssuance(iss); err != nil {
			return taken, lines, fmt.Errorf("写入发料记录失败: %w", err)
		}

		// 发料同步核销对应的软预留
		if err := repos.Component.ConsumeReservation(task.ID, need.ProductID, take); err != nil {
			return taken, lines, err
		}

		taken += take
		lines = append(lines, IssuedLine{
			ProductID:       need.ProductID,
			InventoryItemID: item.ID,
			LotID:           item.LotID,
			Quantity:        take,
			UnitCost:        item.UnitCost,
		})
	}
	return taken, lines, nil
}

func overridesFor(overrides []IssueOverride, productID string) []IssueOverride {
	var out []IssueOverride
	for _, ov := range overrides {
		if ov.ProductID == productID {
			out = append(out, ov)
		}
	}
	return out
}
