package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReservationService 库存预留：按组件需求的未覆盖缺口软占用库存
type ReservationService struct {
	db     *gorm.DB
	repos  *repository.Repositories
	seq    SequenceGenerator
	logger *zap.Logger
}

func NewReservationService(db *gorm.DB, repos *repository.Repositories, seq SequenceGenerator, logger *zap.Logger) *ReservationService {
	return &ReservationService{db: db, repos: repos, seq: seq, logger: logger}
}

// Reserve 为任务的每个未足额发料的组件需求补足预留量：
// 缺口 = 预估 − 已发 − 已预留，缺口为零时重复调用是空操作。
// requireInventory 为真时可承诺库存不足直接失败且不留任何变更，
// 否则允许超预留（缺货候补）。
func (s *ReservationService) Reserve(ctx context.Context, taskID string, requireInventory bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)

		task, err := repos.Run.GetTask(taskID)
		if err != nil {
			return notFound(err, "任务 %s", taskID)
		}

		needs, err := repos.Component.ListNeeds(taskID)
		if err != nil {
			return fmt.Errorf("读取组件需求失败: %w", err)
		}

		for i := range needs {
			need := &needs[i]
			if need.StatusID == entity.ComponentStatusIssued {
				continue
			}

			issued, err := repos.Component.SumIssuedNet(taskID, need.ProductID)
			if err != nil {
				return err
			}

			var reserved float64
			existing, err := repos.Component.GetReservation(taskID, need.ProductID)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			if existing != nil {
				reserved = existing.Quantity
			}

			outstanding := need.EstimatedQty - issued - reserved
			if outstanding <= qtyEpsilon {
				continue
			}

			if requireInventory {
				facility := need.FacilityID
				if facility == "" {
					facility = task.FacilityID
				}
				atp, err := repos.Inventory.TotalATP(need.ProductID, facility)
				if err != nil {
					return err
				}
				if atp+qtyEpsilon < outstanding {
					return fmt.Errorf("组件 %s 可承诺库存不足: 需要%.4f, 可用%.4f: %w",
						need.ProductCode, outstanding, atp, ErrInsufficientInventory)
				}
			}

			if existing == nil {
				res := &entity.Reservation{
					ID:        s.seq.NewID(),
					TaskID:    taskID,
					ProductID: need.ProductID,
					Quantity:  outstanding,
				}
				if err := repos.Component.CreateReservation(res); err != nil {
					return fmt.Errorf("创建预留失败: %w", err)
				}
			} else {
				if err := repos.Component.AddReservationQty(taskID, need.ProductID, outstanding); err != nil {
					return fmt.Errorf("累加预留失败: %w", err)
				}
			}

			s.logger.Info("组件预留",
				zap.String("task_id", taskID),
				zap.String("product_id", need.ProductID),
				zap.Float64("quantity", outstanding),
			)
		}
		return nil
	})
}
