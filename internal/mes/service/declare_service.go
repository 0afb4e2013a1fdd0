package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DeclareService 申报入库：把可产出运行的完工数量过账为成品库存
type DeclareService struct {
	db        *gorm.DB
	repos     *repository.Repositories
	sequencer *Sequencer
	costs     CostService
	ledger    LedgerService
	seq       SequenceGenerator
	logger    *zap.Logger
}

func NewDeclareService(db *gorm.DB, repos *repository.Repositories, sequencer *Sequencer, costs CostService, ledger LedgerService, seq SequenceGenerator, logger *zap.Logger) *DeclareService {
	return &DeclareService{
		db:        db,
		repos:     repos,
		sequencer: sequencer,
		costs:     costs,
		ledger:    ledger,
		seq:       seq,
		logger:    logger,
	}
}

// DeclareLocation 入库数量在库位间的拆分
type DeclareLocation struct {
	LocationID string  `json:"location_id"`
	Quantity   float64 `json:"quantity" binding:"required,gt=0"`
}

// DeclareRequest 申报入库参数。Quantity 为0时申报全部未申报完工量。
type DeclareRequest struct {
	FacilityID string            `json:"facility_id"`
	ProductID  string            `json:"product_id"`
	Quantity   float64           `json:"quantity"`
	CreateLot  bool              `json:"create_lot"`
	LotID      string            `json:"lot_id"`
	Locations  []DeclareLocation `json:"locations" binding:"dive"`
}

// DeclareResult 申报入库结果
type DeclareResult struct {
	InventoryItemIDs []string `json:"inventory_item_ids"`
	Quantity         float64  `json:"quantity"`
	LotID            string   `json:"lot_id"`
}

// DeclareAndProduce 创建成品库存项、溯源记录并委托记账协作方过账，
// 整个申报是一个事务，中途失败不留任何已建库存项。
// 仅当运行可申报（末任务执行中/已完工，或全部任务已完工）时允许。
func (s *DeclareService) DeclareAndProduce(ctx context.Context, runID string, req DeclareRequest, actor string) (*DeclareResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result *DeclareResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)

		run, err := repos.Run.GetRun(runID)
		if err != nil {
			return notFound(err, "生产运行 %s", runID)
		}

		sequencer := s.sequencer.WithTx(tx)
		rollup, err := sequencer.Rollup(run)
		if err != nil {
			return err
		}
		if !rollup.CanDeclareAndProduce {
			return fmt.Errorf("%w: 运行 %s 尚不可申报入库", ErrStateTransition, run.RunCode)
		}

		tasks, err := sequencer.Tasks(run.ID)
		if err != nil {
			return err
		}
		finalTask := &tasks[len(tasks)-1]

		productID, productCode, productName := run.ProductID, run.ProductCode, run.ProductName
		if req.ProductID != "" && req.ProductID != run.ProductID {
			outs, err := repos.Component.ListDeliverables(run.ID)
			if err != nil {
				return err
			}
			found := false
			for i := range outs {
				if outs[i].ProductID == req.ProductID {
					productID, productCode, productName = outs[i].ProductID, outs[i].ProductCode, outs[i].ProductName
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("%w: 产品 %s 不是运行 %s 的产出", ErrValidation, req.ProductID, run.RunCode)
			}
		}

		declared, err := repos.Inventory.DeclaredQty(run.ID)
		if err != nil {
			return err
		}
		// 末任务执行中时完工数尚未入账，先按计划量放行，完工后以实际完工量为准
		declarable := run.QtyProduced
		if finalTask.StatusID == entity.StatusRunning && run.QtyToProduce > declarable {
			declarable = run.QtyToProduce
		}
		remaining := declarable - declared
		qty := req.Quantity
		if qty == 0 {
			qty = remaining
		}
		if qty <= qtyEpsilon {
			return fmt.Errorf("%w: 没有可申报的完工数量", ErrValidation)
		}
		if qty > remaining+qtyEpsilon {
			return fmt.Errorf("%w: 申报数量 %.4f 超过未申报完工数量 %.4f", ErrValidation, qty, remaining)
		}

		facility := req.FacilityID
		if facility == "" {
			facility = run.FacilityID
		}

		lot := req.LotID
		if lot == "" && req.CreateLot {
			lot = s.seq.NextLotCode(ctx)
		}

		splits := req.Locations
		if len(splits) == 0 {
			splits = []DeclareLocation{{Quantity: qty}}
		} else {
			var sum float64
			for _, sp := range splits {
				sum += sp.Quantity
			}
			if math.Abs(sum-qty) > qtyEpsilon {
				return fmt.Errorf("%w: 库位拆分合计 %.4f 与申报数量 %.4f 不一致", ErrValidation, sum, qty)
			}
		}

		unitCost, currency := s.costs.StandardCost(productID)
		now := time.Now()

		var itemIDs []string
		for _, sp := range splits {
			item := &entity.InventoryItem{
				ID:                 s.seq.NewID(),
				ProductID:          productID,
				ProductCode:        productCode,
				ProductName:        productName,
				FacilityID:         facility,
				LocationID:         sp.LocationID,
				LotID:              lot,
				QuantityOnHand:     sp.Quantity,
				AvailableToPromise: sp.Quantity,
				UnitCost:           unitCost,
				Unit:               "pcs",
				ReceivedAt:         now,
			}
			if err := repos.Inventory.Create(item); err != nil {
				return fmt.Errorf("创建成品库存项失败: %w", err)
			}
			if err := repos.Inventory.CreateLink(&entity.ProducedInventoryLink{
				ID:              s.seq.NewID(),
				RunID:           run.ID,
				TaskID:          finalTask.ID,
				InventoryItemID: item.ID,
				Quantity:        sp.Quantity,
			}); err != nil {
				return fmt.Errorf("创建溯源记录失败: %w", err)
			}
			itemIDs = append(itemIDs, item.ID)
		}

		amount := unitCost.Mul(decimal.NewFromFloat(qty))
		if err := s.ledger.PostProduction(tx, run, qty, amount, currency, actor); err != nil {
			return fmt.Errorf("过账失败: %w", err)
		}

		result = &DeclareResult{InventoryItemIDs: itemIDs, Quantity: qty, LotID: lot}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("成品申报入库",
		zap.String("run_id", runID),
		zap.Float64("quantity", result.Quantity),
		zap.String("lot_id", result.LotID),
		zap.Int("items", len(result.InventoryItemIDs)),
	)
	return result, nil
}
