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

// ProductionRunService 生产运行执行：状态推进、完工核算、运行汇总
type ProductionRunService struct {
	db        *gorm.DB
	repos     *repository.Repositories
	status    *StatusService
	sequencer *Sequencer
	issuance  *IssuanceService
	costs     CostService
	seq       SequenceGenerator
	logger    *zap.Logger
}

func NewProductionRunService(db *gorm.DB, repos *repository.Repositories, status *StatusService, sequencer *Sequencer, issuance *IssuanceService, costs CostService, seq SequenceGenerator, logger *zap.Logger) *ProductionRunService {
	return &ProductionRunService{
		db:        db,
		repos:     repos,
		status:    status,
		sequencer: sequencer,
		issuance:  issuance,
		costs:     costs,
		seq:       seq,
		logger:    logger,
	}
}

// RunTaskInput 创建运行时的工艺任务快照
type RunTaskInput struct {
	Name                 string `json:"name" binding:"required"`
	Priority             int    `json:"priority" binding:"required"`
	EstimatedMillis      int64  `json:"estimated_millis"`
	EstimatedSetupMillis int64  `json:"estimated_setup_millis"`
	FixedAssetID         string `json:"fixed_asset_id"`
}

// RunComponentInput 创建运行时的组件需求/产出快照。
// TaskPriority 为0时需求挂到首任务、产出挂到末任务。
type RunComponentInput struct {
	ProductID    string     `json:"product_id" binding:"required"`
	ProductCode  string     `json:"product_code"`
	ProductName  string     `json:"product_name"`
	Type         string     `json:"type"`
	EstimatedQty float64    `json:"estimated_qty" binding:"required,gt=0"`
	TaskPriority int        `json:"task_priority"`
	LocationID   string     `json:"location_id"`
	LotID        string     `json:"lot_id"`
	Unit         string     `json:"unit"`
	FromDate     *time.Time `json:"from_date"`
	ThruDate     *time.Time `json:"thru_date"`
}

// CreateRunRequest 从已定义好的工艺路线快照实例化生产运行。
// 路线/BOM的定义本身在别的系统，这里只接收展开后的行。
type CreateRunRequest struct {
	Name               string              `json:"name"`
	ProductID          string              `json:"product_id" binding:"required"`
	ProductCode        string              `json:"product_code"`
	ProductName        string              `json:"product_name"`
	FacilityID         string              `json:"facility_id" binding:"required"`
	Quantity           float64             `json:"quantity" binding:"required,gt=0"`
	EstimatedStartDate *time.Time          `json:"estimated_start_date"`
	Tasks              []RunTaskInput      `json:"tasks" binding:"required,min=1,dive"`
	Components         []RunComponentInput `json:"components" binding:"dive"`
}

// Create 实例化运行、任务与组件关联，均为 CREATED 状态
func (s *ProductionRunService) Create(ctx context.Context, req CreateRunRequest, actor string) (*entity.ProductionRun, error) {
	for i := range req.Tasks {
		for j := i + 1; j < len(req.Tasks); j++ {
			if req.Tasks[i].Priority == req.Tasks[j].Priority {
				return nil, fmt.Errorf("%w: 任务优先级重复 %d", ErrValidation, req.Tasks[i].Priority)
			}
		}
	}

	var run *entity.ProductionRun
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)
		now := time.Now()

		name := req.Name
		if name == "" {
			name = req.ProductName
		}
		run = &entity.ProductionRun{
			ID:                 s.seq.NewID(),
			RunCode:            s.seq.NextRunCode(ctx),
			Type:               entity.RunTypeProduction,
			Name:               name,
			ProductID:          req.ProductID,
			ProductCode:        req.ProductCode,
			ProductName:        req.ProductName,
			FacilityID:         req.FacilityID,
			StatusID:           entity.StatusCreated,
			QtyToProduce:       req.Quantity,
			EstimatedStartDate: req.EstimatedStartDate,
			StatusUpdatedAt:    &now,
			Revision:           1,
			CreatedBy:          actor,
		}
		if err := repos.Run.Create(run); err != nil {
			return fmt.Errorf("创建生产运行失败: %w", err)
		}
		if err := repos.Run.CreateStatusHistory(&entity.StatusHistory{
			ID: s.seq.NewID(), RunID: run.ID, StatusID: entity.StatusCreated,
			ChangedBy: actor, ChangedAt: now,
		}); err != nil {
			return err
		}

		byPriority := make(map[int]*entity.ProductionRun, len(req.Tasks))
		var tasks []*entity.ProductionRun
		for _, in := range req.Tasks {
			task := &entity.ProductionRun{
				ID:                   s.seq.NewID(),
				RunCode:              run.RunCode,
				ParentID:             run.ID,
				Type:                 entity.RunTypeTask,
				Name:                 in.Name,
				Priority:             in.Priority,
				FacilityID:           req.FacilityID,
				FixedAssetID:         in.FixedAssetID,
				StatusID:             entity.StatusCreated,
				QtyToProduce:         req.Quantity,
				EstimatedMillis:      in.EstimatedMillis,
				EstimatedSetupMillis: in.EstimatedSetupMillis,
				StatusUpdatedAt:      &now,
				Revision:             1,
				CreatedBy:            actor,
			}
			if err := repos.Run.Create(task); err != nil {
				return fmt.Errorf("创建任务失败: %w", err)
			}
			if err := repos.Run.CreateStatusHistory(&entity.StatusHistory{
				ID: s.seq.NewID(), RunID: task.ID, StatusID: entity.StatusCreated,
				ChangedBy: actor, ChangedAt: now,
			}); err != nil {
				return err
			}
			byPriority[in.Priority] = task
			tasks = append(tasks, task)
		}
		first := tasks[0]
		final := tasks[0]
		for _, t := range tasks {
			if t.Priority < first.Priority {
				first = t
			}
			if t.Priority > final.Priority {
				final = t
			}
		}

		var assignments []entity.ComponentAssignment
		for _, in := range req.Components {
			compType := in.Type
			if compType == "" {
				compType = entity.ComponentTypeNeeded
			}
			target := byPriority[in.TaskPriority]
			if target == nil {
				if compType == entity.ComponentTypeDelivered {
					target = final
				} else {
					target = first
				}
			}
			unit := in.Unit
			if unit == "" {
				unit = "pcs"
			}
			assignments = append(assignments, entity.ComponentAssignment{
				ID:           s.seq.NewID(),
				RunID:        run.ID,
				TaskID:       target.ID,
				Type:         compType,
				ProductID:    in.ProductID,
				ProductCode:  in.ProductCode,
				ProductName:  in.ProductName,
				EstimatedQty: in.EstimatedQty,
				StatusID:     entity.ComponentStatusNeeded,
				FromDate:     in.FromDate,
				ThruDate:     in.ThruDate,
				FacilityID:   req.FacilityID,
				LocationID:   in.LocationID,
				LotID:        in.LotID,
				Unit:         unit,
			})
		}
		if err := repos.Component.BatchCreate(assignments); err != nil {
			return fmt.Errorf("创建组件关联失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("生产运行已创建",
		zap.String("run_id", run.ID),
		zap.String("run_code", run.RunCode),
		zap.Float64("quantity", run.QtyToProduce),
	)
	return run, nil
}

// ChangeTaskStatusRequest 任务状态变更。数量与工时为增量累加，不是绝对值。
type ChangeTaskStatusRequest struct {
	StatusID           string  `json:"status_id" binding:"required"`
	IssueAllComponents bool    `json:"issue_all_components"`
	AddQtyProduced     float64 `json:"add_qty_produced"`
	AddQtyRejected     float64 `json:"add_qty_rejected"`
	AddMillis          int64   `json:"add_millis"`
	AddSetupMillis     int64   `json:"add_setup_millis"`
	Reason             string  `json:"reason"`
}

// ChangeTaskStatusResult 状态变更结果
type ChangeTaskStatusResult struct {
	TaskStatus   string     `json:"task_status"`
	RunStatus    string     `json:"run_status"`
	RunStartDate *time.Time `json:"run_start_date"`
}

// ChangeTaskStatus 推进任务状态并执行对应的联动：
//   - RUNNING：校验启动规则，记实际开始时间，父运行联动到 RUNNING
//   - COMPLETED：可选先足额发料；累加产量/废品/工时；核算实际成本；
//     末任务完工时父运行汇总为 COMPLETED
//   - CANCELLED：仅在运行尚未发出任何组件时允许
func (s *ProductionRunService) ChangeTaskStatus(ctx context.Context, runID, taskID string, req ChangeTaskStatusRequest, actor string) (*ChangeTaskStatusResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.AddQtyProduced < 0 || req.AddQtyRejected < 0 || req.AddMillis < 0 || req.AddSetupMillis < 0 {
		return nil, fmt.Errorf("%w: 增量不允许为负", ErrValidation)
	}

	var result *ChangeTaskStatusResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)

		run, err := repos.Run.GetRun(runID)
		if err != nil {
			return notFound(err, "生产运行 %s", runID)
		}
		task, err := repos.Run.GetTask(taskID)
		if err != nil {
			return notFound(err, "任务 %s", taskID)
		}
		if task.ParentID != run.ID {
			return fmt.Errorf("%w: 任务 %s 不属于运行 %s", ErrValidation, taskID, runID)
		}

		now := time.Now()

		switch req.StatusID {
		case entity.StatusRunning:
			if err := s.applyStart(tx, repos, run, task, req.Reason, actor, now); err != nil {
				return err
			}

		case entity.StatusCompleted:
			if err := s.applyCompletion(tx, repos, run, task, req, actor, now); err != nil {
				return err
			}

		case entity.StatusCancelled:
			count, err := repos.Component.CountIssuancesByRun(run.ID)
			if err != nil {
				return err
			}
			if count > 0 {
				return fmt.Errorf("%w: 运行已发料，任务不可取消", ErrStateTransition)
			}
			if err := s.status.ValidateAndApply(tx, task, entity.StatusCancelled, req.Reason, actor); err != nil {
				return err
			}

		default:
			if err := s.status.ValidateAndApply(tx, task, req.StatusID, req.Reason, actor); err != nil {
				return err
			}
		}

		result = &ChangeTaskStatusResult{
			TaskStatus:   task.StatusID,
			RunStatus:    run.StatusID,
			RunStartDate: run.ActualStartDate,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("任务状态变更",
		zap.String("run_id", runID),
		zap.String("task_id", taskID),
		zap.String("status", result.TaskStatus),
	)
	return result, nil
}

// applyStart 任务启动：启动规则 + 实际开始时间 + 父运行联动
func (s *ProductionRunService) applyStart(tx *gorm.DB, repos *repository.Repositories, run, task *entity.ProductionRun, reason, actor string, now time.Time) error {
	rollup, err := s.sequencer.WithTx(tx).Rollup(run)
	if err != nil {
		return err
	}
	flags := rollup.Task(task.ID)
	if flags == nil || !flags.CanStartTask {
		if rollup.BomReservationInProgress {
			return fmt.Errorf("%w: 组件预留尚未发料，任务不可启动", ErrStateTransition)
		}
		return fmt.Errorf("%w: 前序任务未完工或组件未发料，任务不可启动", ErrStateTransition)
	}

	if task.ActualStartDate == nil {
		task.ActualStartDate = &now
	}
	if err := s.status.ValidateAndApply(tx, task, entity.StatusRunning, reason, actor); err != nil {
		return err
	}

	// 父运行未推进到 RUNNING 之后的状态时才联动
	switch run.StatusID {
	case entity.StatusCreated, entity.StatusScheduled, entity.StatusConfirmed:
		if run.ActualStartDate == nil {
			run.ActualStartDate = &now
		}
		if err := s.status.ValidateAndApply(tx, run, entity.StatusRunning, reason, actor); err != nil {
			return err
		}
	}
	return nil
}

// applyCompletion 任务完工：可选发料、增量累加、成本核算、末任务汇总
func (s *ProductionRunService) applyCompletion(tx *gorm.DB, repos *repository.Repositories, run, task *entity.ProductionRun, req ChangeTaskStatusRequest, actor string, now time.Time) error {
	if req.IssueAllComponents {
		if _, err := s.issuance.issueInTx(tx, task, IssueOptions{Actor: actor}); err != nil {
			return err
		}
	}

	task.QtyProduced += req.AddQtyProduced
	task.QtyRejected += req.AddQtyRejected
	task.ActualMillis += req.AddMillis
	task.ActualSetupMillis += req.AddSetupMillis
	task.ActualCompletionDate = &now

	if err := s.status.ValidateAndApply(tx, task, entity.StatusCompleted, req.Reason, actor); err != nil {
		return err
	}

	if err := s.recordActualCost(repos, run, task); err != nil {
		return err
	}

	tasks, err := repos.Run.ListTasks(run.ID)
	if err != nil {
		return err
	}
	if s.sequencer.IsFinalTask(task, tasks) {
		run.QtyProduced = task.QtyProduced
		run.QtyRejected = task.QtyRejected
		run.ActualCompletionDate = &now
		if err := s.status.ValidateAndApply(tx, run, entity.StatusCompleted, req.Reason, actor); err != nil {
			return err
		}
	}
	return nil
}

// recordActualCost 实际成本 = 已发组件成本 + 工时费率×实际工时
func (s *ProductionRunService) recordActualCost(repos *repository.Repositories, run, task *entity.ProductionRun) error {
	material, err := repos.Component.MaterialCostByTask(task.ID)
	if err != nil {
		return err
	}
	materialCost := decimal.NewFromFloat(material)

	rate, currency := s.costs.LaborRatePerHour(run.ProductID)
	hours := decimal.NewFromInt(task.ActualMillis + task.ActualSetupMillis).
		Div(decimal.NewFromInt(3600000))
	laborCost := rate.Mul(hours)

	if materialCost.IsPositive() {
		if err := repos.Cost.CreateEntry(&entity.CostEntry{
			ID:       s.seq.NewID(),
			RunID:    run.ID,
			TaskID:   task.ID,
			CostType: entity.CostTypeMaterial,
			Amount:   materialCost,
			Currency: currency,
		}); err != nil {
			return fmt.Errorf("写入物料成本失败: %w", err)
		}
	}
	if laborCost.IsPositive() {
		if err := repos.Cost.CreateEntry(&entity.CostEntry{
			ID:       s.seq.NewID(),
			RunID:    run.ID,
			TaskID:   task.ID,
			CostType: entity.CostTypeLabor,
			Amount:   laborCost,
			Currency: currency,
		}); err != nil {
			return fmt.Errorf("写入工时成本失败: %w", err)
		}
	}
	return nil
}

// RunDetail 运行详情：运行、任务与重算的能力标志
type RunDetail struct {
	Run    *entity.ProductionRun  `json:"run"`
	Tasks  []entity.ProductionRun `json:"tasks"`
	Rollup *RunRollup             `json:"rollup"`
}

func (s *ProductionRunService) GetDetail(runID string) (*RunDetail, error) {
	run, err := s.repos.Run.GetRun(runID)
	if err != nil {
		return nil, notFound(err, "生产运行 %s", runID)
	}
	tasks, err := s.repos.Run.ListTasks(runID)
	if err != nil {
		return nil, err
	}
	rollup, err := s.sequencer.Rollup(run)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: run, Tasks: tasks, Rollup: rollup}, nil
}

func (s *ProductionRunService) List(params repository.RunListParams) ([]entity.ProductionRun, int64, error) {
	return s.repos.Run.List(params)
}

func (s *ProductionRunService) StatusHistory(runID string) ([]entity.StatusHistory, error) {
	if _, err := s.repos.Run.GetRun(runID); err != nil {
		return nil, notFound(err, "生产运行 %s", runID)
	}
	return s.repos.Run.ListStatusHistory(runID)
}

func (s *ProductionRunService) Costs(runID string) ([]entity.CostEntry, error) {
	if _, err := s.repos.Run.GetRun(runID); err != nil {
		return nil, notFound(err, "生产运行 %s", runID)
	}
	return s.repos.Cost.ListByRun(runID)
}
