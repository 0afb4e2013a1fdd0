package repository

import (
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// WithTx 返回绑定到事务的仓库
func (r *RunRepository) WithTx(tx *gorm.DB) *RunRepository {
	return &RunRepository{db: tx}
}

func (r *RunRepository) Create(run *entity.ProductionRun) error {
	return r.db.Create(run).Error
}

// GetRun 获取生产运行本体
func (r *RunRepository) GetRun(id string) (*entity.ProductionRun, error) {
	var run entity.ProductionRun
	err := r.db.Where("id = ? AND type = ? AND deleted_at IS NULL", id, entity.RunTypeProduction).
		First(&run).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &run, nil
}

// GetTask 获取工艺任务
func (r *RunRepository) GetTask(id string) (*entity.ProductionRun, error) {
	var task entity.ProductionRun
	err := r.db.Where("id = ? AND type = ? AND deleted_at IS NULL", id, entity.RunTypeTask).
		First(&task).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &task, nil
}

// ListTasks 按优先级升序列出运行的全部任务
func (r *RunRepository) ListTasks(runID string) ([]entity.ProductionRun, error) {
	var tasks []entity.ProductionRun
	err := r.db.Where("parent_id = ? AND type = ? AND deleted_at IS NULL", runID, entity.RunTypeTask).
		Order("priority ASC, created_at ASC").
		Find(&tasks).Error
	return tasks, err
}

type RunListParams struct {
	Status    string
	ProductID string
	Keyword   string
	Page      int
	Size      int
}

func (r *RunRepository) List(params RunListParams) ([]entity.ProductionRun, int64, error) {
	query := r.db.Model(&entity.ProductionRun{}).
		Where("type = ? AND deleted_at IS NULL", entity.RunTypeProduction)
	if params.Status != "" {
		query = query.Where("status_id = ?", params.Status)
	}
	if params.ProductID != "" {
		query = query.Where("product_id = ?", params.ProductID)
	}
	if params.Keyword != "" {
		kw := "%" + params.Keyword + "%"
		query = query.Where("run_code ILIKE ? OR name ILIKE ? OR product_name ILIKE ?", kw, kw, kw)
	}
	var total int64
	query.Count(&total)
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.Size <= 0 {
		params.Size = 20
	}
	var runs []entity.ProductionRun
	err := query.Order("created_at DESC").
		Offset((params.Page - 1) * params.Size).Limit(params.Size).
		Find(&runs).Error
	return runs, total, err
}

// 可变字段的封闭集合。任何状态变更/完工核算只允许写这些列，
// 新增可变字段时必须同时加到这里。
var runMutableColumns = []string{
	"status_id",
	"status_updated_at",
	"qty_produced",
	"qty_rejected",
	"actual_start_date",
	"actual_completion_date",
	"actual_millis",
	"actual_setup_millis",
	"revision",
	"updated_at",
}

// UpdateMutable 带乐观并发检查的更新：仅当数据库中的 revision
// 仍等于读取时的值才生效，同时把 revision 加一。
// 版本不匹配返回 ErrConflict。
func (r *RunRepository) UpdateMutable(run *entity.ProductionRun) error {
	prev := run.Revision
	run.Revision = prev + 1
	run.UpdatedAt = time.Now()
	res := r.db.Model(&entity.ProductionRun{}).
		Where("id = ? AND revision = ?", run.ID, prev).
		Select(runMutableColumns).
		Updates(run)
	if res.Error != nil {
		run.Revision = prev
		return res.Error
	}
	if res.RowsAffected == 0 {
		run.Revision = prev
		return ErrConflict
	}
	return nil
}

// CreateStatusHistory 追加状态历史
func (r *RunRepository) CreateStatusHistory(h *entity.StatusHistory) error {
	return r.db.Create(h).Error
}

func (r *RunRepository) ListStatusHistory(runID string) ([]entity.StatusHistory, error) {
	var rows []entity.StatusHistory
	err := r.db.Where("run_id = ?", runID).Order("changed_at ASC, id ASC").Find(&rows).Error
	return rows, err
}

// TransitionAllowed 检查状态流转边是否在参照表中
func (r *RunRepository) TransitionAllowed(fromStatus, toStatus string) (bool, error) {
	var count int64
	err := r.db.Model(&entity.StatusTransition{}).
		Where("from_status = ? AND to_status = ?", fromStatus, toStatus).
		Count(&count).Error
	return count > 0, err
}

// DB 返回底层db用于事务
func (r *RunRepository) DB() *gorm.DB {
	return r.db
}
