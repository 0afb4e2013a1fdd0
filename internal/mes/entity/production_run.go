package entity

import (
	"time"
)

// RunType 生产运行类型：运行本体与工序任务共用一张表，按类型区分
const (
	RunTypeProduction = "PROD_RUN"  // 生产运行（工单本体）
	RunTypeTask       = "ROUT_TASK" // 工艺路线任务
)

// RunStatus 生产运行/任务状态
const (
	StatusCreated   = "CREATED"
	StatusScheduled = "SCHEDULED"
	StatusConfirmed = "CONFIRMED"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusClosed    = "CLOSED"
	StatusCancelled = "CANCELLED"
)

// StatusLabel 状态显示名（所有调用方共用，不在各处写switch）
var StatusLabel = map[string]string{
	StatusCreated:   "已创建",
	StatusScheduled: "已排程",
	StatusConfirmed: "已确认",
	StatusRunning:   "执行中",
	StatusCompleted: "已完工",
	StatusClosed:    "已关闭",
	StatusCancelled: "已取消",
}

// ProductionRun 生产运行 / 工艺任务
// Type=PROD_RUN 时为运行本体；Type=ROUT_TASK 时 ParentID 指向所属运行，
// Priority 为任务在运行内的执行顺序。状态驱动生命周期，不做物理删除。
type ProductionRun struct {
	ID                      string     `json:"id" gorm:"primaryKey;type:uuid"`
	RunCode                 string     `json:"run_code" gorm:"size:50;index"`
	ParentID                string     `json:"parent_id" gorm:"type:uuid;index"`
	Type                    string     `json:"type" gorm:"size:20;not null;index"`
	Name                    string     `json:"name" gorm:"size:128"`
	Priority                int        `json:"priority" gorm:"default:0"`
	ProductID               string     `json:"product_id" gorm:"size:32;index"`
	ProductCode             string     `json:"product_code" gorm:"size:64"`
	ProductName             string     `json:"product_name" gorm:"size:128"`
	FacilityID              string     `json:"facility_id" gorm:"size:32"`
	FixedAssetID            string     `json:"fixed_asset_id" gorm:"size:32"`
	StatusID                string     `json:"status_id" gorm:"size:20;not null;default:CREATED;index"`
	QtyToProduce            float64    `json:"qty_to_produce" gorm:"type:decimal(12,4);default:0"`
	QtyProduced             float64    `json:"qty_produced" gorm:"type:decimal(12,4);default:0"`
	QtyRejected             float64    `json:"qty_rejected" gorm:"type:decimal(12,4);default:0"`
	EstimatedStartDate      *time.Time `json:"estimated_start_date"`
	EstimatedCompletionDate *time.Time `json:"estimated_completion_date"`
	ActualStartDate         *time.Time `json:"actual_start_date"`
	ActualCompletionDate    *time.Time `json:"actual_completion_date"`
	EstimatedMillis         int64      `json:"estimated_millis" gorm:"default:0"`
	EstimatedSetupMillis    int64      `json:"estimated_setup_millis" gorm:"default:0"`
	ActualMillis            int64      `json:"actual_millis" gorm:"default:0"`
	ActualSetupMillis       int64      `json:"actual_setup_millis" gorm:"default:0"`
	StatusUpdatedAt         *time.Time `json:"status_updated_at"`
	Revision                int64      `json:"revision" gorm:"default:1"`
	CreatedBy               string     `json:"created_by" gorm:"size:64"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
	DeletedAt               *time.Time `json:"deleted_at" gorm:"index"`

	Tasks []ProductionRun `json:"tasks,omitempty" gorm:"foreignKey:ParentID"`
}

func (ProductionRun) TableName() string {
	return "mes_production_runs"
}

// IsTask 是否为工艺任务
func (r *ProductionRun) IsTask() bool {
	return r.Type == RunTypeTask
}

// StatusHistory 状态变更历史，只追加不修改
type StatusHistory struct {
	ID        string    `json:"id" gorm:"primaryKey;type:uuid"`
	RunID     string    `json:"run_id" gorm:"type:uuid;not null;index"`
	StatusID  string    `json:"status_id" gorm:"size:20;not null"`
	Reason    string    `json:"reason" gorm:"type:text"`
	ChangedBy string    `json:"changed_by" gorm:"size:64"`
	ChangedAt time.Time `json:"changed_at"`
}

func (StatusHistory) TableName() string {
	return "mes_status_history"
}

// StatusTransition 状态流转参照表（只读参照数据）
type StatusTransition struct {
	ID         string `json:"id" gorm:"primaryKey;type:uuid"`
	FromStatus string `json:"from_status" gorm:"size:20;not null;uniqueIndex:idx_mes_transition_edge"`
	ToStatus   string `json:"to_status" gorm:"size:20;not null;uniqueIndex:idx_mes_transition_edge"`
}

func (StatusTransition) TableName() string {
	return "mes_status_transitions"
}
