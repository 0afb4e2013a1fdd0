package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ComponentType 任务-产品关联类型
const (
	ComponentTypeNeeded    = "NEEDED"    // 任务消耗的组件
	ComponentTypeDelivered = "DELIVERED" // 任务产出的产品
)

// ComponentStatus 组件需求状态（仅 NEEDED 类型使用）
const (
	ComponentStatusNeeded = "NEEDED"
	ComponentStatusIssued = "ISSUED"
)

// ComponentAssignment 任务与产品的关联：组件需求或产出定义
// 需求在运行创建时生成；未指明任务的需求挂到首任务。
type ComponentAssignment struct {
	ID           string     `json:"id" gorm:"primaryKey;type:uuid"`
	RunID        string     `json:"run_id" gorm:"type:uuid;not null;index"`
	TaskID       string     `json:"task_id" gorm:"type:uuid;not null;index"`
	Type         string     `json:"type" gorm:"size:20;not null;default:NEEDED"`
	ProductID    string     `json:"product_id" gorm:"size:32;not null;index"`
	ProductCode  string     `json:"product_code" gorm:"size:64"`
	ProductName  string     `json:"product_name" gorm:"size:128"`
	EstimatedQty float64    `json:"estimated_qty" gorm:"type:decimal(12,4);not null"`
	StatusID     string     `json:"status_id" gorm:"size:20;default:NEEDED"`
	FromDate     *time.Time `json:"from_date"`
	ThruDate     *time.Time `json:"thru_date"`
	FacilityID   string     `json:"facility_id" gorm:"size:32"`
	LocationID   string     `json:"location_id" gorm:"size:32"`
	LotID        string     `json:"lot_id" gorm:"size:50"`
	Unit         string     `json:"unit" gorm:"size:20;not null;default:pcs"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (ComponentAssignment) TableName() string {
	return "mes_task_components"
}

// EffectiveAt 需求在给定时间是否处于有效期窗口内
func (c *ComponentAssignment) EffectiveAt(t time.Time) bool {
	if c.FromDate != nil && c.FromDate.After(t) {
		return false
	}
	if c.ThruDate != nil && c.ThruDate.Before(t) {
		return false
	}
	return true
}

// Reservation 库存软占用：为任务的组件需求预留数量，尚未实际出库
type Reservation struct {
	ID              string    `json:"id" gorm:"primaryKey;type:uuid"`
	TaskID          string    `json:"task_id" gorm:"type:uuid;not null;uniqueIndex:idx_mes_reservation_key"`
	ProductID       string    `json:"product_id" gorm:"size:32;not null;uniqueIndex:idx_mes_reservation_key"`
	InventoryItemID string    `json:"inventory_item_id" gorm:"type:uuid"`
	Quantity        float64   `json:"quantity" gorm:"type:decimal(12,4);not null;default:0"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (Reservation) TableName() string {
	return "mes_reservations"
}

// Issuance 组件发料记录。Quantity 为正表示发料，为负表示退料，
// 退料作为新记录追加，不修改原记录。
type Issuance struct {
	ID              string          `json:"id" gorm:"primaryKey;type:uuid"`
	RunID           string          `json:"run_id" gorm:"type:uuid;not null;index"`
	TaskID          string          `json:"task_id" gorm:"type:uuid;not null;index"`
	ProductID       string          `json:"product_id" gorm:"size:32;not null;index"`
	InventoryItemID string          `json:"inventory_item_id" gorm:"type:uuid;not null"`
	LotID           string          `json:"lot_id" gorm:"size:50"`
	Quantity        float64         `json:"quantity" gorm:"type:decimal(12,4);not null"`
	UnitCost        decimal.Decimal `json:"unit_cost" gorm:"type:decimal(12,4);default:0"`
	IssuedBy        string          `json:"issued_by" gorm:"size:64"`
	IssuedAt        time.Time       `json:"issued_at"`
}

func (Issuance) TableName() string {
	return "mes_issuances"
}
