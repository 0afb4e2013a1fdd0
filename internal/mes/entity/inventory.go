package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// InventoryItem 库存项。QuantityOnHand 为在库数量，
// AvailableToPromise 为可承诺数量（在库减去占用）。
type InventoryItem struct {
	ID                 string          `json:"id" gorm:"primaryKey;type:uuid"`
	ProductID          string          `json:"product_id" gorm:"size:32;not null;index"`
	ProductCode        string          `json:"product_code" gorm:"size:64"`
	ProductName        string          `json:"product_name" gorm:"size:128"`
	FacilityID         string          `json:"facility_id" gorm:"size:32;not null;index"`
	LocationID         string          `json:"location_id" gorm:"size:32"`
	LotID              string          `json:"lot_id" gorm:"size:50;index"`
	QuantityOnHand     float64         `json:"quantity_on_hand" gorm:"type:decimal(12,4);not null;default:0"`
	AvailableToPromise float64         `json:"available_to_promise" gorm:"type:decimal(12,4);not null;default:0"`
	UnitCost           decimal.Decimal `json:"unit_cost" gorm:"type:decimal(12,4);default:0"`
	Unit               string          `json:"unit" gorm:"size:20;not null;default:pcs"`
	ReceivedAt         time.Time       `json:"received_at"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (InventoryItem) TableName() string {
	return "mes_inventory_items"
}

// ProducedInventoryLink 成品库存溯源：记录库存项由哪个运行/任务产出
type ProducedInventoryLink struct {
	ID              string    `json:"id" gorm:"primaryKey;type:uuid"`
	RunID           string    `json:"run_id" gorm:"type:uuid;not null;index"`
	TaskID          string    `json:"task_id" gorm:"type:uuid;not null"`
	InventoryItemID string    `json:"inventory_item_id" gorm:"type:uuid;not null;index"`
	Quantity        float64   `json:"quantity" gorm:"type:decimal(12,4);not null"`
	CreatedAt       time.Time `json:"created_at"`
}

func (ProducedInventoryLink) TableName() string {
	return "mes_produced_inventory"
}

// CostType 成本类型
const (
	CostTypeMaterial = "MATERIAL"
	CostTypeLabor    = "LABOR"
)

// CostEntry 任务完工时核算出的实际成本记录
type CostEntry struct {
	ID        string          `json:"id" gorm:"primaryKey;type:uuid"`
	RunID     string          `json:"run_id" gorm:"type:uuid;not null;index"`
	TaskID    string          `json:"task_id" gorm:"type:uuid;not null;index"`
	CostType  string          `json:"cost_type" gorm:"size:20;not null"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:decimal(14,4);not null"`
	Currency  string          `json:"currency" gorm:"size:10;not null;default:CNY"`
	CreatedAt time.Time       `json:"created_at"`
}

func (CostEntry) TableName() string {
	return "mes_cost_entries"
}

// LedgerEntry 成品入库的记账凭证，由记账协作方写入，引擎本身不关心其内容
type LedgerEntry struct {
	ID            string          `json:"id" gorm:"primaryKey;type:uuid"`
	DebitAccount  string          `json:"debit_account" gorm:"size:20;not null"`
	CreditAccount string          `json:"credit_account" gorm:"size:20;not null"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(14,4);not null"`
	Currency      string          `json:"currency" gorm:"size:10;not null;default:CNY"`
	ReferenceType string          `json:"reference_type" gorm:"size:20;not null"`
	ReferenceID   string          `json:"reference_id" gorm:"size:64;not null"`
	ReferenceCode string          `json:"reference_code" gorm:"size:50"`
	Notes         string          `json:"notes" gorm:"type:text"`
	PostedBy      string          `json:"posted_by" gorm:"size:64"`
	PostedAt      time.Time       `json:"posted_at"`
}

func (LedgerEntry) TableName() string {
	return "mes_ledger_entries"
}

// ProductCost 产品标准成本与工时费率，成本服务的后备数据
type ProductCost struct {
	ProductID        string          `json:"product_id" gorm:"primaryKey;size:32"`
	StandardCost     decimal.Decimal `json:"standard_cost" gorm:"type:decimal(14,4);default:0"`
	LaborRatePerHour decimal.Decimal `json:"labor_rate_per_hour" gorm:"type:decimal(14,4);default:0"`
	Currency         string          `json:"currency" gorm:"size:10;not null;default:CNY"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (ProductCost) TableName() string {
	return "mes_product_costs"
}
