package repository

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

type CostRepository struct {
	db *gorm.DB
}

func NewCostRepository(db *gorm.DB) *CostRepository {
	return &CostRepository{db: db}
}

// WithTx 返回绑定到事务的仓库
func (r *CostRepository) WithTx(tx *gorm.DB) *CostRepository {
	return &CostRepository{db: tx}
}

func (r *CostRepository) CreateEntry(e *entity.CostEntry) error {
	return r.db.Create(e).Error
}

func (r *CostRepository) ListByRun(runID string) ([]entity.CostEntry, error) {
	var rows []entity.CostEntry
	err := r.db.Where("run_id = ?", runID).Order("created_at ASC").Find(&rows).Error
	return rows, err
}

// GetProductCost 查询产品标准成本，未配置返回 ErrNotFound
func (r *CostRepository) GetProductCost(productID string) (*entity.ProductCost, error) {
	var pc entity.ProductCost
	err := r.db.Where("product_id = ?", productID).First(&pc).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &pc, nil
}

func (r *CostRepository) UpsertProductCost(pc *entity.ProductCost) error {
	return r.db.Save(pc).Error
}

func (r *CostRepository) CreateLedgerEntry(e *entity.LedgerEntry) error {
	return r.db.Create(e).Error
}

func (r *CostRepository) ListLedgerByReference(refType, refID string) ([]entity.LedgerEntry, error) {
	var rows []entity.LedgerEntry
	err := r.db.Where("reference_type = ? AND reference_id = ?", refType, refID).
		Order("posted_at ASC").Find(&rows).Error
	return rows, err
}

// DB 返回底层db用于事务
func (r *CostRepository) DB() *gorm.DB {
	return r.db
}
