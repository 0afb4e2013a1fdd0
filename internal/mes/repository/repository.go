package repository

import (
	"errors"

	"gorm.io/gorm"
)

// 错误定义
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("revision conflict")
)

// Repositories MES 仓库集合
type Repositories struct {
	Run       *RunRepository
	Component *ComponentRepository
	Inventory *InventoryRepository
	Cost      *CostRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Run:       NewRunRepository(db),
		Component: NewComponentRepository(db),
		Inventory: NewInventoryRepository(db),
		Cost:      NewCostRepository(db),
	}
}

// WithTx 返回绑定到事务的仓库集合
func (r *Repositories) WithTx(tx *gorm.DB) *Repositories {
	return NewRepositories(tx)
}

func translateErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
