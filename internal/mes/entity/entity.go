package entity

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AutoMigrate 自动迁移所有MES表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		// 生产运行与状态机
		&ProductionRun{},
		&StatusHistory{},
		&StatusTransition{},

		// 组件与发料
		&ComponentAssignment{},
		&Reservation{},
		&Issuance{},

		// 库存
		&InventoryItem{},
		&ProducedInventoryLink{},

		// 成本与记账
		&CostEntry{},
		&LedgerEntry{},
		&ProductCost{},
	)
}

// 状态流转参照边。COMPLETED→CLOSED 为归档；
// CANCELLED 仅在执行开始前可达，RUNNING 之后不允许取消。
var transitionSeed = [][2]string{
	{StatusCreated, StatusScheduled},
	{StatusCreated, StatusConfirmed},
	{StatusCreated, StatusRunning},
	{StatusCreated, StatusCancelled},
	{StatusScheduled, StatusConfirmed},
	{StatusScheduled, StatusRunning},
	{StatusScheduled, StatusCancelled},
	{StatusConfirmed, StatusRunning},
	{StatusConfirmed, StatusCancelled},
	{StatusRunning, StatusCompleted},
	{StatusCompleted, StatusClosed},
}

// SeedStatusTransitions 写入状态流转参照表，可重复执行
func SeedStatusTransitions(db *gorm.DB) error {
	for _, edge := range transitionSeed {
		t := StatusTransition{
			ID:         uuid.New().String(),
			FromStatus: edge[0],
			ToStatus:   edge[1],
		}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "from_status"}, {Name: "to_status"}},
			DoNothing: true,
		}).Create(&t).Error; err != nil {
			return err
		}
	}
	return nil
}
