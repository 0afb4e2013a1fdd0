package repository

import (
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

type ComponentRepository struct {
	db *gorm.DB
}

func NewComponentRepository(db *gorm.DB) *ComponentRepository {
	return &ComponentRepository{db: db}
}

// WithTx 返回绑定到事务的仓库
func (r *ComponentRepository) WithTx(tx *gorm.DB) *ComponentRepository {
	return &ComponentRepository{db: tx}
}

func (r *ComponentRepository) Create(c *entity.ComponentAssignment) error {
	return r.db.Create(c).Error
}

func (r *ComponentRepository) BatchCreate(cs []entity.ComponentAssignment) error {
	if len(cs) == 0 {
		return nil
	}
	return r.db.Create(&cs).Error
}

// ListNeeds 列出任务的组件需求
func (r *ComponentRepository) ListNeeds(taskID string) ([]entity.ComponentAssignment, error) {
	var needs []entity.ComponentAssignment
	err := r.db.Where("task_id = ? AND type = ?", taskID, entity.ComponentTypeNeeded).
		Order("created_at ASC").Find(&needs).Error
	return needs, err
}

// ListNeedsByRun 列出整个运行的组件需求
func (r *ComponentRepository) ListNeedsByRun(runID string) ([]entity.ComponentAssignment, error) {
	var needs []entity.ComponentAssignment
	err := r.db.Where("run_id = ? AND type = ?", runID, entity.ComponentTypeNeeded).
		Order("created_at ASC").Find(&needs).Error
	return needs, err
}

// ListDeliverables 列出运行的产出定义
func (r *ComponentRepository) ListDeliverables(runID string) ([]entity.ComponentAssignment, error) {
	var outs []entity.ComponentAssignment
	err := r.db.Where("run_id = ? AND type = ?", runID, entity.ComponentTypeDelivered).
		Order("created_at ASC").Find(&outs).Error
	return outs, err
}

// UpdateNeedStatus 更新需求状态（NEEDED / ISSUED）
func (r *ComponentRepository) UpdateNeedStatus(id, statusID string) error {
	return r.db.Model(&entity.ComponentAssignment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status_id": statusID, "updated_at": time.Now()}).Error
}

// GetReservation 获取(任务,产品)的预留记录
func (r *ComponentRepository) GetReservation(taskID, productID string) (*entity.Reservation, error) {
	var res entity.Reservation
	err := r.db.Where("task_id = ? AND product_id = ?", taskID, productID).First(&res).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &res, nil
}

func (r *ComponentRepository) ListReservations(taskID string) ([]entity.Reservation, error) {
	var rows []entity.Reservation
	err := r.db.Where("task_id = ? AND quantity > 0", taskID).Find(&rows).Error
	return rows, err
}

func (r *ComponentRepository) CreateReservation(res *entity.Reservation) error {
	return r.db.Create(res).Error
}

// AddReservationQty 原子累加预留数量，结果不允许为负
func (r *ComponentRepository) AddReservationQty(taskID, productID string, delta float64) error {
	return r.db.Model(&entity.Reservation{}).
		Where("task_id = ? AND product_id = ?", taskID, productID).
		Updates(map[string]interface{}{
			"quantity":   gorm.Expr("GREATEST(quantity + ?, 0)", delta),
			"updated_at": time.Now(),
		}).Error
}

// ConsumeReservation 发料时扣减预留，最低扣到零
func (r *ComponentRepository) ConsumeReservation(taskID, productID string, qty float64) error {
	return r.db.Model(&entity.Reservation{}).
		Where("task_id = ? AND product_id = ?", taskID, productID).
		Updates(map[string]interface{}{
			"quantity":   gorm.Expr("GREATEST(quantity - ?, 0)", qty),
			"updated_at": time.Now(),
		}).Error
}

func (r *ComponentRepository) CreateIssuance(iss *entity.Issuance) error {
	return r.db.Create(iss).Error
}

func (r *ComponentRepository) ListIssuances(taskID string) ([]entity.Issuance, error) {
	var rows []entity.Issuance
	err := r.db.Where("task_id = ?", taskID).Order("issued_at ASC, id ASC").Find(&rows).Error
	return rows, err
}

// SumIssuedNet (任务,产品)的净发料量：发料为正、退料为负的代数和
func (r *ComponentRepository) SumIssuedNet(taskID, productID string) (float64, error) {
	var result struct{ Total float64 }
	err := r.db.Raw(`
		SELECT COALESCE(SUM(quantity), 0) as total
		FROM mes_issuances
		WHERE task_id = ? AND product_id = ?
	`, taskID, productID).Scan(&result).Error
	return result.Total, err
}

// SumIssuedGross (任务,产品,批次)的累计发料量（不含退料）。
// 批次为空表示不限定批次，跨批次合计
func (r *ComponentRepository) SumIssuedGross(taskID, productID, lotID string) (float64, error) {
	var result struct{ Total float64 }
	query := r.db.Model(&entity.Issuance{}).
		Select("COALESCE(SUM(quantity), 0) as total").
		Where("task_id = ? AND product_id = ? AND quantity > 0", taskID, productID)
	if lotID != "" {
		query = query.Where("lot_id = ?", lotID)
	}
	err := query.Scan(&result).Error
	return result.Total, err
}

// SumReturned (任务,产品,批次)的累计退料量（取正值）。批次为空表示不限定批次
func (r *ComponentRepository) SumReturned(taskID, productID, lotID string) (float64, error) {
	var result struct{ Total float64 }
	query := r.db.Model(&entity.Issuance{}).
		Select("COALESCE(-SUM(quantity), 0) as total").
		Where("task_id = ? AND product_id = ? AND quantity < 0", taskID, productID)
	if lotID != "" {
		query = query.Where("lot_id = ?", lotID)
	}
	err := query.Scan(&result).Error
	return result.Total, err
}

// CountPositiveIssuances 任务已发出的发料记录数（不含退料）
func (r *ComponentRepository) CountPositiveIssuances(taskID string) (int64, error) {
	var count int64
	err := r.db.Model(&entity.Issuance{}).
		Where("task_id = ? AND quantity > 0", taskID).Count(&count).Error
	return count, err
}

// CountIssuancesByRun 运行下的发料记录数（含退料）
func (r *ComponentRepository) CountIssuancesByRun(runID string) (int64, error) {
	var count int64
	err := r.db.Model(&entity.Issuance{}).Where("run_id = ?", runID).Count(&count).Error
	return count, err
}

// IssuedItemBalance 某库存项上的净发料余额，用于退料时按先发先退回冲
type IssuedItemBalance struct {
	InventoryItemID string
	Net             float64
}

// ListIssuedItemBalances (任务,产品,批次)按库存项汇总的净发料余额，
// 仅返回余额为正的项，按最早发料时间排序。批次为空表示不限定批次
func (r *ComponentRepository) ListIssuedItemBalances(taskID, productID, lotID string) ([]IssuedItemBalance, error) {
	var rows []IssuedItemBalance
	query := r.db.Model(&entity.Issuance{}).
		Select("inventory_item_id, SUM(quantity) as net").
		Where("task_id = ? AND product_id = ?", taskID, productID)
	if lotID != "" {
		query = query.Where("lot_id = ?", lotID)
	}
	err := query.Group("inventory_item_id").
		Having("SUM(quantity) > 0").
		Order("MIN(issued_at) ASC").
		Scan(&rows).Error
	return rows, err
}

// MaterialCostByTask 任务的净物料成本（发料减退料，按各自单价计）
func (r *ComponentRepository) MaterialCostByTask(taskID string) (float64, error) {
	var result struct{ Total float64 }
	err := r.db.Raw(`
		SELECT COALESCE(SUM(quantity * unit_cost), 0) as total
		FROM mes_issuances
		WHERE task_id = ?
	`, taskID).Scan(&result).Error
	return result.Total, err
}

// DB 返回底层db用于事务
func (r *ComponentRepository) DB() *gorm.DB {
	return r.db
}
