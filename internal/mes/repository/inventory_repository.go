package repository

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

type InventoryRepository struct {
	db *gorm.DB
}

func NewInventoryRepository(db *gorm.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// WithTx 返回绑定到事务的仓库
func (r *InventoryRepository) WithTx(tx *gorm.DB) *InventoryRepository {
	return &InventoryRepository{db: tx}
}

func (r *InventoryRepository) Create(item *entity.InventoryItem) error {
	return r.db.Create(item).Error
}

func (r *InventoryRepository) GetByID(id string) (*entity.InventoryItem, error) {
	var item entity.InventoryItem
	err := r.db.Where("id = ?", id).First(&item).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &item, nil
}

// FindAvailable 查找产品可用库存项，先入库的排前面。
// facilityID 必填；locationID / lotID 为空表示不限定。
func (r *InventoryRepository) FindAvailable(productID, facilityID, locationID, lotID string) ([]entity.InventoryItem, error) {
	query := r.db.Where("product_id = ? AND available_to_promise > 0", productID)
	if facilityID != "" {
		query = query.Where("facility_id = ?", facilityID)
	}
	if locationID != "" {
		query = query.Where("location_id = ?", locationID)
	}
	if lotID != "" {
		query = query.Where("lot_id = ?", lotID)
	}
	var items []entity.InventoryItem
	err := query.Order("received_at ASC, created_at ASC").Find(&items).Error
	return items, err
}

// TotalATP 产品在指定设施的可承诺总量
func (r *InventoryRepository) TotalATP(productID, facilityID string) (float64, error) {
	var result struct{ Total float64 }
	query := `
		SELECT COALESCE(SUM(available_to_promise), 0) as total
		FROM mes_inventory_items
		WHERE product_id = ?`
	args := []interface{}{productID}
	if facilityID != "" {
		query += " AND facility_id = ?"
		args = append(args, facilityID)
	}
	err := r.db.Raw(query, args...).Scan(&result).Error
	return result.Total, err
}

// AdjustQuantities 原子增减库存项的在库量与可承诺量。
// 扣减（delta为负）时带非负守卫，余额不足返回 ErrConflict。
func (r *InventoryRepository) AdjustQuantities(id string, deltaQOH, deltaATP float64) error {
	query := r.db.Model(&entity.InventoryItem{}).Where("id = ?", id)
	if deltaQOH < 0 {
		query = query.Where("quantity_on_hand + ? >= 0", deltaQOH)
	}
	if deltaATP < 0 {
		query = query.Where("available_to_promise + ? >= 0", deltaATP)
	}
	res := query.Updates(map[string]interface{}{
		"quantity_on_hand":     gorm.Expr("quantity_on_hand + ?", deltaQOH),
		"available_to_promise": gorm.Expr("available_to_promise + ?", deltaATP),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

type InventoryListParams struct {
	ProductID  string
	FacilityID string
	LotID      string
	Keyword    string
	Page       int
	Size       int
}

func (r *InventoryRepository) List(params InventoryListParams) ([]entity.InventoryItem, int64, error) {
	query := r.db.Model(&entity.InventoryItem{})
	if params.ProductID != "" {
		query = query.Where("product_id = ?", params.ProductID)
	}
	if params.FacilityID != "" {
		query = query.Where("facility_id = ?", params.FacilityID)
	}
	if params.LotID != "" {
		query = query.Where("lot_id = ?", params.LotID)
	}
	if params.Keyword != "" {
		kw := "%" + params.Keyword + "%"
		query = query.Where("product_code ILIKE ? OR product_name ILIKE ?", kw, kw)
	}
	var total int64
	query.Count(&total)
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.Size <= 0 {
		params.Size = 20
	}
	var items []entity.InventoryItem
	err := query.Order("updated_at DESC").
		Offset((params.Page - 1) * params.Size).Limit(params.Size).
		Find(&items).Error
	return items, total, err
}

// GetByProduct 获取某产品全部库存项
func (r *InventoryRepository) GetByProduct(productID string) ([]entity.InventoryItem, error) {
	var items []entity.InventoryItem
	err := r.db.Where("product_id = ?", productID).
		Order("received_at ASC").Find(&items).Error
	return items, err
}

// CreateLink 创建成品溯源记录
func (r *InventoryRepository) CreateLink(link *entity.ProducedInventoryLink) error {
	return r.db.Create(link).Error
}

func (r *InventoryRepository) ListLinks(runID string) ([]entity.ProducedInventoryLink, error) {
	var links []entity.ProducedInventoryLink
	err := r.db.Where("run_id = ?", runID).Order("created_at ASC").Find(&links).Error
	return links, err
}

// DeclaredQty 运行已申报入库的数量合计
func (r *InventoryRepository) DeclaredQty(runID string) (float64, error) {
	var result struct{ Total float64 }
	err := r.db.Raw(`
		SELECT COALESCE(SUM(quantity), 0) as total
		FROM mes_produced_inventory
		WHERE run_id = ?
	`, runID).Scan(&result).Error
	return result.Total, err
}

// DB 返回底层db用于事务
func (r *InventoryRepository) DB() *gorm.DB {
	return r.db
}
