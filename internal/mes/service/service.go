package service

import (
	"github.com/bitfantasy/nimo-mes/internal/config"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services MES 服务集合
type Services struct {
	Run         *ProductionRunService
	Reservation *ReservationService
	Issuance    *IssuanceService
	Declare     *DeclareService
	Return      *ReturnService
	Inventory   *InventoryService
}

// NewServices 创建服务集合。rdb 可以为 nil，序列号会退化为时间戳后缀。
func NewServices(repos *repository.Repositories, db *gorm.DB, rdb *redis.Client, logger *zap.Logger, cfg *config.Config) *Services {
	seq := NewSequence(rdb)
	costs := NewStandardCostService(repos.Cost, cfg.Cost)
	ledger := NewGLLedgerService(seq)
	status := NewStatusService(seq)
	sequencer := NewSequencer(repos.Run, repos.Component)
	issuance := NewIssuanceService(db, repos, seq, logger)

	return &Services{
		Run:         NewProductionRunService(db, repos, status, sequencer, issuance, costs, seq, logger),
		Reservation: NewReservationService(db, repos, seq, logger),
		Issuance:    issuance,
		Declare:     NewDeclareService(db, repos, sequencer, costs, ledger, seq, logger),
		Return:      NewReturnService(db, repos, seq, logger),
		Inventory:   NewInventoryService(repos.Inventory),
	}
}

// InventoryService 库存查询
type InventoryService struct {
	repo *repository.InventoryRepository
}

func NewInventoryService(repo *repository.InventoryRepository) *InventoryService {
	return &InventoryService{repo: repo}
}

func (s *InventoryService) List(params repository.InventoryListParams) ([]entity.InventoryItem, int64, error) {
	return s.repo.List(params)
}

func (s *InventoryService) GetByProduct(productID string) ([]entity.InventoryItem, error) {
	return s.repo.GetByProduct(productID)
}
