package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/config"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SequenceGenerator 为新记录生成唯一标识和业务编码
type SequenceGenerator interface {
	NewID() string
	NextRunCode(ctx context.Context) string
	NextLotCode(ctx context.Context) string
}

// Sequence redis自增序列，按天分段；redis不可用时退化为时间戳后缀，
// 引擎不能因为redis故障而不可用
type Sequence struct {
	rdb *redis.Client
}

func NewSequence(rdb *redis.Client) *Sequence {
	return &Sequence{rdb: rdb}
}

func (s *Sequence) NewID() string {
	return uuid.New().String()
}

func (s *Sequence) NextRunCode(ctx context.Context) string {
	return s.nextCode(ctx, "PR", "mes:seq:run")
}

func (s *Sequence) NextLotCode(ctx context.Context) string {
	return s.nextCode(ctx, "LOT", "mes:seq:lot")
}

func (s *Sequence) nextCode(ctx context.Context, prefix, key string) string {
	day := time.Now().Format("20060102")
	if s.rdb != nil {
		dayKey := fmt.Sprintf("%s:%s", key, day)
		n, err := s.rdb.Incr(ctx, dayKey).Result()
		if err == nil {
			s.rdb.Expire(ctx, dayKey, 48*time.Hour)
			return fmt.Sprintf("%s-%s-%04d", prefix, day, n)
		}
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, day, time.Now().UnixNano()%10000)
}

// CostService 成本协作方：标准成本与工时费率
type CostService interface {
	StandardCost(productID string) (decimal.Decimal, string)
	LaborRatePerHour(productID string) (decimal.Decimal, string)
}

// StandardCostService 基于 mes_product_costs 表的成本服务，
// 产品未配置时工时费率取配置兜底值
type StandardCostService struct {
	costs       *repository.CostRepository
	defaultRate decimal.Decimal
	currency    string
}

func NewStandardCostService(costs *repository.CostRepository, cfg config.CostConfig) *StandardCostService {
	return &StandardCostService{
		costs:       costs,
		defaultRate: decimal.NewFromFloat(cfg.DefaultLaborRate),
		currency:    cfg.Currency,
	}
}

func (s *StandardCostService) StandardCost(productID string) (decimal.Decimal, string) {
	pc, err := s.costs.GetProductCost(productID)
	if err != nil {
		return decimal.Zero, s.currency
	}
	return pc.StandardCost, pc.Currency
}

func (s *StandardCostService) LaborRatePerHour(productID string) (decimal.Decimal, string) {
	pc, err := s.costs.GetProductCost(productID)
	if err != nil || pc.LaborRatePerHour.IsZero() {
		return s.defaultRate, s.currency
	}
	return pc.LaborRatePerHour, pc.Currency
}

// LedgerService 记账协作方：成品入库的成本结转凭证。对引擎是黑盒。
type LedgerService interface {
	PostProduction(tx *gorm.DB, run *entity.ProductionRun, qty float64, amount decimal.Decimal, currency, actor string) error
}

// 成品入库结转科目
const (
	accountFinishedGoods = "140501" // 库存商品
	accountWorkInProcess = "500101" // 生产成本
)

// GLLedgerService 写 mes_ledger_entries 的默认记账实现
type GLLedgerService struct {
	seq SequenceGenerator
}

func NewGLLedgerService(seq SequenceGenerator) *GLLedgerService {
	return &GLLedgerService{seq: seq}
}

func (s *GLLedgerService) PostProduction(tx *gorm.DB, run *entity.ProductionRun, qty float64, amount decimal.Decimal, currency, actor string) error {
	entry := &entity.LedgerEntry{
		ID:            s.seq.NewID(),
		DebitAccount:  accountFinishedGoods,
		CreditAccount: accountWorkInProcess,
		Amount:        amount,
		Currency:      currency,
		ReferenceType: "PROD_RUN",
		ReferenceID:   run.ID,
		ReferenceCode: run.RunCode,
		Notes:         fmt.Sprintf("生产入库 %.4f %s", qty, run.ProductCode),
		PostedBy:      actor,
		PostedAt:      time.Now(),
	}
	return repository.NewCostRepository(tx).CreateLedgerEntry(entry)
}

// notFound 把仓库层的未找到错误翻译成领域错误
func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return err
}
