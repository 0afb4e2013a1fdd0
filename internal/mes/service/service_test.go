package service

import (
	"context"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/config"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestServices(t *testing.T) (*Services, *repository.Repositories, *gorm.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	cfg := &config.Config{
		Cost: config.CostConfig{DefaultLaborRate: 60, Currency: "CNY"},
	}
	services := NewServices(repos, db, nil, zap.NewNop(), cfg)
	return services, repos, db
}

// twoTaskRunRequest 装配+测试两道工序，RM-1 需求挂首任务，FG-100 为产出
func twoTaskRunRequest() CreateRunRequest {
	return CreateRunRequest{
		ProductID:   "FG-100",
		ProductCode: "FG-100",
		ProductName: "成品A",
		FacilityID:  "FAC-1",
		Quantity:    10,
		Tasks: []RunTaskInput{
			{Name: "装配", Priority: 10, EstimatedMillis: 3600000},
			{Name: "测试", Priority: 20, EstimatedMillis: 1800000},
		},
		Components: []RunComponentInput{
			{ProductID: "RM-1", ProductCode: "RM-1", ProductName: "原料1", EstimatedQty: 20},
			{ProductID: "FG-100", ProductCode: "FG-100", ProductName: "成品A",
				Type: entity.ComponentTypeDelivered, EstimatedQty: 10},
		},
	}
}

func createTwoTaskRun(t *testing.T, services *Services, repos *repository.Repositories) (*entity.ProductionRun, []entity.ProductionRun) {
	t.Helper()
	run, err := services.Run.Create(context.Background(), twoTaskRunRequest(), "tester")
	if err != nil {
		t.Fatalf("Create run failed: %v", err)
	}
	tasks, err := repos.Run.ListTasks(run.ID)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	return run, tasks
}

func seedInventory(t *testing.T, db *gorm.DB, productID, lotID string, qty float64, age time.Duration) *entity.InventoryItem {
	t.Helper()
	return testutil.SeedInventoryItem(t, db, productID, "FAC-1", lotID, qty, qty, time.Now().Add(-age))
}
