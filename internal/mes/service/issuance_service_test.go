package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
)

func TestIssueFIFOAcrossItems(t *testing.T) {
	services, repos, db := newTestServices(t)
	_, tasks := createTwoTaskRun(t, services, repos)
	ctx := context.Background()

	older := seedInventory(t, db, "RM-1", "LOT-OLD", 15, 48*time.Hour)
	newer := seedInventory(t, db, "RM-1", "LOT-NEW", 15, time.Hour)

	lines, err := services.Issuance.Issue(ctx, tasks[0].ID, IssueOptions{Actor: "tester"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("Expected 2 issued lines, got %d", len(lines))
	}
	if lines[0].InventoryItemID != older.ID || lines[0].Quantity != 15 {
		t.Errorf("Expected 15 from the older item first, got %+v", lines[0])
	}
	if lines[1].InventoryItemID != newer.ID || lines[1].Quantity != 5 {
		t.Errorf("Expected 5 from the newer item, got %+v", lines[1])
	}

	// 库存扣减到位
	o, _ := repos.Inventory.GetByID(older.ID)
	n, _ := repos.Inventory.GetByID(newer.ID)
	if o.QuantityOnHand != 0 || o.AvailableToPromise != 0 {
		t.Errorf("Older item must be drained, got QOH=%v ATP=%v", o.QuantityOnHand, o.AvailableToPromise)
	}
	if n.QuantityOnHand != 10 || n.AvailableToPromise != 10 {
		t.Errorf("Newer item must be reduced by 5, got QOH=%v ATP=%v", n.QuantityOnHand, n.AvailableToPromise)
	}

	// 需求发满后置为 ISSUED
	needs, _ := repos.Component.ListNeeds(tasks[0].ID)
	if needs[0].StatusID != entity.ComponentStatusIssued {
		t.Errorf("Expected need ISSUED, got %s", needs[0].StatusID)
	}
}

func TestIssueIsIdempotent(t *testing.T) {
	services, repos, db := newTestServices(t)
	_, tasks := createTwoTaskRun(t, services, repos)
	ctx := context.Background()
	item := seedInventory(t, db, "RM-1", "LOT-A", 50, 0)

	if _, err := services.Issuance.Issue(ctx, tasks[0].ID, IssueOptions{Actor: "tester"}); err != nil {
		t.Fatalf("First issue failed: %v", err)
	}

	lines, err := services.Issuance.Issue(ctx, tasks[0].ID, IssueOptions{Actor: "tester"})
	if err != nil {
		t.Fatalf("Second issue failed: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("Repeat issue must produce no lines, got %d", len(lines))
	}

	inv, _ := repos.Inventory.GetByID(item.ID)
	if inv.QuantityOnHand != 30 {
		t.Errorf("Expected QOH 30 (single 20 deduction), got %v", inv.QuantityOnHand)
	}
	net, _ := repos.Component.SumIssuedNet(tasks[0].ID, "RM-1")
	if net != 20 {
		t.Errorf("Expected net issued 20, got %v", net)
	}
}

func TestIssueStrictAbortLeavesNoPartialWrites(t *testing.T) {
	services, repos, db := newTestServices(t)
	_, tasks := createTwoTaskRun(t, services, repos)
	ctx := context.Background()
	item := seedInventory(t, db, "RM-1", "LOT-A", 8, 0)

	_, err := services.Issuance.Issue(ctx, tasks[0].ID, IssueOptions{
		FailIfNotAvailable: true,
		Actor:              "tester",
	})
	if !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("Expected ErrInsufficientInventory, got %v", err)
	}

	// 整个事务回滚：库存未动、没有发料记录
	inv, _ := repos.Inventory.GetByID(item.ID)
	if inv.QuantityOnHand != 8 || inv.AvailableToPromise != 8 {
		t.Errorf("Strict abort must leave inventory intact, got QOH=%v ATP=%v",
			inv.QuantityOnHand, inv.AvailableToPromise)
	}
	rows, _ := repos.Component.ListIssuances(tasks[0].ID)
	if len(rows) != 0 {
		t.Errorf("Strict abort must leave no issuance rows, got %d", len(rows))
	}
}

func TestIssueLaxLeavesShortfallOutstanding(t *testing.T) {
	services, repos, db := newTestServices(t)
	_, tasks := createTwoTaskRun(t, services, repos)
	ctx := context.Background()
	seedInventory(t, db, "RM-1", "LOT-A", 8, 0)

	lines, err := services.Issuance.Issue(ctx, tasks[0].ID, IssueOptions{Actor: "tester"})
	if err != nil {
		t.Fatalf("Lax issue failed: %v", err)
	}
	if len(lines) != 1 || lines[0].Quantity != 8 {
		t.Fatalf("Expected single 8-unit line, got %+v", lines)
	}

	// 缺口保留，需求不置为 ISSUED
	needs, _ := repos.Component.ListNeeds(tasks[0].ID)
	if needs[0].StatusID != entity.ComponentStatusNeeded {
		t.Errorf("Short need must stay NEEDED, got %s", needs[0].StatusID)
	}

	// 补货后再次发料补足缺口
	seedInventory(t, db, "RM-1", "LOT-B", 50, 0)
	lines, err = services.Issuance.Issue(ctx, tasks[0].ID, IssueOptions{Actor: "tester"})
	if err != nil {
		t.Fatalf("Follow-up issue failed: %v", err)
	}
	if len(lines) != 1 || lines[0].Quantity != 12 {
		t.Fatalf("Expected 12-unit follow-up line, got %+v", lines)
	}
	needs, _ = repos.Component.ListNeeds(tasks[0].ID)
	if needs[0].StatusID != entity.ComponentStatusIssued {
		t.Errorf("Covered need must flip to ISSUED, got %s", needs[0].StatusID)
	}
}

func TestIssueHonorsLotOverrides(t *testing.T) {
	services, repos, db := newTestServices(t)
	_, tasks := createTwoTaskRun(t, services, repos)
	ctx := context.Background()

	seedInventory(t, db, "RM-1", "LOT-OLD", 50, 48*time.Hour)
	preferred := seedInventory(t, db, "RM-1", "LOT-NEW", 50, time.Hour)

	lines, err := services.Issuance.Issue(ctx, tasks[0].ID, IssueOptions{
		Overrides: []IssueOverride{{ProductID: "RM-1", LotID: "LOT-NEW"}},
		Actor:     "tester",
	})
	if err != nil {
		t.Fatalf("Issue with override failed: %v", err)
	}
	if len(lines) != 1 || lines[0].InventoryItemID != preferred.ID || lines[0].Quantity != 20 {
		t.Fatalf("Expected full 20 from LOT-NEW, got %+v", lines)
	}

	inv, _ := repos.Inventory.GetByID(preferred.ID)
	if inv.AvailableToPromise != 30 {
		t.Errorf("Expected LOT-NEW ATP 30, got %v", inv.AvailableToPromise)
	}
}

func TestIssueFailIfNotOnHandCapsAtQOH(t *testing.T) {
	services, repos, db := newTestServices(t)
	_, tasks := createTwoTaskRun(t, services, repos)
	ctx := context.Background()

	// 可承诺量含在途：ATP 20 但在库只有 5
	item := testutil.SeedInventoryItem(t, db, "RM-1", "FAC-1", "LOT-A", 5, 20, time.Now())

	lines, err := services.Issuance.Issue(ctx, tasks[0].ID, IssueOptions{
		FailIfNotOnHand: true,
		Actor:           "tester",
	})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(lines) != 1 || lines[0].Quantity != 5 {
		t.Fatalf("Expected issue capped at QOH 5, got %+v", lines)
	}

	inv, _ := repos.Inventory.GetByID(item.ID)
	if inv.QuantityOnHand != 0 {
		t.Errorf("Expected QOH drained to 0, got %v", inv.QuantityOnHand)
	}
}

func TestIssueSkipsNeedsOutsideDateWindow(t *testing.T) {
	services, repos, db := newTestServices(t)
	_, tasks := createTwoTaskRun(t, services, repos)
	ctx := context.Background()
	seedInventory(t, db, "RM-1", "LOT-A", 50, 0)

	// 把需求的生效窗口推到未来
	future := time.Now().Add(24 * time.Hour)
	needs, _ := repos.Component.ListNeeds(tasks[0].ID)
	if err := db.Model(&entity.ComponentAssignment{}).Where("id = ?", needs[0].ID).
		Update("from_date", future).Error; err != nil {
		t.Fatalf("Update from_date failed: %v", err)
	}

	lines, err := services.Issuance.Issue(ctx, tasks[0].ID, IssueOptions{Actor: "tester"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("Out-of-window need must be skipped, got %d lines", len(lines))
	}
	needs, _ = repos.Component.ListNeeds(tasks[0].ID)
	if needs[0].StatusID != entity.ComponentStatusNeeded {
		t.Errorf("Skipped need must stay NEEDED, got %s", needs[0].StatusID)
	}
}
