package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/shopspring/decimal"
)

func TestCreateRunInstantiatesTasksAndComponents(t *testing.T) {
	services, repos, _ := newTestServices(t)
	run, tasks := createTwoTaskRun(t, services, repos)

	if !strings.HasPrefix(run.RunCode, "PR-") {
		t.Errorf("Expected run code with PR- prefix, got %s", run.RunCode)
	}
	if run.StatusID != entity.StatusCreated {
		t.Errorf("Expected CREATED run, got %s", run.StatusID)
	}
	if len(tasks) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Priority != 10 || tasks[1].Priority != 20 {
		t.Errorf("Tasks not ordered by priority: %d, %d", tasks[0].Priority, tasks[1].Priority)
	}

	// 未指明任务的需求挂到首任务
	needs, err := repos.Component.ListNeeds(tasks[0].ID)
	if err != nil {
		t.Fatalf("ListNeeds failed: %v", err)
	}
	if len(needs) != 1 || needs[0].ProductID != "RM-1" || needs[0].EstimatedQty != 20 {
		t.Errorf("Expected RM-1 need of 20 on first task, got %+v", needs)
	}

	// 产出挂到末任务
	outs, err := repos.Component.ListDeliverables(run.ID)
	if err != nil {
		t.Fatalf("ListDeliverables failed: %v", err)
	}
	if len(outs) != 1 || outs[0].TaskID != tasks[1].ID {
		t.Errorf("Expected deliverable on final task, got %+v", outs)
	}

	// 运行与任务各有一条 CREATED 历史
	history, err := repos.Run.ListStatusHistory(run.ID)
	if err != nil {
		t.Fatalf("ListStatusHistory failed: %v", err)
	}
	if len(history) != 1 || history[0].StatusID != entity.StatusCreated {
		t.Errorf("Expected single CREATED history row, got %+v", history)
	}
}

func TestCreateRunRejectsDuplicatePriorities(t *testing.T) {
	services, _, _ := newTestServices(t)
	req := twoTaskRunRequest()
	req.Tasks[1].Priority = req.Tasks[0].Priority

	if _, err := services.Run.Create(context.Background(), req, "tester"); !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
}

func TestTaskStartBlockedUntilComponentsIssued(t *testing.T) {
	services, repos, _ := newTestServices(t)
	run, tasks := createTwoTaskRun(t, services, repos)
	ctx := context.Background()

	// 组件未发料，首任务不可启动
	_, err := services.Run.ChangeTaskStatus(ctx, run.ID, tasks[0].ID,
		ChangeTaskStatusRequest{StatusID: entity.StatusRunning}, "tester")
	if !errors.Is(err, ErrStateTransition) {
		t.Fatalf("Expected ErrStateTransition before issuance, got %v", err)
	}

	// 前序未完工，次任务同样不可启动
	_, err = services.Run.ChangeTaskStatus(ctx, run.ID, tasks[1].ID,
		ChangeTaskStatusRequest{StatusID: entity.StatusRunning}, "tester")
	if !errors.Is(err, ErrStateTransition) {
		t.Fatalf("Expected ErrStateTransition for second task, got %v", err)
	}
}

func TestTaskStartAfterIssuanceRollsRunToRunning(t *testing.T) {
	services, repos, db := newTestServices(t)
	run, tasks := createTwoTaskRun(t, services, repos)
	ctx := context.Background()
	seedInventory(t, db, "RM-1", "LOT-A", 50, 0)

	if _, err := services.Issuance.Issue(ctx, tasks[0].ID, IssueOptions{Actor: "tester"}); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	result, err := services.Run.ChangeTaskStatus(ctx, run.ID, tasks[0].ID,
		ChangeTaskStatusRequest{StatusID: entity.StatusRunning}, "tester")
	if err != nil {
		t.Fatalf("Start task failed: %v", err)
	}
	if result.TaskStatus != entity.StatusRunning {
		t.Errorf("Expected RUNNING task, got %s", result.TaskStatus)
	}
	if result.RunStatus != entity.StatusRunning {
		t.Errorf("Expected run rolled to RUNNING, got %s", result.RunStatus)
	}
	if result.RunStartDate == nil {
		t.Error("Expected run actual start date to be set")
	}

	task, _ := repos.Run.GetTask(tasks[0].ID)
	if task.ActualStartDate == nil {
		t.Error("Expected task actual start date to be set")
	}
}

func TestTaskCompletionAccumulatesAndRecordsCosts(t *testing.T) {
	services, repos, db := newTestServices(t)
	run, tasks := createTwoTaskRun(t, services, repos)
	ctx := context.Background()
	seedInventory(t, db, "RM-1", "LOT-A", 50, 0)

	if _, err := services.Issuance.Issue(ctx, tasks[0].ID, IssueOptions{Actor: "tester"}); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := services.Run.ChangeTaskStatus(ctx, run.ID, tasks[0].ID,
		ChangeTaskStatusRequest{StatusID: entity.StatusRunning}, "tester"); err != nil {
		t.Fatalf("Start first task failed: %v", err)
	}

	// 两次增量完工语义：数量与工时累加
	result, err := services.Run.ChangeTaskStatus(ctx, run.ID, tasks[0].ID,
		ChangeTaskStatusRequest{
			StatusID:       entity.StatusCompleted,
			AddQtyProduced: 6,
			AddQtyRejected: 1,
			AddMillis:      3600000,
		}, "tester")
	if err != nil {
		t.Fatalf("Complete first task failed: %v", err)
	}
	if result.TaskStatus != entity.StatusCompleted {
		t.Errorf("Expected COMPLETED task, got %s", result.TaskStatus)
	}
	if result.RunStatus != entity.StatusRunning {
		t.Errorf("Run must stay RUNNING until final task, got %s", result.RunStatus)
	}

	task, _ := repos.Run.GetTask(tasks[0].ID)
	if task.QtyProduced != 6 || task.QtyRejected != 1 || task.ActualMillis != 3600000 {
		t.Errorf("Accumulation wrong: produced=%v rejected=%v millis=%v",
			task.QtyProduced, task.QtyRejected, task.ActualMillis)
	}
	if task.ActualCompletionDate == nil {
		t.Error("Expected actual completion date on task")
	}

	// 物料 + 工时成本各一条；兜底费率 60/h × 1h = 60
	entries, err := repos.Cost.ListByRun(run.ID)
	if err != nil {
		t.Fatalf("ListByRun failed: %v", err)
	}
	var hasMaterial, hasLabor bool
	for _, e := range entries {
		switch e.CostType {
		case entity.CostTypeMaterial:
			hasMaterial = true
		case entity.CostTypeLabor:
			hasLabor = true
			if !e.Amount.Equal(decimal.NewFromInt(60)) {
				t.Errorf("Expected labor cost 60, got %s", e.Amount)
			}
		}
	}
	if hasMaterial {
		// 种子库存单位成本为0，物料成本条目不应出现
		t.Error("Did not expect material cost entry for zero-cost inventory")
	}
	if !hasLabor {
		t.Error("Expected labor cost entry")
	}

	// 末任务完工后运行汇总为 COMPLETED，产量取末任务
	if _, err := services.Run.ChangeTaskStatus(ctx, run.ID, tasks[1].ID,
		ChangeTaskStatusRequest{StatusID: entity.StatusRunning}, "tester"); err != nil {
		t.Fatalf("Start final task failed: %v", err)
	}
	result, err = services.Run.ChangeTaskStatus(ctx, run.ID, tasks[1].ID,
		ChangeTaskStatusRequest{StatusID: entity.StatusCompleted, AddQtyProduced: 5}, "tester")
	if err != nil {
		t.Fatalf("Complete final task failed: %v", err)
	}
	if result.RunStatus != entity.StatusCompleted {
		t.Errorf("Expected run COMPLETED, got %s", result.RunStatus)
	}

	run2, _ := repos.Run.GetRun(run.ID)
	if run2.QtyProduced != 5 {
		t.Errorf("Expected run qty produced 5 from final task, got %v", run2.QtyProduced)
	}
	if run2.ActualCompletionDate == nil {
		t.Error("Expected run actual completion date")
	}
}

func TestCancelOnlyBeforeIssuance(t *testing.T) {
	services, repos, db := newTestServices(t)
	run, tasks := createTwoTaskRun(t, services, repos)
	ctx := context.Background()

	// 未发料可以取消
	result, err := services.Run.ChangeTaskStatus(ctx, run.ID, tasks[1].ID,
		ChangeTaskStatusRequest{StatusID: entity.StatusCancelled, Reason: "计划变更"}, "tester")
	if err != nil {
		t.Fatalf("Cancel before issuance failed: %v", err)
	}
	if result.TaskStatus != entity.StatusCancelled {
		t.Errorf("Expected CANCELLED, got %s", result.TaskStatus)
	}

	// 发料后不可取消
	seedInventory(t, db, "RM-1", "LOT-A", 50, 0)
	if _, err := services.Issuance.Issue(ctx, tasks[0].ID, IssueOptions{Actor: "tester"}); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	_, err = services.Run.ChangeTaskStatus(ctx, run.ID, tasks[0].ID,
		ChangeTaskStatusRequest{StatusID: entity.StatusCancelled}, "tester")
	if !errors.Is(err, ErrStateTransition) {
		t.Fatalf("Expected ErrStateTransition after issuance, got %v", err)
	}
}

func TestChangeTaskStatusRejectsNegativeIncrements(t *testing.T) {
	services, repos, _ := newTestServices(t)
	run, tasks := createTwoTaskRun(t, services, repos)

	_, err := services.Run.ChangeTaskStatus(context.Background(), run.ID, tasks[0].ID,
		ChangeTaskStatusRequest{StatusID: entity.StatusCompleted, AddQtyProduced: -1}, "tester")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation for negative increment, got %v", err)
	}
}

func TestChangeTaskStatusTaskMustBelongToRun(t *testing.T) {
	services, repos, _ := newTestServices(t)
	runA, _ := createTwoTaskRun(t, services, repos)
	_, tasksB := createTwoTaskRun(t, services, repos)

	_, err := services.Run.ChangeTaskStatus(context.Background(), runA.ID, tasksB[0].ID,
		ChangeTaskStatusRequest{StatusID: entity.StatusScheduled}, "tester")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation for foreign task, got %v", err)
	}
}
