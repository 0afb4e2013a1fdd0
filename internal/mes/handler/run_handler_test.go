package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/config"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
	"go.uber.org/zap"
)

func setupRunTest(t *testing.T) *testutil.TestEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	router := testutil.SetupRouter()

	repos := repository.NewRepositories(db)
	cfg := &config.Config{Cost: config.CostConfig{DefaultLaborRate: 60, Currency: "CNY"}}
	services := service.NewServices(repos, db, nil, zap.NewNop(), cfg)
	handlers := NewHandlers(services)

	api := testutil.AuthGroup(router, "/api/v1/mes")
	api.GET("/production-runs", handlers.Run.List)
	api.POST("/production-runs", handlers.Run.Create)
	api.GET("/production-runs/:id", handlers.Run.Get)
	api.GET("/production-runs/:id/status-history", handlers.Run.StatusHistory)
	api.GET("/production-runs/:id/costs", handlers.Run.Costs)
	api.POST("/production-runs/:id/tasks/:taskId/status", handlers.Run.ChangeTaskStatus)
	api.POST("/production-runs/:id/declare", handlers.Run.Declare)
	api.POST("/production-runs/:id/return-materials", handlers.Run.ReturnMaterials)
	api.POST("/tasks/:taskId/reserve", handlers.Run.Reserve)
	api.POST("/tasks/:taskId/issue", handlers.Run.Issue)
	api.GET("/inventory", handlers.Inventory.List)

	return &testutil.TestEnv{DB: db, Router: router, T: t}
}

func createRunPayload() map[string]interface{} {
	return map[string]interface{}{
		"product_id":   "FG-100",
		"product_code": "FG-100",
		"product_name": "成品A",
		"facility_id":  "FAC-1",
		"quantity":     10,
		"tasks": []map[string]interface{}{
			{"name": "装配", "priority": 10},
			{"name": "测试", "priority": 20},
		},
		"components": []map[string]interface{}{
			{"product_id": "RM-1", "product_code": "RM-1", "estimated_qty": 20},
			{"product_id": "FG-100", "type": "DELIVERED", "estimated_qty": 10},
		},
	}
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	env := setupRunTest(t)
	token := testutil.DefaultTestToken()

	// 创建运行
	w := testutil.DoRequest(env.Router, "POST", "/api/v1/mes/production-runs", createRunPayload(), token)
	if w.Code != http.StatusOK {
		t.Fatalf("Create: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	runID := resp["data"].(map[string]interface{})["id"].(string)

	// 详情带任务与能力标志
	w = testutil.DoRequest(env.Router, "GET", "/api/v1/mes/production-runs/"+runID, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Get: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp = testutil.ParseResponse(w)
	detail := resp["data"].(map[string]interface{})
	tasks := detail["tasks"].([]interface{})
	if len(tasks) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", len(tasks))
	}
	firstTaskID := tasks[0].(map[string]interface{})["id"].(string)
	rollup := detail["rollup"].(map[string]interface{})
	if rollup["can_declare_and_produce"] != false {
		t.Error("Fresh run must not be declarable")
	}

	// 组件未发料，启动被拒 -> 10004
	w = testutil.DoRequest(env.Router, "POST",
		"/api/v1/mes/production-runs/"+runID+"/tasks/"+firstTaskID+"/status",
		map[string]interface{}{"status_id": "RUNNING"}, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for blocked start, got %d: %s", w.Code, w.Body.String())
	}
	resp = testutil.ParseResponse(w)
	if resp["code"].(float64) != 10004 {
		t.Errorf("Expected code 10004, got %v", resp["code"])
	}

	// 备料 -> 发料 -> 启动
	testutil.SeedInventoryItem(t, env.DB, "RM-1", "FAC-1", "LOT-A", 50, 50, time.Now())
	w = testutil.DoRequest(env.Router, "POST", "/api/v1/mes/tasks/"+firstTaskID+"/issue",
		map[string]interface{}{}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Issue: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp = testutil.ParseResponse(w)
	lines := resp["data"].(map[string]interface{})["lines"].([]interface{})
	if len(lines) != 1 {
		t.Fatalf("Expected 1 issued line, got %d", len(lines))
	}

	w = testutil.DoRequest(env.Router, "POST",
		"/api/v1/mes/production-runs/"+runID+"/tasks/"+firstTaskID+"/status",
		map[string]interface{}{"status_id": "RUNNING"}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Start: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp = testutil.ParseResponse(w)
	if resp["data"].(map[string]interface{})["run_status"] != "RUNNING" {
		t.Errorf("Expected run RUNNING, got %v", resp["data"])
	}

	// 状态历史追加
	w = testutil.DoRequest(env.Router, "GET",
		"/api/v1/mes/production-runs/"+runID+"/status-history", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("StatusHistory: expected 200, got %d", w.Code)
	}
	resp = testutil.ParseResponse(w)
	if len(resp["data"].([]interface{})) < 2 {
		t.Errorf("Expected run history to grow, got %v", resp["data"])
	}

	// 退料超上限：400 带行级错误
	w = testutil.DoRequest(env.Router, "POST",
		"/api/v1/mes/production-runs/"+runID+"/return-materials",
		map[string]interface{}{"items": []map[string]interface{}{
			{"product_id": "RM-1", "task_id": firstTaskID, "lot_id": "LOT-A", "quantity": 999},
		}}, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Return over cap: expected 400, got %d: %s", w.Code, w.Body.String())
	}
	resp = testutil.ParseResponse(w)
	if resp["code"].(float64) != 10004 {
		t.Errorf("Expected code 10004 for rejected return, got %v", resp["code"])
	}
	lineErrs := resp["data"].(map[string]interface{})["errors"].([]interface{})
	if len(lineErrs) != 1 {
		t.Fatalf("Expected 1 line error in response, got %v", resp["data"])
	}
	firstErr := lineErrs[0].(map[string]interface{})
	if firstErr["index"].(float64) != 0 || firstErr["message"] == "" {
		t.Errorf("Expected line error with index and message, got %v", firstErr)
	}
}

func TestReserveAndIssueRejectMalformedBody(t *testing.T) {
	env := setupRunTest(t)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/mes/production-runs", createRunPayload(), token)
	if w.Code != http.StatusOK {
		t.Fatalf("Create: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	runID := resp["data"].(map[string]interface{})["id"].(string)
	w = testutil.DoRequest(env.Router, "GET", "/api/v1/mes/production-runs/"+runID, nil, token)
	resp = testutil.ParseResponse(w)
	tasks := resp["data"].(map[string]interface{})["tasks"].([]interface{})
	taskID := tasks[0].(map[string]interface{})["id"].(string)

	for _, path := range []string{
		"/api/v1/mes/tasks/" + taskID + "/reserve",
		"/api/v1/mes/tasks/" + taskID + "/issue",
	} {
		w = testutil.DoRequest(env.Router, "POST", path, "not-an-object", token)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 for malformed body, got %d: %s", path, w.Code, w.Body.String())
		}
		resp = testutil.ParseResponse(w)
		if resp["code"].(float64) != 10001 {
			t.Errorf("%s: expected code 10001, got %v", path, resp["code"])
		}
	}
}

func TestRunHandlerErrorEnvelope(t *testing.T) {
	env := setupRunTest(t)
	token := testutil.DefaultTestToken()

	// 未知运行 -> 404 / 10002
	w := testutil.DoRequest(env.Router, "GET",
		"/api/v1/mes/production-runs/00000000-0000-0000-0000-000000000000", nil, token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	if resp["code"].(float64) != 10002 {
		t.Errorf("Expected code 10002, got %v", resp["code"])
	}

	// 请求体校验失败 -> 400 / 10001
	w = testutil.DoRequest(env.Router, "POST", "/api/v1/mes/production-runs",
		map[string]interface{}{"product_id": "FG-100"}, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", w.Code, w.Body.String())
	}
	resp = testutil.ParseResponse(w)
	if resp["code"].(float64) != 10001 {
		t.Errorf("Expected code 10001, got %v", resp["code"])
	}

	// 无令牌 -> 401
	w = testutil.DoRequest(env.Router, "GET", "/api/v1/mes/production-runs", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without token, got %d", w.Code)
	}
}
