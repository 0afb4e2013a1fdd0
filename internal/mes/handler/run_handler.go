package handler

import (
	"net/http"
	"strconv"

	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

// RunHandler 生产批次接口
type RunHandler struct {
	runs         *service.ProductionRunService
	reservations *service.ReservationService
	issuance     *service.IssuanceService
	declare      *service.DeclareService
	returns      *service.ReturnService
}

func NewRunHandler(services *service.Services) *RunHandler {
	return &RunHandler{
		runs:         services.Run,
		reservations: services.Reservation,
		issuance:     services.Issuance,
		declare:      services.Declare,
		returns:      services.Return,
	}
}

func (h *RunHandler) Create(c *gin.Context) {
	var req service.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10001, "message": err.Error()})
		return
	}
	run, err := h.runs.Create(c.Request.Context(), req, currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": run})
}

func (h *RunHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	params := repository.RunListParams{
		Status:    c.Query("status"),
		ProductID: c.Query("product_id"),
		Keyword:   c.Query("keyword"),
		Page:      page,
		Size:      size,
	}
	runs, total, err := h.runs.List(params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 50001, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": gin.H{"items": runs, "total": total, "page": page, "size": size}})
}

func (h *RunHandler) Get(c *gin.Context) {
	detail, err := h.runs.GetDetail(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": detail})
}

func (h *RunHandler) StatusHistory(c *gin.Context) {
	history, err := h.runs.StatusHistory(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": history})
}

func (h *RunHandler) Costs(c *gin.Context) {
	entries, err := h.runs.Costs(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": entries})
}

func (h *RunHandler) ChangeTaskStatus(c *gin.Context) {
	var req service.ChangeTaskStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10001, "message": err.Error()})
		return
	}
	result, err := h.runs.ChangeTaskStatus(c.Request.Context(), c.Param("id"), c.Param("taskId"), req, currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": result})
}

func (h *RunHandler) Reserve(c *gin.Context) {
	var req struct {
		RequireInventory bool `json:"require_inventory"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10001, "message": err.Error()})
		return
	}
	if err := h.reservations.Reserve(c.Request.Context(), c.Param("taskId"), req.RequireInventory); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success"})
}

func (h *RunHandler) Issue(c *gin.Context) {
	var req struct {
		FailIfNotAvailable bool                    `json:"fail_if_not_available"`
		FailIfNotOnHand    bool                    `json:"fail_if_not_on_hand"`
		Overrides          []service.IssueOverride `json:"overrides" binding:"dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10001, "message": err.Error()})
		return
	}
	opts := service.IssueOptions{
		FailIfNotAvailable: req.FailIfNotAvailable,
		FailIfNotOnHand:    req.FailIfNotOnHand,
		Overrides:          req.Overrides,
		Actor:              currentUser(c),
	}
	lines, err := h.issuance.Issue(c.Request.Context(), c.Param("taskId"), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": gin.H{"lines": lines}})
}

func (h *RunHandler) Declare(c *gin.Context) {
	var req service.DeclareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10001, "message": err.Error()})
		return
	}
	result, err := h.declare.DeclareAndProduce(c.Request.Context(), c.Param("id"), req, currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": result})
}

func (h *RunHandler) ReturnMaterials(c *gin.Context) {
	var req struct {
		Items []service.ReturnItem `json:"items" binding:"required,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10001, "message": err.Error()})
		return
	}
	result, err := h.returns.ReturnMaterial(c.Request.Context(), c.Param("id"), req.Items, currentUser(c))
	if err != nil {
		// 行级校验失败时把逐行错误一并返回，便于调用方定位
		if result != nil && len(result.Errors) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 10004, "message": "退料校验未通过", "data": result})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": result})
}
