package handler

import (
	"errors"
	"net/http"

	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

// Handlers MES HTTP处理器集合
type Handlers struct {
	Run       *RunHandler
	Inventory *InventoryHandler
}

func NewHandlers(services *service.Services) *Handlers {
	return &Handlers{
		Run:       NewRunHandler(services),
		Inventory: NewInventoryHandler(services.Inventory),
	}
}

// respondError 把领域错误映射为响应码，保证调用方能按类别区分失败原因
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"code": 10001, "message": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": 10002, "message": err.Error()})
	case errors.Is(err, service.ErrStateTransition):
		c.JSON(http.StatusBadRequest, gin.H{"code": 10004, "message": err.Error()})
	case errors.Is(err, service.ErrInsufficientInventory):
		c.JSON(http.StatusBadRequest, gin.H{"code": 10005, "message": err.Error()})
	case errors.Is(err, service.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, gin.H{"code": 40901, "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": 50001, "message": err.Error()})
	}
}

func currentUser(c *gin.Context) string {
	if userID, exists := c.Get("user_id"); exists {
		if s, ok := userID.(string); ok {
			return s
		}
	}
	return ""
}
