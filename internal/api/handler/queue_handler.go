package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/kagari-lab/viewerqueue/internal/service"
	"github.com/kagari-lab/viewerqueue/pkg/response"
)

// ListQueue 按 position 升序返回队列（附回看窗口内完成次数）。
func (h *Handler) ListQueue(c *gin.Context) {
	items, err := h.queue.List(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, items)
}

type deleteRequest struct {
	Mode service.DeleteMode `json:"mode" binding:"required,oneof=completed canceled"`
}

// DeleteQueueItem 删除条目；completed 模式计入一条参与记录。
func (h *Handler) DeleteQueueItem(c *gin.Context) {
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	err := h.queue.Delete(c.Request.Context(), c.Param("id"), req.Mode)
	if errors.Is(err, service.ErrNotFound) {
		response.NotFound(c, "queue item not found")
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

// MoveQueueItemUp 与前一位交换；已在队首是 no-op。
func (h *Handler) MoveQueueItemUp(c *gin.Context) {
	h.move(c, h.queue.MoveUp)
}

// MoveQueueItemDown 与后一位交换；已在队尾是 no-op。
func (h *Handler) MoveQueueItemDown(c *gin.Context) {
	h.move(c, h.queue.MoveDown)
}

func (h *Handler) move(c *gin.Context, op func(ctx context.Context, id string) error) {
	err := op(c.Request.Context(), c.Param("id"))
	if errors.Is(err, service.ErrNotFound) {
		response.NotFound(c, "queue item not found")
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}
