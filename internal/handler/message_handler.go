package handler

import (
	"net/http"

	"potluck-chat/internal/services"
	"potluck-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type MessageHandler struct {
	service *services.MessageService
}

func NewMessageHandler(service *services.MessageService) *MessageHandler {
	return &MessageHandler{service: service}
}

// History serves GET /conversations/:id/messages?page&limit, oldest first within the page.
func (h *MessageHandler) History(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := idParam(c, "id")
	if !ok {
		return
	}

	page, limit := intQuery(c, "page"), intQuery(c, "limit")
	items, total, err := h.service.History(c.Request.Context(), userID, conversationID, page, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.MessagePageResponse{
		Messages: items,
		Total:    total,
		Page:     page,
		Limit:    limit,
	}))
}

func (h *MessageHandler) Search(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := idParam(c, "id")
	if !ok {
		return
	}

	page, limit := intQuery(c, "page"), intQuery(c, "limit")
	items, total, err := h.service.Search(c.Request.Context(), userID, conversationID, c.Query("q"), page, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.MessagePageResponse{
		Messages: items,
		Total:    total,
		Page:     page,
		Limit:    limit,
	}))
}

func (h *MessageHandler) UnreadCount(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := idParam(c, "id")
	if !ok {
		return
	}

	count, err := h.service.UnreadCount(c.Request.Context(), userID, conversationID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.UnreadCountResponse{
		ConversationID: conversationID,
		Count:          count,
	}))
}
