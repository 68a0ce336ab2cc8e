package httpdto

import "potluck-chat/internal/domain/message"

type MessagePageResponse struct {
	Messages []message.Message `json:"messages"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

type UnreadCountResponse struct {
	ConversationID int64 `json:"conversationId"`
	Count          int64 `json:"count"`
}
