package httpdto

import "potluck-chat/internal/domain/conversation"

type CreateConversationRequest struct {
	Name      *string `json:"name"`
	Avatar    *string `json:"avatar"`
	MemberIDs []int64 `json:"memberIds" binding:"required,min=1"`
}

type UpdateConversationRequest struct {
	Name   *string `json:"name"`
	Avatar *string `json:"avatar"`
}

type ListConversationsResponse struct {
	Conversations []conversation.Conversation `json:"conversations"`
}

type CreateConversationResponse struct {
	Conversation conversation.Conversation `json:"conversation"`
	Created      bool                      `json:"created"`
}
