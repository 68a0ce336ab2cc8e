package httpdto

import "potluck-chat/internal/domain/user"

type UserSearchResponse struct {
	Users []user.User `json:"users"`
}
