package user

import "strings"

// User is the read-projection of the user aggregate the messaging core depends on.
// Profile CRUD lives outside this service; rows are only read here.
type User struct {
	ID        int64   `gorm:"primaryKey" json:"id"`
	Username  string  `gorm:"type:text;uniqueIndex:idx_users_username;not null" json:"username"`
	FirstName string  `gorm:"type:text" json:"firstName"`
	LastName  string  `gorm:"type:text" json:"lastName"`
	Avatar    *string `gorm:"type:text" json:"avatar,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// FullName falls back to the username when no name is set.
func (u User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}
