package models

import "time"

// User описывает собеседника, написавшего одному из аккаунтов.
type User struct {
	ID              int64     `db:"id" json:"id"`
	Username        string    `db:"username" json:"username"`
	FirstName       string    `db:"first_name" json:"first_name"`
	LastName        string    `db:"last_name" json:"last_name"`
	Phone           string    `db:"phone" json:"phone"`
	LastMessageTime time.Time `db:"last_message_time" json:"last_message_time"`
}

// FullName склеивает имя и фамилию без лишних пробелов.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
