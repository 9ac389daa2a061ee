package models

import "time"

// Message описывает запись истории переписки. Строки только добавляются.
type Message struct {
	ID         int64     `db:"id" json:"id"`
	UserID     int64     `db:"user_id" json:"user_id"`
	Text       string    `db:"message_text" json:"text"`
	Timestamp  time.Time `db:"timestamp" json:"timestamp"`
	IsIncoming bool      `db:"is_incoming" json:"is_incoming"`
}
