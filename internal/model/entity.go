package model

import "time"

type TicketStatus string

const (
	TicketStatusOpen     TicketStatus = "open"
	TicketStatusResolved TicketStatus = "resolved"
	TicketStatusClosed   TicketStatus = "closed"
)

// ValidStatus проверяет, что строка — один из известных статусов тикета.
func ValidStatus(s string) bool {
	switch TicketStatus(s) {
	case TicketStatusOpen, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// Ticket — обращение клиента в поддержку. UserID/UserEmail и Subject/Content
// неизменяемы после создания; правка текста не поддерживается.
type Ticket struct {
	ID             string       `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID         string       `gorm:"index;not null;type:varchar(64)" json:"user_id"`
	UserEmail      string       `gorm:"type:varchar(255);not null" json:"user_email"`
	Subject        string       `gorm:"type:varchar(255);not null" json:"subject"`
	Content        string       `gorm:"type:text;not null" json:"content"`
	Status         TicketStatus `gorm:"type:varchar(32);index;not null" json:"status"`
	UnreadForAdmin bool         `gorm:"not null;default:false" json:"unread_for_admin"`
	UnreadForUser  bool         `gorm:"not null;default:false" json:"unread_for_user"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message — одна реплика в треде тикета. Порядок треда — CreatedAt по возрастанию.
type Message struct {
	ID        string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TicketID  string `gorm:"index;not null;type:varchar(36)" json:"ticket_id"`
	UserID    string `gorm:"not null;type:varchar(64)" json:"user_id"`
	UserEmail string `gorm:"type:varchar(255);not null" json:"user_email"`
	Message   string `gorm:"type:text;not null" json:"message"`

	CreatedAt time.Time `json:"created_at"`
}
