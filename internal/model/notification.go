package model

import "time"

// Notification is an informational message for a single user.
type Notification struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"message"`
	Category  string    `json:"category" db:"category"`
	Read      bool      `json:"read" db:"read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Notification categories.
const (
	NotifyItemSubmitted = "item_submitted"
	NotifyItemApproved  = "item_approved"
	NotifyItemRejected  = "item_rejected"
	NotifyItemRedeemed  = "item_redeemed"
)

const (
	MaxNotificationTitle   = 100
	MaxNotificationMessage = 500
)

// Truncate clips title and message to their stored limits.
func (n *Notification) Truncate() {
	n.Title = clip(n.Title, MaxNotificationTitle)
	n.Message = clip(n.Message, MaxNotificationMessage)
}

func clip(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
