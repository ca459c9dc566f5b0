package domain

import "time"

// Message is one chat message within a session.
type Message struct {
	ID        string    `json:"id"`
	SessionID SessionID `json:"sessionId"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sentAt"`
}

// Invite maps a short code to the wallet address that generated it.
type Invite struct {
	Code      string    `json:"code"`
	Inviter   string    `json:"inviter"`
	CreatedAt time.Time `json:"createdAt"`
}
