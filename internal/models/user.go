package models

import "time"

// User is a registered identity. AccountID is the ledger holder id every
// engine operation is authorized against.
type User struct {
	ID          int       `json:"id" example:"1"`
	Email       string    `json:"email" example:"user@example.com"`
	DisplayName string    `json:"displayName" example:"Ada L."`
	AccountID   string    `json:"accountId" example:"acct:8f3a4c1b"`
	Role        string    `json:"role" example:"user"`
	CreatedAt   time.Time `json:"createdAt"`
}
