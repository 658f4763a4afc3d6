//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

// Package store holds the message log and user directory the chat hub
// persists to, with interchangeable backends.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
)

// Message is one persisted direct message. ID is assigned by the store on
// Append and never changes afterwards.
type Message struct {
	ID        string    `json:"_id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageStore is an append-and-query log of direct messages.
type MessageStore interface {
	// Append persists a new message and returns it with its assigned id
	// and creation time.
	Append(ctx context.Context, sender, recipient, text string) (Message, error)
	// History returns every message exchanged between a and b, in either
	// direction, ascending by creation time.
	History(ctx context.Context, a, b string) ([]Message, error)
}

// User is a registered account.
type User struct {
	ID           string    `json:"_id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserStore is the account directory.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (User, error)
	UserByName(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// Store is a backend serving both contracts.
type Store interface {
	MessageStore
	UserStore
	Close() error
}
