// Package presence defines the online-user entries the hub broadcasts and
// an optional Redis mirror that exposes them to other processes.
package presence

import "context"

// Entry is one online user as sent to clients.
type Entry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Mirror receives every recomputed presence set.
type Mirror interface {
	Mirror(ctx context.Context, online []Entry) error
}
