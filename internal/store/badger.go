package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	messagePrefix = "msg:"
	userPrefix    = "user:"
)

// BadgerStore is the embedded default backend.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

// OpenBadger opens (or creates) a database under dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return NewBadgerStore(db), nil
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

type diskUser struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// conversationPrefix is the same for both directions so one prefix scan
// covers the whole conversation. Both ids are length-prefixed, so ids
// containing ":" or "|" can never collide with another pair.
func conversationPrefix(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%s%d:%d:%s%s:", messagePrefix, len(a), len(b), a, b)
}

// Append stores the message under "msg:{len a}:{len b}:{ab}:{unixnano}:{id}". The 19-digit
// zero padding keeps lexicographic key order equal to creation order; the
// id breaks ties within one nanosecond.
func (s *BadgerStore) Append(_ context.Context, sender, recipient, text string) (Message, error) {
	msg := Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Text:      text,
		CreatedAt: s.now(),
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return Message{}, err
	}
	key := fmt.Sprintf("%s%019d:%s", conversationPrefix(sender, recipient), msg.CreatedAt.UnixNano(), msg.ID)

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *BadgerStore) History(_ context.Context, a, b string) ([]Message, error) {
	prefix := []byte(conversationPrefix(a, b))
	var out []Message

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var msg Message
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			})
			if err != nil {
				return err
			}
			out = append(out, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history %s/%s: %w", a, b, err)
	}
	return out, nil
}

func (s *BadgerStore) CreateUser(_ context.Context, username, passwordHash string) (User, error) {
	u := diskUser{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	data, err := json.Marshal(u)
	if err != nil {
		return User{}, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		key := []byte(userPrefix + username)
		if _, err := txn.Get(key); err == nil {
			return ErrUserExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return User{}, err
	}
	return u.toUser(), nil
}

func (s *BadgerStore) UserByName(_ context.Context, username string) (User, error) {
	var u diskUser
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userPrefix + username))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &u)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u.toUser(), nil
}

// ListUsers returns users ordered by name.
func (s *BadgerStore) ListUsers(_ context.Context) ([]User, error) {
	prefix := []byte(userPrefix)
	var out []User

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var u diskUser
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &u)
			}); err != nil {
				return err
			}
			out = append(out, u.toUser())
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (u diskUser) toUser() User {
	return User{ID: u.ID, Username: u.Username, PasswordHash: u.PasswordHash, CreatedAt: u.CreatedAt}
}
