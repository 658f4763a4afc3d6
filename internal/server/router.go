package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/pairchat/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// messageRouter persists inbound messages and delivers them to every live
// connection of the recipient.
type messageRouter struct {
	registry *Registry
	messages store.MessageStore
	validate *validator.Validate
	drop     func(*Connection, error)
	logger   *slog.Logger
}

// route returns how many connections the message was queued for. Frames
// missing a recipient or text are dropped without error. The sender never
// receives its own message back.
func (r *messageRouter) route(ctx context.Context, sender *Connection, frame inboundFrame) (int, error) {
	if err := r.validate.Struct(frame); err != nil {
		r.logger.Debug("dropping incomplete frame", "sender", sender.userID, "err", err)
		return 0, nil
	}

	msg, err := r.messages.Append(ctx, sender.userID, string(frame.Recipient), frame.Text)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	payload, err := json.Marshal(newMessageFrame(msg))
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}

	targets := lo.Filter(r.registry.Snapshot(), func(c *Connection, _ int) bool {
		return c.userID == msg.Recipient
	})
	if len(targets) == 0 {
		r.logger.Debug("recipient offline, message stored only", "id", msg.ID, "recipient", msg.Recipient, "err", ErrPeerUnreachable)
		return 0, nil
	}

	delivered := 0
	var failed []*Connection
	for _, c := range targets {
		if c.enqueue(payload) {
			delivered++
		} else {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		r.drop(c, errSendBufferFull)
	}
	return delivered, nil
}
