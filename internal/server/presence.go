package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/pairchat/internal/presence"
	"github.com/samber/lo"
)

const defaultMirrorTimeout = 2 * time.Second

// presenceBroadcaster pushes the online set to every admitted connection.
type presenceBroadcaster struct {
	// mu keeps refreshes from interleaving, so queues never receive an older
	// set after a newer one.
	mu            sync.Mutex
	registry      *Registry
	mirror        presence.Mirror
	mirrorTimeout time.Duration
	drop          func(*Connection, error)
	logger        *slog.Logger
}

// onlineSet lists each user once, with the display name of their earliest
// connection, in admission order.
func onlineSet(conns []*Connection) []presence.Entry {
	entries := lo.Map(conns, func(c *Connection, _ int) presence.Entry {
		return presence.Entry{UserID: c.userID, Username: c.username}
	})
	return lo.UniqBy(entries, func(e presence.Entry) string {
		return e.UserID
	})
}

// refresh sends the current online set to everyone. Connections that
// cannot take the notification are dropped after the fan-out.
func (b *presenceBroadcaster) refresh() {
	for _, c := range b.push() {
		b.drop(c, errSendBufferFull)
	}
}

func (b *presenceBroadcaster) push() []*Connection {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := b.registry.Snapshot()
	online := onlineSet(snapshot)

	payload, err := json.Marshal(presenceFrame{Online: online})
	if err != nil {
		b.logger.Error("failed to encode presence", "err", err)
		return nil
	}

	var failed []*Connection
	for _, c := range snapshot {
		if !c.enqueue(payload) {
			failed = append(failed, c)
		}
	}
	b.logger.Debug("presence broadcast", "online", len(online), "connections", len(snapshot), "failed", len(failed))

	b.mirrorSet(online)
	return failed
}

func (b *presenceBroadcaster) mirrorSet(online []presence.Entry) {
	if b.mirror == nil {
		return
	}
	timeout := b.mirrorTimeout
	if timeout <= 0 {
		timeout = defaultMirrorTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := b.mirror.Mirror(ctx, online); err != nil {
		b.logger.Warn("presence mirror failed", "err", err)
	}
}
