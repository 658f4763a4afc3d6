package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Tyrowin/pairchat/internal/presence"
	"github.com/Tyrowin/pairchat/internal/store"
)

// inboundFrame is the only frame a client sends. Frames missing either
// field are dropped.
type inboundFrame struct {
	Recipient userRef `json:"recipient" validate:"required"`
	Text      string  `json:"text" validate:"required"`
}

// userRef is a user id that clients may send as a JSON string or number.
type userRef string

func (u *userRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*u = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = userRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("recipient must be a string or number: %w", err)
	}
	*u = userRef(n.String())
	return nil
}

// presenceFrame tells every client who is online.
type presenceFrame struct {
	Online []presence.Entry `json:"online"`
}

// messageFrame carries one persisted message to a recipient connection.
// Ids are always strings here, even when the sender wrote a number.
type messageFrame struct {
	ID        string `json:"_id"`
	Text      string `json:"text"`
	Recipient string `json:"recipient"`
	Sender    string `json:"sender"`
}

func newMessageFrame(m store.Message) messageFrame {
	return messageFrame{
		ID:        m.ID,
		Text:      m.Text,
		Recipient: m.Recipient,
		Sender:    m.Sender,
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
