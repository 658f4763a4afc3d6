package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Tyrowin/pairchat/internal/logging"
	"github.com/Tyrowin/pairchat/internal/mocks"
	"github.com/Tyrowin/pairchat/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestRouter(reg *Registry, messages store.MessageStore, rec *dropRecorder) *messageRouter {
	return &messageRouter{
		registry: reg,
		messages: messages,
		validate: validator.New(),
		drop:     rec.drop,
		logger:   logging.Discard(),
	}
}

func TestRoute_DeliversToEveryRecipientConnection(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	alice := newTestConnection("1", "alice", 4)
	bobLaptop := newTestConnection("2", "bob", 4)
	bobPhone := newTestConnection("2", "bob", 4)
	carol := newTestConnection("3", "carol", 4)
	for _, c := range []*Connection{alice, bobLaptop, bobPhone, carol} {
		reg.Add(c)
	}

	st := store.NewMemoryStore()
	rec := &dropRecorder{}
	r := newTestRouter(reg, st, rec)

	n, err := r.route(context.Background(), alice, inboundFrame{Recipient: "2", Text: "hi"})
	req.NoError(err)
	req.Equal(2, n)

	history, err := st.History(context.Background(), "1", "2")
	req.NoError(err)
	req.Len(history, 1)

	want := `{"_id":"` + history[0].ID + `","text":"hi","recipient":"2","sender":"1"}`
	for _, c := range []*Connection{bobLaptop, bobPhone} {
		got := drained(c)
		req.Len(got, 1)
		req.JSONEq(want, string(got[0]))
	}
	req.Empty(drained(alice), "sender gets no echo")
	req.Empty(drained(carol))
	req.Empty(rec.dropped)
}

func TestRoute_OfflineRecipientIsPersistedOnly(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	alice := newTestConnection("1", "alice", 1)
	reg.Add(alice)
	st := store.NewMemoryStore()

	n, err := newTestRouter(reg, st, &dropRecorder{}).route(context.Background(), alice, inboundFrame{Recipient: "9", Text: "later"})
	req.NoError(err)
	req.Zero(n)

	history, err := st.History(context.Background(), "9", "1")
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("later", history[0].Text)
}

func TestRoute_IncompleteFrameIsDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	messages := mocks.NewMockMessageStore(ctrl)
	messages.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	reg := NewRegistry()
	alice := newTestConnection("1", "alice", 1)
	r := newTestRouter(reg, messages, &dropRecorder{})

	for _, f := range []inboundFrame{
		{},
		{Recipient: "2"},
		{Text: "no recipient"},
	} {
		n, err := r.route(context.Background(), alice, f)
		require.NoError(t, err)
		require.Zero(t, n)
	}
}

func TestRoute_StoreFailureIsNotRouted(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	messages := mocks.NewMockMessageStore(ctrl)
	cause := errors.New("disk full")
	messages.EXPECT().Append(gomock.Any(), "1", "2", "hi").Return(store.Message{}, cause)

	reg := NewRegistry()
	alice := newTestConnection("1", "alice", 1)
	bob := newTestConnection("2", "bob", 1)
	reg.Add(alice)
	reg.Add(bob)

	_, err := newTestRouter(reg, messages, &dropRecorder{}).route(context.Background(), alice, inboundFrame{Recipient: "2", Text: "hi"})
	req.ErrorIs(err, ErrStoreFailure)
	req.ErrorIs(err, cause)
	req.Empty(drained(bob))
}

func TestRoute_FullRecipientQueueDropsThatConnection(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	messages := mocks.NewMockMessageStore(ctrl)
	messages.EXPECT().Append(gomock.Any(), "1", "2", "hi").Return(store.Message{
		ID: "m1", Sender: "1", Recipient: "2", Text: "hi", CreatedAt: time.Now(),
	}, nil)

	reg := NewRegistry()
	alice := newTestConnection("1", "alice", 1)
	stuck := newTestConnection("2", "bob", 1)
	stuck.send <- []byte("backlog")
	healthy := newTestConnection("2", "bob", 1)
	reg.Add(alice)
	reg.Add(stuck)
	reg.Add(healthy)

	rec := &dropRecorder{}
	n, err := newTestRouter(reg, messages, rec).route(context.Background(), alice, inboundFrame{Recipient: "2", Text: "hi"})
	req.NoError(err)
	req.Equal(1, n)
	req.Equal([]*Connection{stuck}, rec.dropped)
	req.ErrorIs(rec.causes[0], ErrTransportFailure)
	req.Len(drained(healthy), 1)
}
