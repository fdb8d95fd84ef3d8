// ABOUTME: Mirrors account state changes into a Matrix room as m.notice messages
// ABOUTME: Sends asynchronously through a bounded queue so lifecycle handling never waits on the homeserver

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-wbot/internal/store"
)

// MatrixSender is the part of *mautrix.Client the relay uses.
type MatrixSender interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
}

var _ MatrixSender = (*mautrix.Client)(nil)

// MatrixConfig configures the relay.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	RoomID      string
}

const (
	matrixQueueSize   = 128
	matrixSendTimeout = 10 * time.Second
)

// MatrixRelay posts a notice for every session notification.
type MatrixRelay struct {
	sender MatrixSender
	room   id.RoomID
	queue  chan *Notification
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger *slog.Logger
}

var _ Notifier = (*MatrixRelay)(nil)

// NewMatrixClient logs in with an access token.
func NewMatrixClient(cfg MatrixConfig) (*mautrix.Client, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return client, nil
}

// NewMatrixRelay starts a relay that posts into roomID.
func NewMatrixRelay(sender MatrixSender, roomID string, logger *slog.Logger) *MatrixRelay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &MatrixRelay{
		sender: sender,
		room:   id.RoomID(roomID),
		queue:  make(chan *Notification, matrixQueueSize),
		done:   make(chan struct{}),
		logger: logger.With("component", "matrix_relay", "room_id", roomID),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Notify queues session notifications. Presence is not relayed.
func (r *MatrixRelay) Notify(ctx context.Context, n *Notification) {
	if n == nil || n.Event != EventSession {
		return
	}
	select {
	case <-r.done:
		return
	default:
	}
	select {
	case r.queue <- n:
	default:
		r.logger.Warn("matrix relay queue full, dropping notice", "topic", n.Topic)
	}
}

// Close stops the relay after draining queued notices.
func (r *MatrixRelay) Close() {
	r.once.Do(func() { close(r.done) })
	r.wg.Wait()
}

func (r *MatrixRelay) run() {
	defer r.wg.Done()
	for {
		select {
		case n := <-r.queue:
			r.send(n)
		case <-r.done:
			for {
				select {
				case n := <-r.queue:
					r.send(n)
				default:
					return
				}
			}
		}
	}
}

func (r *MatrixRelay) send(n *Notification) {
	body := NoticeText(n)
	if body == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), matrixSendTimeout)
	defer cancel()

	content := &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    body,
	}
	if _, err := r.sender.SendMessageEvent(ctx, r.room, event.EventMessage, content); err != nil {
		r.logger.Error("sending matrix notice failed", "error", err, "topic", n.Topic)
	}
}

// NoticeText renders a session notification as one line of text.
func NoticeText(n *Notification) string {
	upd, ok := n.Payload.(*SessionUpdate)
	if !ok || upd.Session == nil {
		return ""
	}
	a := upd.Session
	switch a.Status {
	case store.StatusQRCode:
		return fmt.Sprintf("[company %d] %s (#%d) waiting for QR scan: %s", a.CompanyID, a.Name, a.ID, a.QRCode)
	case store.StatusConnected:
		return fmt.Sprintf("[company %d] %s (#%d) connected as %s", a.CompanyID, a.Name, a.ID, a.Number)
	default:
		return fmt.Sprintf("[company %d] %s (#%d) is %s", a.CompanyID, a.Name, a.ID, a.Status)
	}
}
