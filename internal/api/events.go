package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"clipmind/internal/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	eventQueue = 64
)

// Loopback only, so any origin may connect.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type eventView struct {
	ID       string      `json:"id"`
	Kind     notify.Kind `json:"kind"`
	ItemID   int64       `json:"item_id"`
	Item     *ItemView   `json:"item,omitempty"`
	Text     string      `json:"text,omitempty"`
	IsCode   bool        `json:"is_code,omitempty"`
	Language string      `json:"language,omitempty"`
	At       time.Time   `json:"at"`
}

func newEventView(ev notify.Event) eventView {
	v := eventView{
		ID:       ev.ID.String(),
		Kind:     ev.Kind,
		ItemID:   ev.ItemID,
		Text:     ev.Text,
		IsCode:   ev.IsCode,
		Language: ev.Language,
		At:       ev.At,
	}
	if ev.Item != nil {
		item := NewItemView(ev.Item)
		v.Item = &item
	}
	return v
}

// events streams notifications to a websocket client as JSON messages.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, unsubscribe := s.bus.Subscribe(eventQueue)
	defer unsubscribe()

	// The read pump only handles control frames and notices the client leaving.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(newEventView(ev)); err != nil {
				s.log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
