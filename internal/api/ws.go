package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"marketforecast/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// clientMessage is one JSON frame a client may send: subscribe or
// unsubscribe, per §6's push channel protocol.
type clientMessage struct {
	Action    string `json:"action"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

type serverMessage struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleWebSocket upgrades the connection and runs the subscribe protocol
// until the client disconnects. Grounded on the teacher's gateway
// Client.readPump/writePump split: one goroutine drains the hub's outbound
// channel onto the socket, the other reads control messages off it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("api: ws upgrade failed", zap.Error(err))
		return
	}

	clientID := s.newClientID()
	outbound := s.hub.Register(clientID)
	// control carries subscribe/unsubscribe acks from readPump. A single
	// goroutine (writePump) owns every write to conn — gorilla/websocket
	// forbids concurrent writers — so readPump never writes to conn itself.
	control := make(chan []byte, 16)

	go s.writePump(conn, outbound, control)
	s.readPump(conn, clientID, control)
}

func (s *Server) writePump(conn *websocket.Conn, outbound <-chan []byte, control <-chan []byte) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-outbound:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case msg := <-control:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(conn *websocket.Conn, clientID string, control chan<- []byte) {
	defer func() {
		s.hub.Unregister(clientID)
		conn.Close()
	}()

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			sendControl(control, serverMessage{Type: "error", Error: "invalid JSON"})
			continue
		}

		switch msg.Action {
		case "subscribe":
			tf, err := model.ParseTimeframe(msg.Timeframe)
			if msg.Symbol == "" || err != nil {
				sendControl(control, serverMessage{Type: "error", Error: "symbol and a valid timeframe are required"})
				continue
			}
			s.hub.Subscribe(clientID, model.Subscription{ClientID: clientID, Symbol: msg.Symbol, Timeframe: tf})
			sendControl(control, serverMessage{Type: "subscribed", Symbol: msg.Symbol, Timeframe: tf.String()})
		case "unsubscribe":
			// Argument-less: a client has at most one active subscription,
			// so unsubscribe always clears it, regardless of any
			// symbol/timeframe sent alongside the action.
			s.hub.Unsubscribe(clientID)
			sendControl(control, serverMessage{Type: "unsubscribed"})
		default:
			sendControl(control, serverMessage{Type: "error", Error: "unknown action " + msg.Action})
		}
	}
}

func sendControl(control chan<- []byte, msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case control <- data:
	default:
	}
}
