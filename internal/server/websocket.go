package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/michaelbrown/scriptd/internal/execution"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsIncoming is a message from the client.
type wsIncoming struct {
	Type   string `json:"type"`
	Script string `json:"script"`
}

// wsOutgoing is a message to the client.
type wsOutgoing struct {
	Type    string `json:"type"`
	RunID   string `json:"run_id,omitempty"`
	Content string `json:"content,omitempty"`
}

// wsResult carries a decoded value, which may itself be null.
type wsResult struct {
	Type   string `json:"type"`
	RunID  string `json:"run_id"`
	Result any    `json:"result"`
	Stdout string `json:"stdout"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	// The server's read/write timeouts would otherwise stay on the
	// hijacked connection.
	conn.SetReadDeadline(time.Time{})

	id := s.conns.Add(conn)
	defer s.conns.Remove(id)

	// Read loop. Submissions on one connection run one at a time.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			log.Printf("websocket read error: %v", err)
			return
		}

		var msg wsIncoming
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "execute" {
			wsWriteJSON(conn, wsOutgoing{Type: "error", Content: "invalid message"})
			continue
		}

		s.processWebSocketMessage(r, conn, msg.Script)
	}
}

func (s *Server) processWebSocketMessage(r *http.Request, conn *websocket.Conn, code string) {
	runID := execution.NewRunID()
	wsWriteJSON(conn, wsOutgoing{Type: "started", RunID: runID})

	res, err := s.svc.ExecuteRun(r.Context(), runID, code)
	if err != nil {
		wsWriteJSON(conn, wsOutgoing{Type: "error", RunID: runID, Content: execution.PublicMessage(err)})
		return
	}

	wsWriteJSON(conn, wsResult{Type: "result", RunID: runID, Result: res.Value, Stdout: res.Stdout})
}

func wsWriteJSON(conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("websocket marshal error: %v", err)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("websocket write error: %v", err)
	}
}
