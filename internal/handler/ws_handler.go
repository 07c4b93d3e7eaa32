package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"inkdown-sync-server/internal/websocket"
	"inkdown-sync-server/pkg/jwt"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

// WebSocketHandler upgrades authenticated connections into the realtime
// fan-out channel used to notify idle devices that their wallet advanced.
// The sync engine itself never reads from a socket; push/pull stay plain
// HTTP request/response, exactly as §6 of the protocol specifies.
type WebSocketHandler struct {
	manager   *websocket.Manager
	jwtSecret string
	upgrader  ws.Upgrader
}

func NewWebSocketHandler(manager *websocket.Manager, jwtSecret string) *WebSocketHandler {
	return &WebSocketHandler{
		manager:   manager,
		jwtSecret: jwtSecret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
	}

	if token == "" {
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	claims, err := jwt.ValidateToken(token, h.jwtSecret)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	userID := claims.UserID

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		deviceID = "default"
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed for user %s: %v", userID, err)
		return
	}

	clientID := uuid.New().String()
	client := websocket.NewClient(clientID, userID, deviceID, conn, h.manager)

	h.manager.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// WebSocketMessageHandler answers the small inbound protocol a connected
// device may send: pings, and acks of a wallet_advanced notification.
type WebSocketMessageHandler struct{}

func NewWebSocketMessageHandler() *WebSocketMessageHandler {
	return &WebSocketMessageHandler{}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypePing:
		return h.handlePing(client)
	case websocket.TypeAck:
		return nil
	default:
		log.Printf("[websocket] unknown message type: %s", msg.Type)
	}
	return nil
}

func (h *WebSocketMessageHandler) handlePing(client *websocket.Client) error {
	pongMsg, err := websocket.NewMessage(websocket.TypePong, nil)
	if err != nil {
		return err
	}

	pongBytes, err := json.Marshal(pongMsg)
	if err != nil {
		return err
	}
	client.Send <- pongBytes

	return nil
}
