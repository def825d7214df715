package websocket

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/atendezap/zapdesk/infrastructure/valkey"
)

type client struct {
	rooms map[string]struct{}
}

// RoomMessage is the wire envelope for room-addressed events. SenderID is
// set when the message crosses valkey so the origin server skips its own
// echo.
type RoomMessage struct {
	Room     string `json:"room"`
	Event    string `json:"event"`
	Payload  any    `json:"payload"`
	SenderID string `json:"sender_id,omitempty"`
}

type joinRequest struct {
	Conn  *websocket.Conn
	Rooms []string
}

var (
	Clients    = make(map[*websocket.Conn]*client)
	Register   = make(chan *websocket.Conn)
	Join       = make(chan joinRequest)
	Broadcast  = make(chan RoomMessage, 256)
	Unregister = make(chan *websocket.Conn)

	vkClient  *valkey.Client
	wsChan    = "zapdesk:ws_broadcast"
	localID   string
	jwtSecret []byte
)

// RoomClaims scope which rooms a token may join. Admin tokens join
// anything.
type RoomClaims struct {
	TenantIDs    []string `json:"tenantIds,omitempty"`
	AgreementIDs []string `json:"agreementIds,omitempty"`
	Admin        bool     `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// SetValkeyClient turns on cross-server fan-out over pub/sub.
func SetValkeyClient(c *valkey.Client, serverID string) {
	vkClient = c
	localID = serverID
}

// SetJWTSecret enables room authorization. Empty secret leaves the hub
// open, which is the single-box development default.
func SetJWTSecret(secret string) {
	if secret == "" {
		jwtSecret = nil
		return
	}
	jwtSecret = []byte(secret)
}

// TenantRoom and friends build the room names the pipeline emits to.
func TenantRoom(tenantID string) string       { return "tenant:" + tenantID }
func TicketRoom(ticketID string) string       { return "ticket:" + ticketID }
func AgreementRoom(agreementID string) string { return "agreement:" + agreementID }

func handleRegister(conn *websocket.Conn) {
	Clients[conn] = &client{rooms: make(map[string]struct{})}
	logrus.Debug("[WS] Connection registered")
}

func handleUnregister(conn *websocket.Conn) {
	delete(Clients, conn)
	logrus.Debug("[WS] Connection unregistered")
}

func handleJoin(req joinRequest) {
	c, ok := Clients[req.Conn]
	if !ok {
		return
	}
	for _, room := range req.Rooms {
		c.rooms[room] = struct{}{}
	}
	logrus.Debugf("[WS] Connection joined rooms: %s", strings.Join(req.Rooms, ", "))
}

func broadcastToLocal(message RoomMessage) {
	marshalMessage, err := json.Marshal(message)
	if err != nil {
		logrus.Errorf("[WS] Marshal error: %v", err)
		return
	}

	for conn, c := range Clients {
		if _, joined := c.rooms[message.Room]; !joined {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, marshalMessage); err != nil {
			logrus.Errorf("[WS] Write error: %v", err)
			closeConnection(conn)
		}
	}
}

func publishToValkey(message RoomMessage) {
	if vkClient == nil {
		return
	}

	// Attach local ID as sender
	message.SenderID = localID

	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	ctx := context.Background()
	cmd := vkClient.Inner().B().Publish().Channel(wsChan).Message(string(data)).Build()
	if err := vkClient.Inner().Do(ctx, cmd).Error(); err != nil {
		logrus.Errorf("[WS] Failed to publish to Valkey: %v", err)
	}
}

func startValkeySubscriber() {
	if vkClient == nil {
		return
	}

	logrus.Info("[WS] Starting Valkey Pub/Sub subscriber for distributed events")
	go func() {
		err := vkClient.Inner().Receive(context.Background(), vkClient.Inner().B().Subscribe().Channel(wsChan).Build(), func(msg valkeylib.PubSubMessage) {
			var roomMsg RoomMessage
			if err := json.Unmarshal([]byte(msg.Message), &roomMsg); err == nil {
				// Avoid loops: ignore messages sent by this same instance
				if roomMsg.SenderID == localID {
					return
				}
				broadcastToLocal(roomMsg)
			}
		})
		if err != nil {
			logrus.Errorf("[WS] Valkey subscriber failed: %v", err)
		}
	}()
}

func closeConnection(conn *websocket.Conn) {
	_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
	_ = conn.Close()
	delete(Clients, conn)
}

func RunHub() {
	if vkClient != nil {
		startValkeySubscriber()
	}

	for {
		select {
		case conn := <-Register:
			handleRegister(conn)

		case conn := <-Unregister:
			handleUnregister(conn)

		case req := <-Join:
			handleJoin(req)

		case message := <-Broadcast:
			broadcastToLocal(message)

			if vkClient != nil {
				publishToValkey(message)
			}
		}
	}
}

// authorizedRooms filters the requested rooms against the token claims.
// With no secret configured every request passes.
func authorizedRooms(requested []string, tokenString string) []string {
	if jwtSecret == nil {
		return requested
	}
	if tokenString == "" {
		return nil
	}

	claims := &RoomClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		logrus.Warnf("[WS] Rejected join with invalid token: %v", err)
		return nil
	}
	if claims.Admin {
		return requested
	}

	allowed := make(map[string]struct{}, len(claims.TenantIDs)+len(claims.AgreementIDs))
	for _, id := range claims.TenantIDs {
		allowed[TenantRoom(id)] = struct{}{}
	}
	for _, id := range claims.AgreementIDs {
		allowed[AgreementRoom(id)] = struct{}{}
	}

	granted := make([]string, 0, len(requested))
	for _, room := range requested {
		// Ticket rooms hang off a tenant grant: any token scoped to at
		// least one tenant may follow individual tickets.
		if _, ok := allowed[room]; ok || (strings.HasPrefix(room, "ticket:") && len(claims.TenantIDs) > 0) {
			granted = append(granted, room)
		}
	}
	return granted
}

type clientCommand struct {
	Action string   `json:"action"`
	Rooms  []string `json:"rooms,omitempty"`
	Token  string   `json:"token,omitempty"`
}

func RegisterRoutes(app fiber.Router) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})

	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		defer func() {
			Unregister <- conn
			_ = conn.Close()
		}()

		Register <- conn

		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logrus.Println("read error:", err)
				}
				return
			}

			if messageType != websocket.TextMessage {
				logrus.Println("unsupported message type:", messageType)
				continue
			}

			var cmd clientCommand
			if err := json.Unmarshal(message, &cmd); err != nil {
				logrus.Println("unmarshal error:", err)
				continue
			}

			if cmd.Action == "join" {
				rooms := authorizedRooms(cmd.Rooms, cmd.Token)
				if len(rooms) > 0 {
					Join <- joinRequest{Conn: conn, Rooms: rooms}
				}
				ack := map[string]any{"action": "joined", "rooms": rooms}
				if data, err := json.Marshal(ack); err == nil {
					_ = conn.WriteMessage(websocket.TextMessage, data)
				}
			}
		}
	}))
}

// Notifier adapts the hub to the pipeline's room fan-out interface.
// Emission is non-blocking: with no hub draining the channel the message is
// dropped, which keeps the pipeline independent of the realtime surface.
type Notifier struct{}

func (Notifier) emit(room, event string, payload any) {
	select {
	case Broadcast <- RoomMessage{Room: room, Event: event, Payload: payload}:
	default:
		logrus.Debugf("[WS] Dropped %s for room %s", event, room)
	}
}

func (n Notifier) EmitToTenant(tenantID, event string, payload any) {
	n.emit(TenantRoom(tenantID), event, payload)
}

func (n Notifier) EmitToTicket(ticketID, event string, payload any) {
	n.emit(TicketRoom(ticketID), event, payload)
}

func (n Notifier) EmitToAgreement(agreementID, event string, payload any) {
	n.emit(AgreementRoom(agreementID), event, payload)
}
