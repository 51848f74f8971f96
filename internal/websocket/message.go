package websocket

import (
	"encoding/json"
	"time"

	"device-control-relay/internal/domain"
)

type MessageType string

// Device agent → relay.
const (
	TypeHeartbeat             MessageType = "heartbeat"
	TypeScreenLocked          MessageType = "screen-locked"
	TypeScreenUnlocked        MessageType = "screen-unlocked"
	TypeScreenshotData        MessageType = "screenshot-data"
	TypeRemoteControlAccepted MessageType = "remote-control-accepted"
	TypeRemoteControlDenied   MessageType = "remote-control-denied"
)

// Relay → device agent.
const (
	TypeLockScreen           MessageType = "lock-screen"
	TypeUnlockScreen         MessageType = "unlock-screen"
	TypeScreenshotRequest    MessageType = "screenshot-request"
	TypeRemoteControlRequest MessageType = "remote-control-request"
	TypeMouseMove            MessageType = "mouse-move"
	TypeMouseClick           MessageType = "mouse-click"
	TypeKeyPress             MessageType = "key-press"
	TypeBroadcastMessage     MessageType = "broadcast-message"
)

// Admin console → relay. Mouse, key and broadcast events reuse the device
// event names above.
const (
	TypeRequestRemoteControl     MessageType = "request-remote-control"
	TypeRequestScreenshot        MessageType = "request-screenshot"
	TypeStopMonitoring           MessageType = "stop-monitoring"
	TypeLockDevice               MessageType = "lock-device"
	TypeUnlockDevice             MessageType = "unlock-device"
	TypeCreatePermissionRequest  MessageType = "create-permission-request"
	TypeResolvePermissionRequest MessageType = "resolve-permission-request"
)

// Relay → admin console.
const (
	TypeConnectedDevices   MessageType = "connected-devices"
	TypeDeviceStatusUpdate MessageType = "device-status-update"
	TypePermissionRequest  MessageType = "permission-request"
	TypePermissionResponse MessageType = "permission-response"
	TypeScreenshotReceived MessageType = "screenshot-received"
	TypeCommandResult      MessageType = "command-result"
)

const (
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the frame exchanged on every socket. Target and origin are only
// set on relayed commands.
type Message struct {
	Type           MessageType     `json:"type"`
	TargetDeviceID string          `json:"targetDeviceId,omitempty"`
	TargetAdminID  string          `json:"targetAdminId,omitempty"`
	OriginID       string          `json:"originId,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

type HeartbeatPayload struct {
	Status      domain.DeviceStatus `json:"status"`
	CurrentUser string              `json:"currentUser,omitempty"`
}

type ScreenStatePayload struct {
	Timestamp time.Time `json:"timestamp"`
	AdminID   string    `json:"adminId,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
}

type ScreenshotDataPayload struct {
	Image     string    `json:"image" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
}

type RemoteControlReplyPayload struct {
	AdminID  string `json:"adminId" validate:"required"`
	DeviceID string `json:"deviceId,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type LockScreenPayload struct {
	AdminID   string    `json:"adminId"`
	Timestamp time.Time `json:"timestamp"`
}

type UnlockScreenPayload struct {
	AdminID   string    `json:"adminId"`
	RequestID string    `json:"requestId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ScreenshotRequestPayload struct {
	AdminID   string    `json:"adminId"`
	Timestamp time.Time `json:"timestamp"`
}

type RemoteControlRequestPayload struct {
	AdminID     string    `json:"adminId"`
	AdminLevel  string    `json:"adminLevel"`
	Permissions []string  `json:"permissions"`
	Timestamp   time.Time `json:"timestamp"`
}

type MouseMovePayload struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type MouseClickPayload struct {
	Button string `json:"button"`
}

type KeyPressPayload struct {
	Key       string   `json:"key"`
	Modifiers []string `json:"modifiers"`
}

type BroadcastMessagePayload struct {
	Message   string    `json:"message"`
	AdminID   string    `json:"adminId"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceTarget is the common shape of admin events aimed at one device.
type DeviceTarget struct {
	DeviceID string `json:"deviceId" validate:"required"`
}

type RequestRemoteControlPayload struct {
	DeviceID    string   `json:"deviceId" validate:"required"`
	AdminLevel  string   `json:"adminLevel"`
	Permissions []string `json:"permissions"`
}

type MouseMoveRequest struct {
	DeviceID string `json:"deviceId" validate:"required"`
	X        int    `json:"x" validate:"gte=0"`
	Y        int    `json:"y" validate:"gte=0"`
}

type MouseClickRequest struct {
	DeviceID string `json:"deviceId" validate:"required"`
	Button   string `json:"button" validate:"omitempty,oneof=left right middle"`
}

type KeyPressRequest struct {
	DeviceID  string   `json:"deviceId" validate:"required"`
	Key       string   `json:"key" validate:"required"`
	Modifiers []string `json:"modifiers"`
}

type BroadcastRequest struct {
	Message       string   `json:"message" validate:"required,max=2000"`
	TargetDevices []string `json:"targetDevices"`
}

type ResolvePermissionPayload struct {
	RequestID string `json:"requestId" validate:"required"`
	Approved  *bool  `json:"approved" validate:"required"`
	Reason    string `json:"reason" validate:"max=500"`
}

type DeviceStatusUpdatePayload struct {
	DeviceID  string              `json:"deviceId"`
	Status    domain.DeviceStatus `json:"status"`
	Timestamp time.Time           `json:"timestamp"`
}

type PermissionRequestPayload struct {
	RequestID      string                `json:"requestId"`
	DeviceID       string                `json:"deviceId"`
	DeviceHostname string                `json:"deviceHostname"`
	RequestType    domain.PermissionType `json:"requestType"`
	RequesterName  string                `json:"requesterName"`
	Reason         string                `json:"reason"`
}

type PermissionResponsePayload struct {
	RequestID      string `json:"requestId"`
	Approved       bool   `json:"approved"`
	Expired        bool   `json:"expired,omitempty"`
	Reason         string `json:"reason,omitempty"`
	AdminName      string `json:"adminName"`
	DeviceHostname string `json:"deviceHostname"`
}

type ScreenshotReceivedPayload struct {
	DeviceID  string    `json:"deviceId"`
	Image     string    `json:"image"`
	Timestamp time.Time `json:"timestamp"`
}

type DeliveryResult struct {
	DeviceID  string `json:"deviceId,omitempty"`
	AdminID   string `json:"adminId,omitempty"`
	Delivered bool   `json:"delivered"`
	Code      string `json:"code,omitempty"`
}

// CommandResultPayload answers every admin event on the invoking socket.
type CommandResultPayload struct {
	Event    MessageType      `json:"event"`
	OK       bool             `json:"ok"`
	Code     string           `json:"code,omitempty"`
	Error    string           `json:"error,omitempty"`
	Degraded bool             `json:"degraded,omitempty"`
	Results  []DeliveryResult `json:"results,omitempty"`
	Data     interface{}      `json:"data,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
