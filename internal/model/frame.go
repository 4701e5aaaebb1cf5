package model

import "encoding/json"

type FrameType string

const (
	FrameNotification FrameType = "notification"
	FrameAck          FrameType = "ack"
	FrameHeartbeat    FrameType = "heartbeat"
)

// Frame is the typed message exchanged on a live connection.
// notification: server→client push, Data holds the Notification.
// ack: client→server, NotificationID references the acked push.
// heartbeat: either direction, no payload.
type Frame struct {
	Type           FrameType       `json:"type"`
	NotificationID string          `json:"notification_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

func NewNotificationFrame(n Notification) (Frame, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameNotification, NotificationID: n.ID, Data: b}, nil
}
