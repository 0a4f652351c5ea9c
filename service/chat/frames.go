package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"medishare/module/chat/model"
	"medishare/tools/errs"
)

// Event names on the realtime channel. Client to server:
const (
	EvtJoinRoom    = "joinRoom"
	EvtSendMessage = "sendMessage"
	EvtTyping      = "typing"
	EvtStopTyping  = "stopTyping"
	EvtLeaveRoom   = "leaveRoom"
)

// Server to client:
const (
	EvtAck            = "ack"
	EvtJoinSuccess    = "joinSuccess"
	EvtReceiveMessage = "receiveMessage"
	EvtUserJoined     = "userJoined"
	EvtUserLeft       = "userLeft"
	EvtUserTyping     = "userTyping"
	EvtUserStopTyping = "userStoppedTyping"
	EvtError          = "error"
)

// Frame is the JSON envelope for both directions of the realtime channel.
// Unused fields are omitted on the wire. receiveMessage carries the message
// fields inline (_id, senderId, ...); acks nest the persisted message under
// "message" so the sender can reconcile with the exact broadcast copy.
type Frame struct {
	Type      string `json:"type"`
	AckID     string `json:"ackId,omitempty"`
	ListingID string `json:"listingId,omitempty"`
	Text      string `json:"text,omitempty"`

	// Client-supplied identity hints. The gateway never trusts these; the
	// authenticated handshake identity is authoritative.
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`

	// Inline message fields (receiveMessage).
	MsgID      string `json:"_id,omitempty"`
	SenderID   string `json:"senderId,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`

	// joinSuccess payload.
	ChatID       string              `json:"chatId,omitempty"`
	Participants []model.Participant `json:"participants,omitempty"`

	// Ack payload.
	Success bool           `json:"success,omitempty"`
	Message *model.Message `json:"message,omitempty"`

	// Error payload (acks and error events).
	ErrMsg string `json:"error,omitempty"`
	Code   int    `json:"code,omitempty"`

	Ts int64 `json:"ts,omitempty"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	frame := &Frame{}
	if err := json.Unmarshal(raw, frame); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if frame.Type == "" {
		return nil, fmt.Errorf("frame missing type")
	}
	return frame, nil
}

func (f *Frame) Encode() []byte {
	b, _ := json.Marshal(f)
	return b
}

// AsMessage rebuilds a model.Message from the inline fields of a
// receiveMessage frame.
func (f *Frame) AsMessage() *model.Message {
	return &model.Message{
		ID:         f.MsgID,
		SenderID:   f.SenderID,
		SenderName: f.SenderName,
		Text:       f.Text,
		Timestamp:  time.UnixMilli(f.Timestamp).UTC(),
	}
}

// ---- server frame builders ----

func BuildJoinSuccess(room *model.Room) *Frame {
	return &Frame{
		Type:         EvtJoinSuccess,
		ListingID:    room.ListingID,
		ChatID:       room.ListingID,
		Participants: room.Participants,
		Ts:           time.Now().UnixMilli(),
	}
}

func BuildReceiveMessage(listingID string, msg *model.Message) *Frame {
	return &Frame{
		Type:       EvtReceiveMessage,
		ListingID:  listingID,
		MsgID:      msg.ID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Text:       msg.Text,
		Timestamp:  msg.Timestamp.UnixMilli(),
		Ts:         msg.Timestamp.UnixMilli(),
	}
}

func BuildAckOK(ackID string, msg *model.Message) *Frame {
	return &Frame{
		Type:    EvtAck,
		AckID:   ackID,
		Success: true,
		Message: msg,
		Ts:      time.Now().UnixMilli(),
	}
}

func BuildAckError(ackID string, err error) *Frame {
	ce := errs.AsCodeError(err)
	return &Frame{
		Type:   EvtAck,
		AckID:  ackID,
		ErrMsg: ce.Msg,
		Code:   ce.Code,
		Ts:     time.Now().UnixMilli(),
	}
}

func BuildErrorFrame(err error) *Frame {
	ce := errs.AsCodeError(err)
	return &Frame{
		Type:   EvtError,
		ErrMsg: ce.Msg,
		Code:   ce.Code,
		Ts:     time.Now().UnixMilli(),
	}
}

// BuildPresence covers userJoined/userLeft/userTyping/userStoppedTyping.
func BuildPresence(evt, listingID, userID, userName string) *Frame {
	return &Frame{
		Type:      evt,
		ListingID: listingID,
		UserID:    userID,
		UserName:  userName,
		Ts:        time.Now().UnixMilli(),
	}
}
