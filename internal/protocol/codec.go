package protocol

import (
	"encoding/json"
	"fmt"
)

// UnknownTypeError reports a frame with a type code the decoder does not
// know. The handler answers it with an UNKNOWN_MESSAGE error.
type UnknownTypeError struct {
	Type      Type
	MessageID string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type %d", e.Type)
}

// Encode marshals a message into one newline-terminated frame.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode reads the type discriminator first, then unmarshals the concrete
// message for that type.
func Decode(frame []byte) (any, error) {
	var probe struct {
		Type      *Type  `json:"type"`
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if probe.Type == nil {
		return nil, fmt.Errorf("decode frame: missing type")
	}

	msg := newMessage(*probe.Type)
	if msg == nil {
		return nil, &UnknownTypeError{Type: *probe.Type, MessageID: probe.MessageID}
	}
	if err := json.Unmarshal(frame, msg); err != nil {
		return nil, fmt.Errorf("decode type %d: %w", *probe.Type, err)
	}
	return msg, nil
}

func newMessage(t Type) any {
	switch t {
	case TypeConnect:
		return &Connect{}
	case TypeConnectResponse:
		return &ConnectResponse{}
	case TypeDisconnect:
		return &Disconnect{}
	case TypeHeartbeat:
		return &Heartbeat{}
	case TypeHeartbeatAck:
		return &HeartbeatAck{}
	case TypeLogin:
		return &Login{}
	case TypeLoginResponse:
		return &LoginResponse{}
	case TypeLogout:
		return &Logout{}
	case TypeRegister:
		return &Register{}
	case TypeRegisterResponse:
		return &RegisterResponse{}
	case TypeFindMatch:
		return &FindMatch{}
	case TypeCancelFindMatch:
		return &CancelFindMatch{}
	case TypeMatchFound:
		return &MatchFound{}
	case TypeQueueStatus:
		return &QueueStatus{}
	case TypeGameStart:
		return &GameStart{}
	case TypeGameState:
		return &GameState{}
	case TypeGameEnd:
		return &GameEnd{}
	case TypeMoveRequest:
		return &MoveRequest{}
	case TypeMoveResponse:
		return &MoveResponse{}
	case TypeMoveNotification:
		return &MoveNotification{}
	case TypeResign:
		return &Resign{}
	case TypeOfferDraw:
		return &OfferDraw{}
	case TypeDrawOffered:
		return &DrawOffered{}
	case TypeAcceptDraw:
		return &AcceptDraw{}
	case TypeDeclineDraw:
		return &DeclineDraw{}
	case TypeTimeUpdate:
		return &TimeUpdate{}
	case TypeTimeoutWarning:
		return &TimeoutWarning{}
	case TypeError:
		return &Error{}
	}
	return nil
}
