package realtime

import (
	"encoding/json"

	"github.com/Exelery/else-bot/internal/account"
)

// Frame is a decoded inbound realtime message. Exactly one concrete type is
// produced per raw frame.
type Frame interface {
	isFrame()
}

// PushFrame carries a server-pushed balance/rate snapshot.
type PushFrame struct {
	Data account.RealtimeData
}

// ErrorFrame is a server-reported channel error. Code "token-expired" means
// the session token was rejected and the connection is about to be useless.
type ErrorFrame struct {
	Code string
}

// OtherFrame is any well-formed frame the client has no handling for, kept
// around for debug logging.
type OtherFrame struct {
	Raw json.RawMessage
}

func (PushFrame) isFrame()  {}
func (ErrorFrame) isFrame() {}
func (OtherFrame) isFrame() {}

// rawFrame mirrors the wire shape before classification.
type rawFrame struct {
	Data  json.RawMessage `json:"data"`
	Error *string         `json:"error"`
}

// decodeFrame classifies one raw inbound message. A frame with a non-null
// error field is an ErrorFrame; a frame whose data carries a balance is a
// push; everything else falls through to OtherFrame. Malformed JSON returns
// an error and the frame is dropped by the caller.
func decodeFrame(payload []byte) (Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}

	if raw.Error != nil {
		return ErrorFrame{Code: *raw.Error}, nil
	}

	if len(raw.Data) > 0 {
		var rd account.RealtimeData
		if err := json.Unmarshal(raw.Data, &rd); err == nil && rd.Balance != nil {
			return PushFrame{Data: rd}, nil
		}
	}

	return OtherFrame{Raw: json.RawMessage(payload)}, nil
}
