package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// Reply is the wire envelope of a call result. Substrates that move bytes
// between processes encode handler results with EncodeReply and decode them
// with DecodeReply so error kinds survive the trip.
type Reply struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// EncodeReply packs a handler result.
func EncodeReply(payload []byte, err error) []byte {
	r := Reply{}
	if err != nil {
		r.Kind = rterr.KindOf(err).String()
		r.Error = err.Error()
	} else if len(payload) > 0 {
		r.Payload = payload
	}
	b, mErr := json.Marshal(r)
	if mErr != nil {
		// Payload is not valid JSON; ship it as an error rather than drop it.
		b, _ = json.Marshal(Reply{Kind: rterr.KindBadParameter.String(), Error: mErr.Error()})
	}
	return b
}

// DecodeReply unpacks an envelope produced by EncodeReply.
func DecodeReply(b []byte) ([]byte, error) {
	var r Reply
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("%w: malformed reply: %v", ErrRemoteCallFailed, err)
	}
	if r.Error != "" || r.Kind != "" {
		return nil, &rterr.Error{Kind: rterr.ParseKind(r.Kind), Err: errors.New(r.Error)}
	}
	return r.Payload, nil
}

func notFoundMethod(method string) error {
	return rterr.NotFound("call", method, "no such method")
}

func badPayload(err error) error {
	return rterr.Wrap(rterr.KindBadParameter, "decode", "payload", err)
}
