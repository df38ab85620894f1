package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrMalformedFrame is returned when a frame cannot be decoded.
var ErrMalformedFrame = errors.New("rpc: malformed frame")

// Signer signs the JSON encoding of a payload.
type Signer func(payload []byte) ([]byte, error)

// Payload is the positional body of a request or response.
type Payload struct {
	RequestID uint64
	Method    Method
	Params    json.RawMessage
	Timestamp uint64
}

// MarshalJSON encodes the payload as [id, method, params, timestamp].
func (p Payload) MarshalJSON() ([]byte, error) {
	params := p.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	return json.Marshal([]any{p.RequestID, p.Method, params, p.Timestamp})
}

// UnmarshalJSON decodes the positional form.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("%w: payload is not an array: %v", ErrMalformedFrame, err)
	}
	if len(parts) < 3 {
		return fmt.Errorf("%w: payload has %d elements", ErrMalformedFrame, len(parts))
	}
	if err := json.Unmarshal(parts[0], &p.RequestID); err != nil {
		return fmt.Errorf("%w: request id: %v", ErrMalformedFrame, err)
	}
	if err := json.Unmarshal(parts[1], &p.Method); err != nil {
		return fmt.Errorf("%w: method: %v", ErrMalformedFrame, err)
	}
	if p.Method == "" {
		return fmt.Errorf("%w: empty method", ErrMalformedFrame)
	}
	p.Params = append(json.RawMessage(nil), bytes.TrimSpace(parts[2])...)
	if len(parts) > 3 {
		if err := json.Unmarshal(parts[3], &p.Timestamp); err != nil {
			return fmt.Errorf("%w: timestamp: %v", ErrMalformedFrame, err)
		}
	}
	return nil
}

// SigningBytes returns the bytes a signature over this payload covers.
func (p Payload) SigningBytes() ([]byte, error) {
	return json.Marshal(p)
}

// Frame is the envelope exchanged over the transport. Exactly one of Req and
// Res is set.
type Frame struct {
	Req *Payload `json:"req,omitempty"`
	Res *Payload `json:"res,omitempty"`
	Sig []string `json:"sig,omitempty"`
}

// NewRequest builds an unsigned request frame.
func NewRequest(id uint64, method Method, params any, now time.Time) (Frame, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Req: &Payload{
		RequestID: id,
		Method:    method,
		Params:    raw,
		Timestamp: uint64(now.UnixMilli()),
	}}, nil
}

// NewResponse builds an unsigned response frame.
func NewResponse(id uint64, method Method, params any, now time.Time) (Frame, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Res: &Payload{
		RequestID: id,
		Method:    method,
		Params:    raw,
		Timestamp: uint64(now.UnixMilli()),
	}}, nil
}

// NewError builds an error response to request id.
func NewError(id uint64, message string, now time.Time) Frame {
	f, _ := NewResponse(id, MethodError, ErrorParams{Error: message}, now)
	return f
}

func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return json.RawMessage("{}"), nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode params: %w", err)
	}
	return b, nil
}

// Payload returns whichever payload the frame carries.
func (f Frame) Payload() *Payload {
	if f.Req != nil {
		return f.Req
	}
	return f.Res
}

// Sign appends sign's signature over the frame payload.
func (f *Frame) Sign(sign Signer) error {
	p := f.Payload()
	if p == nil {
		return fmt.Errorf("%w: no payload", ErrMalformedFrame)
	}
	msg, err := p.SigningBytes()
	if err != nil {
		return err
	}
	sig, err := sign(msg)
	if err != nil {
		return fmt.Errorf("rpc: sign %s: %w", p.Method, err)
	}
	f.Sig = append(f.Sig, hexutil.Encode(sig))
	return nil
}

// Signatures decodes the hex signatures attached to the frame.
func (f Frame) Signatures() ([][]byte, error) {
	out := make([][]byte, 0, len(f.Sig))
	for _, s := range f.Sig {
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: signature: %v", ErrMalformedFrame, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// Encode serialises the frame.
func (f Frame) Encode() ([]byte, error) {
	if (f.Req == nil) == (f.Res == nil) {
		return nil, fmt.Errorf("%w: frame must carry exactly one payload", ErrMalformedFrame)
	}
	return json.Marshal(f)
}

// Decode parses a frame received from the transport.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		if errors.Is(err, ErrMalformedFrame) {
			return Frame{}, err
		}
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if (f.Req == nil) == (f.Res == nil) {
		return Frame{}, fmt.Errorf("%w: frame must carry exactly one payload", ErrMalformedFrame)
	}
	return f, nil
}
