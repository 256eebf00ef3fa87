// Package codec implements the transport frame used to move batch requests
// and results across a process or network boundary.
//
// A frame is an 8-byte little-endian unsigned payload length followed by
// exactly that many payload bytes. The payload is a versioned JSON envelope:
//
//	{"version":1,"type":"request","urls":["https://example.com/a"]}
//	{"version":1,"type":"result","items":[{"tokens":[{"kind":"scheme","value":"https"}]},
//	                                      {"error":{"code":"malformed_url","message":"..."}}]}
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/example/go-urltok/internal/batch"
	"github.com/example/go-urltok/internal/tokenizer"
)

// Version is the envelope version written by this package.
const Version = 1

const (
	typeRequest = "request"
	typeResult  = "result"
)

// ErrCodec is wrapped by every frame or payload decoding failure.
var ErrCodec = errors.New("codec error")

// Failure kinds, each wrapped together with ErrCodec.
var (
	ErrShortHeader   = errors.New("short frame header")
	ErrTruncated     = errors.New("truncated frame")
	ErrTrailingBytes = errors.New("trailing bytes after frame")
	ErrFrameTooLarge = errors.New("frame too large")
	ErrPayload       = errors.New("invalid payload")
	ErrVersion       = errors.New("unsupported version")
	ErrType          = errors.New("unexpected envelope type")
)

func fail(op string, kind, detail error) error {
	return fmt.Errorf("%s: %w: %w: %v", op, ErrCodec, kind, detail)
}

// Reason returns a short label for a codec failure, for metrics and logs.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrShortHeader):
		return "short_header"
	case errors.Is(err, ErrTruncated):
		return "truncated"
	case errors.Is(err, ErrTrailingBytes):
		return "trailing_bytes"
	case errors.Is(err, ErrFrameTooLarge):
		return "too_large"
	case errors.Is(err, ErrVersion):
		return "version"
	case errors.Is(err, ErrType):
		return "type"
	case errors.Is(err, ErrPayload):
		return "payload"
	default:
		return "other"
	}
}

type requestEnvelope struct {
	Version int      `json:"version"`
	Type    string   `json:"type"`
	URLs    []string `json:"urls"`
}

type resultEnvelope struct {
	Version int          `json:"version"`
	Type    string       `json:"type"`
	Items   []batch.Item `json:"items"`
}

// Codec encodes and decodes frames. The zero value uses DefaultMaxFrameBytes.
type Codec struct {
	MaxFrameBytes uint64
}

func (c Codec) maxBytes() uint64 {
	if c.MaxFrameBytes == 0 {
		return DefaultMaxFrameBytes
	}
	return c.MaxFrameBytes
}

// EncodeRequest returns req as a complete frame.
func (c Codec) EncodeRequest(req batch.Request) ([]byte, error) {
	urls := []string(req)
	if urls == nil {
		urls = []string{}
	}
	return encode(requestEnvelope{Version: Version, Type: typeRequest, URLs: urls})
}

// EncodeResult returns res as a complete frame.
func (c Codec) EncodeResult(res batch.Result) ([]byte, error) {
	items := []batch.Item(res)
	if items == nil {
		items = []batch.Item{}
	}
	return encode(resultEnvelope{Version: Version, Type: typeResult, Items: items})
}

// DecodeRequest parses a complete request frame.
func (c Codec) DecodeRequest(b []byte) (batch.Request, error) {
	payload, err := SplitFrame(b, c.maxBytes())
	if err != nil {
		return nil, err
	}
	return decodeRequestPayload(payload)
}

// DecodeResult parses a complete result frame.
func (c Codec) DecodeResult(b []byte) (batch.Result, error) {
	payload, err := SplitFrame(b, c.maxBytes())
	if err != nil {
		return nil, err
	}
	return decodeResultPayload(payload)
}

// ReadRequest reads and decodes one request frame from r. It returns io.EOF
// when r is exhausted at a frame boundary.
func (c Codec) ReadRequest(r io.Reader) (batch.Request, error) {
	f, err := ReadFrame(r, c.maxBytes())
	if err != nil {
		return nil, err
	}
	defer f.Release()

	return decodeRequestPayload(f.Payload())
}

// ReadResult reads and decodes one result frame from r.
func (c Codec) ReadResult(r io.Reader) (batch.Result, error) {
	f, err := ReadFrame(r, c.maxBytes())
	if err != nil {
		return nil, err
	}
	defer f.Release()

	return decodeResultPayload(f.Payload())
}

// WriteRequest encodes req and writes it to w as one frame.
func (c Codec) WriteRequest(w io.Writer, req batch.Request) error {
	b, err := c.EncodeRequest(req)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// WriteResult encodes res and writes it to w as one frame.
func (c Codec) WriteResult(w io.Writer, res batch.Result) error {
	b, err := c.EncodeResult(res)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func encode(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return AppendFrame(make([]byte, 0, HeaderSize+len(payload)), payload), nil
}

func decodeRequestPayload(payload []byte) (batch.Request, error) {
	var env requestEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fail("decode request", ErrPayload, err)
	}
	if err := checkHeader(env.Version, env.Type, typeRequest); err != nil {
		return nil, fail("decode request", err, fmt.Errorf("version %d type %q", env.Version, env.Type))
	}

	req := make(batch.Request, len(env.URLs))
	copy(req, env.URLs)
	return req, nil
}

func decodeResultPayload(payload []byte) (batch.Result, error) {
	var env resultEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fail("decode result", ErrPayload, err)
	}
	if err := checkHeader(env.Version, env.Type, typeResult); err != nil {
		return nil, fail("decode result", err, fmt.Errorf("version %d type %q", env.Version, env.Type))
	}

	res := make(batch.Result, len(env.Items))
	for i, it := range env.Items {
		if it.Err != nil {
			if len(it.Tokens) > 0 {
				return nil, fail("decode result", ErrPayload, fmt.Errorf("item %d has both tokens and error", i))
			}
			res[i] = batch.Item{Err: it.Err}
			continue
		}
		for _, tok := range it.Tokens {
			if !tok.Kind.Valid() {
				return nil, fail("decode result", ErrPayload, fmt.Errorf("item %d: unknown token kind %q", i, tok.Kind))
			}
		}
		if it.Tokens == nil {
			it.Tokens = tokenizer.TokenizedURL{}
		}
		res[i] = it
	}
	return res, nil
}

func checkHeader(version int, typ, want string) error {
	if version != Version {
		return ErrVersion
	}
	if typ != want {
		return ErrType
	}
	return nil
}

// Terms flattens res into one term list per item, the legacy "list of token
// lists" response shape. Failed items become empty lists.
func Terms(res batch.Result) [][]string {
	out := make([][]string, len(res))
	for i, it := range res {
		if it.Err != nil {
			out[i] = []string{}
			continue
		}
		out[i] = it.Tokens.Terms()
	}
	return out
}
