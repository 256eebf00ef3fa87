package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"

	"pgregory.net/rapid"

	"github.com/example/go-urltok/internal/batch"
	"github.com/example/go-urltok/internal/tokenizer"
)

// countingPool tracks outstanding buffers so tests can assert that every
// buffer handed out is returned exactly once.
type countingPool struct {
	mu          sync.Mutex
	outstanding map[*[]byte]bool
	gets, puts  int
	doublePut   bool
}

func newCountingPool() *countingPool {
	return &countingPool{outstanding: make(map[*[]byte]bool)}
}

func (p *countingPool) get(n int) *[]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := make([]byte, n)
	p.outstanding[&b] = true
	p.gets++
	return &b
}

func (p *countingPool) put(b *[]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.outstanding[b] {
		p.doublePut = true
		return
	}
	delete(p.outstanding, b)
	p.puts++
}

func (p *countingPool) assertBalanced(t *testing.T) {
	t.Helper()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.doublePut {
		t.Error("buffer released more than once")
	}
	if len(p.outstanding) != 0 {
		t.Errorf("%d buffers leaked (gets=%d puts=%d)", len(p.outstanding), p.gets, p.puts)
	}
}

func useCountingPool(t *testing.T) *countingPool {
	t.Helper()

	p := newCountingPool()
	orig := buffers
	buffers = p
	t.Cleanup(func() { buffers = orig })
	return p
}

func rawFrame(payload string) []byte {
	return AppendFrame(nil, []byte(payload))
}

func sampleResult() batch.Result {
	return batch.Result{
		{Tokens: tokenizer.TokenizedURL{
			{Kind: tokenizer.KindScheme, Value: "https"},
			{Kind: tokenizer.KindHost, Value: "www"},
			{Kind: tokenizer.KindHost, Value: "google"},
			{Kind: tokenizer.KindHost, Value: "com"},
			{Kind: tokenizer.KindPath, Value: "hallo"},
			{Kind: tokenizer.KindPath, Value: "essen"},
		}},
		{Err: &batch.ItemError{Code: batch.CodeMalformedURL, Message: "malformed url: missing scheme"}},
		{Tokens: tokenizer.TokenizedURL{}},
	}
}

// ---------------------------------------------------------------------------
// Round trips
// ---------------------------------------------------------------------------

func TestRequestRoundTrip(t *testing.T) {
	var c Codec
	req := batch.Request{"https://www.google.com/hallo/essen", "not a url", ""}

	b, err := c.EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	if got := binary.LittleEndian.Uint64(b[:HeaderSize]); got != uint64(len(b)-HeaderSize) {
		t.Fatalf("header = %d; want %d", got, len(b)-HeaderSize)
	}

	got, err := c.DecodeRequest(b)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}

	if !reflect.DeepEqual(got, req) {
		t.Errorf("DecodeRequest = %q; want %q", got, req)
	}
}

func TestResultRoundTrip(t *testing.T) {
	var c Codec
	res := sampleResult()

	b, err := c.EncodeResult(res)
	if err != nil {
		t.Fatalf("EncodeResult: %v", err)
	}

	got, err := c.DecodeResult(b)
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}

	if !reflect.DeepEqual(got, res) {
		t.Errorf("DecodeResult = %+v; want %+v", got, res)
	}
}

func TestEncodeRequest_WireFormat(t *testing.T) {
	b, err := Codec{}.EncodeRequest(batch.Request{"https://a.com"})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	want := `{"version":1,"type":"request","urls":["https://a.com"]}`
	if got := string(b[HeaderSize:]); got != want {
		t.Errorf("payload = %s; want %s", got, want)
	}
}

func TestEncodeEmpty(t *testing.T) {
	var c Codec

	b, err := c.EncodeRequest(nil)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if !strings.Contains(string(b), `"urls":[]`) {
		t.Errorf("empty request payload = %s; want urls:[]", b[HeaderSize:])
	}

	req, err := c.DecodeRequest(b)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req == nil || len(req) != 0 {
		t.Errorf("DecodeRequest = %#v; want empty non-nil", req)
	}

	b, err = c.EncodeResult(nil)
	if err != nil {
		t.Fatalf("EncodeResult: %v", err)
	}
	res, err := c.DecodeResult(b)
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if res == nil || len(res) != 0 {
		t.Errorf("DecodeResult = %#v; want empty non-nil", res)
	}
}

func TestRequestRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		urls := rapid.SliceOfN(rapid.String(), 0, 20).Draw(t, "urls")

		b, err := Codec{}.EncodeRequest(urls)
		if err != nil {
			t.Fatalf("EncodeRequest: %v", err)
		}

		got, err := Codec{}.DecodeRequest(b)
		if err != nil {
			t.Fatalf("DecodeRequest: %v", err)
		}

		if len(got) != len(urls) {
			t.Fatalf("len = %d; want %d", len(got), len(urls))
		}
		for i := range urls {
			if got[i] != urls[i] && strings.ToValidUTF8(urls[i], "�") != got[i] {
				t.Fatalf("url %d = %q; want %q", i, got[i], urls[i])
			}
		}
	})
}

func TestResultRoundTripProperty(t *testing.T) {
	kinds := []tokenizer.Kind{
		tokenizer.KindScheme, tokenizer.KindHost, tokenizer.KindPath,
		tokenizer.KindQueryKey, tokenizer.KindQueryValue, tokenizer.KindFragment,
	}
	tokenGen := rapid.Custom(func(t *rapid.T) tokenizer.Token {
		return tokenizer.Token{
			Kind:  rapid.SampledFrom(kinds).Draw(t, "kind"),
			Value: rapid.StringMatching(`[a-zA-Z0-9äöü .-]{1,8}`).Draw(t, "value"),
		}
	})
	itemGen := rapid.Custom(func(t *rapid.T) batch.Item {
		if rapid.Bool().Draw(t, "failed") {
			return batch.Item{Err: &batch.ItemError{
				Code:    rapid.SampledFrom([]batch.ErrorCode{batch.CodeMalformedURL, batch.CodeInternalFault}).Draw(t, "code"),
				Message: rapid.StringMatching(`[a-z :]{0,20}`).Draw(t, "message"),
			}}
		}
		toks := rapid.SliceOfN(tokenGen, 0, 8).Draw(t, "tokens")
		return batch.Item{Tokens: append(tokenizer.TokenizedURL{}, toks...)}
	})

	rapid.Check(t, func(t *rapid.T) {
		res := batch.Result(rapid.SliceOfN(itemGen, 0, 10).Draw(t, "items"))

		b, err := Codec{}.EncodeResult(res)
		if err != nil {
			t.Fatalf("EncodeResult: %v", err)
		}

		got, err := Codec{}.DecodeResult(b)
		if err != nil {
			t.Fatalf("DecodeResult: %v", err)
		}

		if len(got) != len(res) {
			t.Fatalf("len = %d; want %d", len(got), len(res))
		}
		for i := range res {
			if !reflect.DeepEqual(got[i], res[i]) {
				t.Fatalf("item %d = %+v; want %+v", i, got[i], res[i])
			}
		}
	})
}

// ---------------------------------------------------------------------------
// Frame validation
// ---------------------------------------------------------------------------

func TestDecode_FrameErrors(t *testing.T) {
	valid := rawFrame(`{"version":1,"type":"request","urls":[]}`)

	truncated := binary.LittleEndian.AppendUint64(nil, 1000)
	truncated = append(truncated, `{"version":1}`...)

	huge := binary.LittleEndian.AppendUint64(nil, 1<<62)

	tests := []struct {
		name string
		in   []byte
		kind error
	}{
		{"empty input", nil, ErrShortHeader},
		{"partial header", []byte{1, 0, 0}, ErrShortHeader},
		{"declared length exceeds payload", truncated, ErrTruncated},
		{"trailing bytes", append(append([]byte{}, valid...), 'x'), ErrTrailingBytes},
		{"declared length over limit", huge, ErrFrameTooLarge},
		{"not json", rawFrame(`not json`), ErrPayload},
		{"wrong version", rawFrame(`{"version":2,"type":"request","urls":[]}`), ErrVersion},
		{"missing version", rawFrame(`{"type":"request","urls":[]}`), ErrVersion},
		{"result instead of request", rawFrame(`{"version":1,"type":"result","items":[]}`), ErrType},
		{"urls not strings", rawFrame(`{"version":1,"type":"request","urls":[1,2]}`), ErrPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Codec{}.DecodeRequest(tt.in)
			if err == nil {
				t.Fatal("expected error")
			}

			if !errors.Is(err, ErrCodec) {
				t.Errorf("error %v does not wrap ErrCodec", err)
			}

			if !errors.Is(err, tt.kind) {
				t.Errorf("error %v does not wrap %v", err, tt.kind)
			}
		})
	}
}

func TestDecodeResult_PayloadErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"unknown token kind", `{"version":1,"type":"result","items":[{"tokens":[{"kind":"port","value":"80"}]}]}`},
		{"tokens and error", `{"version":1,"type":"result","items":[{"tokens":[{"kind":"path","value":"a"}],"error":{"code":"malformed_url","message":"x"}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Codec{}.DecodeResult(rawFrame(tt.payload))
			if !errors.Is(err, ErrPayload) {
				t.Fatalf("err = %v; want ErrPayload", err)
			}
		})
	}
}

func TestDecode_CustomMaxFrameBytes(t *testing.T) {
	c := Codec{MaxFrameBytes: 16}

	b, err := c.EncodeRequest(batch.Request{"https://example.com/long"})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	if _, err := c.DecodeRequest(b); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v; want ErrFrameTooLarge", err)
	}
}

func TestReason(t *testing.T) {
	_, err := Codec{}.DecodeRequest([]byte{1})
	if got := Reason(err); got != "short_header" {
		t.Errorf("Reason = %q; want short_header", got)
	}

	if got := Reason(errors.New("boom")); got != "other" {
		t.Errorf("Reason = %q; want other", got)
	}
}

// ---------------------------------------------------------------------------
// Stream reads and buffer ownership
// ---------------------------------------------------------------------------

func TestReadRequest_StreamOfFrames(t *testing.T) {
	pool := useCountingPool(t)

	var stream bytes.Buffer
	c := Codec{}
	if err := c.WriteRequest(&stream, batch.Request{"https://a.com"}); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	if err := c.WriteRequest(&stream, batch.Request{"https://b.com", "https://c.com"}); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}

	first, err := c.ReadRequest(&stream)
	if err != nil {
		t.Fatalf("ReadRequest #1: %v", err)
	}
	second, err := c.ReadRequest(&stream)
	if err != nil {
		t.Fatalf("ReadRequest #2: %v", err)
	}
	if _, err := c.ReadRequest(&stream); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadRequest #3 err = %v; want io.EOF", err)
	}

	if len(first) != 1 || len(second) != 2 || second[1] != "https://c.com" {
		t.Errorf("unexpected requests %q %q", first, second)
	}

	pool.assertBalanced(t)
	if pool.gets != 2 {
		t.Errorf("gets = %d; want 2", pool.gets)
	}
}

func TestReadRequest_ReleasesBufferOnDecodeFailure(t *testing.T) {
	pool := useCountingPool(t)

	_, err := Codec{}.ReadRequest(bytes.NewReader(rawFrame(`{"version":9}`)))
	if !errors.Is(err, ErrVersion) {
		t.Fatalf("err = %v; want ErrVersion", err)
	}

	pool.assertBalanced(t)
	if pool.gets != 1 {
		t.Errorf("gets = %d; want 1", pool.gets)
	}
}

func TestReadFrame_ReleasesBufferOnTruncatedPayload(t *testing.T) {
	pool := useCountingPool(t)

	b := binary.LittleEndian.AppendUint64(nil, 64)
	b = append(b, "short"...)

	_, err := ReadFrame(bytes.NewReader(b), DefaultMaxFrameBytes)
	if !errors.Is(err, ErrTruncated) || !errors.Is(err, ErrCodec) {
		t.Fatalf("err = %v; want ErrTruncated", err)
	}

	pool.assertBalanced(t)
}

func TestReadFrame_RejectsOversizeBeforeAllocating(t *testing.T) {
	pool := useCountingPool(t)

	b := binary.LittleEndian.AppendUint64(nil, 1<<40)
	_, err := ReadFrame(bytes.NewReader(b), 1024)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v; want ErrFrameTooLarge", err)
	}

	if pool.gets != 0 {
		t.Errorf("gets = %d; want 0", pool.gets)
	}
}

func TestReadFrame_ShortHeader(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), DefaultMaxFrameBytes)
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("err = %v; want ErrShortHeader", err)
	}
}

func TestFrame_ReleaseIsIdempotent(t *testing.T) {
	pool := useCountingPool(t)

	f, err := ReadFrame(bytes.NewReader(rawFrame("hello")), DefaultMaxFrameBytes)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	if string(f.Payload()) != "hello" {
		t.Errorf("Payload = %q; want hello", f.Payload())
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Release()
		}()
	}
	wg.Wait()

	if f.Payload() != nil {
		t.Error("Payload must be nil after Release")
	}

	pool.assertBalanced(t)
	if pool.puts != 1 {
		t.Errorf("puts = %d; want 1", pool.puts)
	}
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("abc")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	if !bytes.Equal(buf.Bytes(), []byte{3, 0, 0, 0, 0, 0, 0, 0, 'a', 'b', 'c'}) {
		t.Errorf("frame = %v", buf.Bytes())
	}
}

// ---------------------------------------------------------------------------
// Terms
// ---------------------------------------------------------------------------

func TestTerms(t *testing.T) {
	got := Terms(sampleResult())
	want := [][]string{
		{"https", "www", "google", "com", "hallo", "essen"},
		{},
		{},
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Terms = %v; want %v", got, want)
	}
}
