package body

import (
	"bytes"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trailerReadCloser struct {
	io.Reader
	trailer http.Header
}

func (t *trailerReadCloser) Close() error         { return nil }
func (t *trailerReadCloser) Trailer() http.Header { return t.trailer }

func TestSSEDecoderBasic(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("data: hello\n\ndata: world\n\n")
	d := NewSSEDecoder(0)

	f1, ok, err := d.Decode(&buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(f1.Data))

	f2, ok, err := d.Decode(&buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "world", string(f2.Data))

	_, ok, err = d.Decode(&buf)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSSEDecoderDoneSentinel(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("data: [DONE]\n\n")
	d := NewSSEDecoder(0)
	f, ok, err := d.Decode(&buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, IsDone(f))
}

// TestTransformPreservesTrailersAndOrder is spec.md scenario S6: three
// SSE events transformed, [DONE] passed through unchanged, trailer
// preserved.
func TestTransformPreservesTrailersAndOrder(t *testing.T) {
	raw := `data: {"msg":1,"type":"input"}

data: {"msg":2,"type":"input"}

data: [DONE]

`
	src := &trailerReadCloser{
		Reader:  bytes.NewReader([]byte(raw)),
		trailer: http.Header{"K": []string{"v"}},
	}

	handler := func(f Frame) (Frame, bool, error) {
		if IsDone(f) {
			return DoneFrame(), true, nil
		}
		transformed := bytes.Replace(f.Data, []byte(`"type":"input"`), []byte(`"status":"processed_input"`), 1)
		return Frame{Data: transformed}, true, nil
	}

	tb := Transform(src, NewSSEDecoder(0), SSEEncoder{}, handler)
	out, err := io.ReadAll(tb)
	require.NoError(t, err)

	dec := NewSSEDecoder(0)
	buf := bytes.NewBuffer(out)
	var events []string
	for {
		f, ok, err := dec.Decode(buf)
		require.NoError(t, err)
		if !ok {
			break
		}
		events = append(events, string(f.Data))
	}
	require.Len(t, events, 3)
	assert.Contains(t, events[0], `"status":"processed_input"`)
	assert.Contains(t, events[1], `"status":"processed_input"`)
	assert.Equal(t, "[DONE]", events[2])

	assert.Equal(t, "v", tb.Trailer().Get("K"))
}

func TestPassthroughForwardsBytesUnchanged(t *testing.T) {
	raw := "data: a\n\ndata: b\n\n"
	src := &trailerReadCloser{Reader: bytes.NewReader([]byte(raw))}

	var observed []string
	p := Passthrough(src, NewSSEDecoder(0), func(f Frame) {
		observed = append(observed, string(f.Data))
	})

	out, err := io.ReadAll(p)
	require.NoError(t, err)
	assert.Equal(t, raw, string(out))
	assert.Equal(t, []string{"a", "b"}, observed)
}

func TestAWSEventStreamDecoder(t *testing.T) {
	msg := buildAWSMessage(t, []byte("payload-bytes"))
	buf := bytes.NewBuffer(msg)
	d := AWSEventStreamDecoder{}
	f, ok, err := d.Decode(buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload-bytes", string(f.Data))
}

func buildAWSMessage(t *testing.T, payload []byte) []byte {
	t.Helper()
	headersLen := 0
	totalLen := awsPreludeLen + headersLen + len(payload) + 4
	buf := make([]byte, 0, totalLen)
	b4 := func(v uint32) []byte {
		return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	}
	buf = append(buf, b4(uint32(totalLen))...)
	buf = append(buf, b4(uint32(headersLen))...)
	buf = append(buf, b4(0)...) // prelude crc, unchecked
	buf = append(buf, payload...)
	buf = append(buf, b4(0)...) // message crc, unchecked
	return buf
}
