package netstring

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("test good.loc"),
		bytes.Repeat([]byte("x"), 4096),
	}
	for _, s := range cases {
		enc := Encode(s)
		out, err := DecodeAll(enc, 1<<20)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, s, out[0])
	}
}

func TestDecodeConcatenated(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Encode([]byte("one")))
	buf.Write(Encode([]byte("two")))
	buf.Write(Encode([]byte("three")))

	out, err := DecodeAll(buf.Bytes(), 1<<20)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "one", string(out[0]))
	assert.Equal(t, "two", string(out[1]))
	assert.Equal(t, "three", string(out[2]))
}

// TestStreamingChunks verifies that feeding the encoding of several
// netstrings through the Decoder in arbitrary byte-sized chunks yields the
// same sequence as decoding the buffer whole, i.e. decode results do not
// depend on how the underlying reader splits its reads.
func TestStreamingChunks(t *testing.T) {
	var buf bytes.Buffer
	want := []string{"alpha", "", "bc", "a longer payload here"}
	for _, s := range want {
		buf.Write(Encode([]byte(s)))
	}

	for chunkSize := 1; chunkSize <= 7; chunkSize++ {
		r := &chunkedReader{data: buf.Bytes(), chunk: chunkSize}
		d := NewDecoder(r, 1<<20)
		var got []string
		for {
			payload, err := d.Decode()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			got = append(got, string(payload))
		}
		assert.Equal(t, want, got, "chunk size %d", chunkSize)
	}
}

type chunkedReader struct {
	data  []byte
	chunk int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.chunk
	if n > len(p) {
		n = len(p)
	}
	if n > len(c.data) {
		n = len(c.data)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func TestBadLength(t *testing.T) {
	_, err := DecodeAll([]byte("x:abc,"), 100)
	assert.ErrorIs(t, err, ErrBadLength)

	_, err = DecodeAll([]byte(":abc,"), 100)
	assert.ErrorIs(t, err, ErrBadLength)
}

func TestTooLong(t *testing.T) {
	_, err := DecodeAll([]byte("99999:"+string(make([]byte, 10))+",") , 10)
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestBadTerminator(t *testing.T) {
	// "13:test good.loc!" has a "!" where the netstring terminator "," belongs.
	_, err := DecodeAll([]byte("13:test good.loc!"), 1<<20)
	assert.ErrorIs(t, err, ErrBadTerminator)
}

func TestIncompleteNetstring(t *testing.T) {
	_, err := DecodeAll([]byte("5:abc"), 100)
	assert.ErrorIs(t, err, ErrIncompleteNetstring)

	_, err = DecodeAll([]byte("3:abc"), 100)
	assert.ErrorIs(t, err, ErrIncompleteNetstring)
}

func TestLeadingZerosAccepted(t *testing.T) {
	out, err := DecodeAll([]byte("003:abc,"), 100)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "abc", string(out[0]))
}

func TestEmptyInputIsCleanEOF(t *testing.T) {
	out, err := DecodeAll([]byte{}, 100)
	require.NoError(t, err)
	assert.Empty(t, out)
}
