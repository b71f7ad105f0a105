// Package netstring implements the netstring framing used by Postfix's
// socketmap protocol: <ascii-decimal-length>":"<payload>","
package netstring

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
)

var (
	// ErrBadLength is returned when a non-digit byte appears before the
	// colon, or the length field is missing entirely.
	ErrBadLength = errors.New("netstring: bad length field")
	// ErrTooLong is returned when the decoded length exceeds the
	// configured maximum before the colon has been seen.
	ErrTooLong = errors.New("netstring: length exceeds maximum")
	// ErrBadTerminator is returned when the byte following the payload is
	// not a comma.
	ErrBadTerminator = errors.New("netstring: missing terminating comma")
	// ErrIncompleteNetstring is returned when the input ends while a
	// netstring is still pending (length or payload not fully read).
	ErrIncompleteNetstring = errors.New("netstring: truncated input")
	// ErrInappropriateParserState is returned by callers that ask for a
	// new string before having consumed the previous one.
	ErrInappropriateParserState = errors.New("netstring: parser state is not ready for a new string")
)

// Encode wraps payload in netstring framing: length, colon, payload, comma.
func Encode(payload []byte) []byte {
	lenStr := strconv.Itoa(len(payload))
	out := make([]byte, 0, len(lenStr)+1+len(payload)+1)
	out = append(out, lenStr...)
	out = append(out, ':')
	out = append(out, payload...)
	out = append(out, ',')
	return out
}

// EncodeString is a convenience wrapper around Encode for string payloads,
// used for canned replies such as "NOTFOUND ".
func EncodeString(payload string) []byte {
	return Encode([]byte(payload))
}

// Decoder reads netstrings off a stream, one complete payload per Decode
// call. It keeps no state across successive payloads beyond the
// bufio.Reader's internal buffer, so it can be reused for the lifetime of a
// connection.
type Decoder struct {
	r      *bufio.Reader
	maxLen int
}

// NewDecoder returns a Decoder reading from r. maxLen bounds the accepted
// payload length; a length field exceeding it is rejected with ErrTooLong
// before any payload bytes are consumed.
func NewDecoder(r io.Reader, maxLen int) *Decoder {
	return &Decoder{r: bufio.NewReader(r), maxLen: maxLen}
}

// Decode reads and returns the next complete netstring payload. It returns
// io.EOF only when the stream ends cleanly between netstrings (no bytes of
// a new one have been read yet). Any error ends the connection; callers
// must not call Decode again after an error.
func (d *Decoder) Decode() ([]byte, error) {
	length, err := d.readLength()
	if err != nil {
		return nil, err
	}
	if length > d.maxLen {
		return nil, ErrTooLong
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(d.r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrIncompleteNetstring
			}
			return nil, err
		}
	}

	term, err := d.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrIncompleteNetstring
		}
		return nil, err
	}
	if term != ',' {
		return nil, ErrBadTerminator
	}

	return payload, nil
}

// readLength consumes "<digits>:" and returns the parsed length. A length
// field is required to start with at least one digit; an immediate
// colon (zero-length length field) or a non-digit byte is ErrBadLength.
func (d *Decoder) readLength() (int, error) {
	var length int
	sawDigit := false
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !sawDigit {
					return 0, io.EOF
				}
				return 0, ErrIncompleteNetstring
			}
			return 0, err
		}
		if b == ':' {
			if !sawDigit {
				return 0, ErrBadLength
			}
			return length, nil
		}
		if b < '0' || b > '9' {
			return 0, ErrBadLength
		}
		sawDigit = true
		length = length*10 + int(b-'0')
		if length > d.maxLen {
			return 0, ErrTooLong
		}
	}
}

// DecodeAll decodes every netstring in a fully-buffered byte slice,
// returning the payloads in order. It exists for tests; the server's
// stream-oriented path uses Decoder directly.
func DecodeAll(data []byte, maxLen int) ([][]byte, error) {
	d := NewDecoder(bytes.NewReader(data), maxLen)
	var out [][]byte
	for {
		payload, err := d.Decode()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, payload)
	}
}
