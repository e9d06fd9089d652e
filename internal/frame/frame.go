// Package frame implements the length-prefixed framing used between the
// client and a dispatcher process: ASCII decimal length, one space, the
// token, one space.
package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxLength bounds a declared frame length.
const MaxLength = 64 << 20

// maxPrefix is the number of digits of MaxLength.
var maxPrefix = len(strconv.Itoa(MaxLength))

var errLongWord = errors.New("word too long")

// LengthError reports a frame whose declared length does not match the
// length of the token that followed it. Reading stops one byte past the
// declared length, so a longer token reports Actual as Declared+1.
type LengthError struct {
	Declared int
	Actual   int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("frame: declared length %d but token has %d bytes", e.Declared, e.Actual)
}

// Write writes one frame carrying token.
func Write(w io.Writer, token string) error {
	if strings.ContainsAny(token, " \t\r\n") {
		return fmt.Errorf("frame: token contains whitespace")
	}
	_, err := io.WriteString(w, strconv.Itoa(len(token))+" "+token+" ")
	return err
}

// Reader reads frames from a byte stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the token of the next complete frame. It returns io.EOF when
// the stream ends cleanly between frames and io.ErrUnexpectedEOF when it
// ends inside one. A malformed length prefix or a token that is not exactly
// as long as declared yields an error; the stream should then be abandoned.
func (fr *Reader) Next() (string, error) {
	word, err := fr.word()
	if err != nil {
		return "", err
	}
	declared, err := strconv.Atoi(word)
	if err != nil || declared < 0 || declared > MaxLength {
		return "", fmt.Errorf("frame: invalid length prefix %q", word)
	}

	token, err := fr.readWord(declared)
	if errors.Is(err, errLongWord) {
		return "", &LengthError{Declared: declared, Actual: len(token)}
	}
	if err != nil {
		return "", err
	}
	if len(token) != declared {
		return "", &LengthError{Declared: declared, Actual: len(token)}
	}
	return token, nil
}

// word skips leading whitespace and reads up to the next space.
func (fr *Reader) word() (string, error) {
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			return "", err
		}
		if b != ' ' && b != '\n' && b != '\r' && b != '\t' {
			if err := fr.r.UnreadByte(); err != nil {
				return "", err
			}
			break
		}
	}
	w, err := fr.readWord(maxPrefix)
	if errors.Is(err, errLongWord) {
		return "", fmt.Errorf("frame: invalid length prefix %q", w)
	}
	return w, err
}

// readWord reads up to the next space, which is consumed. A word longer than
// limit bytes is returned truncated with errLongWord.
func (fr *Reader) readWord(limit int) (string, error) {
	var buf []byte
	for {
		chunk, err := fr.r.ReadSlice(' ')
		if err == nil {
			chunk = chunk[:len(chunk)-1]
		}
		buf = append(buf, chunk...)
		if len(buf) > limit {
			return string(buf[:limit+1]), errLongWord
		}
		switch {
		case err == nil:
			return string(buf), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			return "", io.ErrUnexpectedEOF
		default:
			return "", err
		}
	}
}
