package frame

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "YWJj"))
	require.NoError(t, Write(&buf, ""))
	assert.Equal(t, "4 YWJj 0  ", buf.String())

	assert.Error(t, Write(&buf, "has space"))
}

func TestReader_Sequence(t *testing.T) {
	var buf bytes.Buffer
	for _, tok := range []string{"eyJ2IjoxfQ==", "QQ==", ""} {
		require.NoError(t, Write(&buf, tok))
	}

	r := NewReader(&buf)
	for _, want := range []string{"eyJ2IjoxfQ==", "QQ==", ""} {
		got, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_ToleratesLeadingNewlines(t *testing.T) {
	r := NewReader(strings.NewReader("\n\r\n3 abc "))
	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}

func TestReader_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, err error)
	}{
		{
			name:  "declared longer than token",
			input: "5 abc ",
			check: func(t *testing.T, err error) {
				var lenErr *LengthError
				require.ErrorAs(t, err, &lenErr)
				assert.Equal(t, 5, lenErr.Declared)
				assert.Equal(t, 3, lenErr.Actual)
			},
		},
		{
			name:  "declared shorter than token",
			input: "2 abc ",
			check: func(t *testing.T, err error) {
				var lenErr *LengthError
				require.ErrorAs(t, err, &lenErr)
				assert.Equal(t, 3, lenErr.Actual)
			},
		},
		{
			name:  "length prefix too long",
			input: "000000001 a ",
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "invalid length prefix")
			},
		},
		{
			name:  "non numeric length",
			input: "x abc ",
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "invalid length prefix")
			},
		},
		{
			name:  "negative length",
			input: "-1 abc ",
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "invalid length prefix")
			},
		},
		{
			name:  "truncated token",
			input: "3 ab",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
			},
		},
		{
			name:  "truncated length",
			input: "12",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(tt.input)).Next()
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

// endless never produces a space.
type endless struct{}

func (endless) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	return len(p), nil
}

func TestReader_StopsOnRunawayOutput(t *testing.T) {
	_, err := NewReader(endless{}).Next()
	assert.ErrorContains(t, err, "invalid length prefix")

	_, err = NewReader(io.MultiReader(strings.NewReader("16 "), endless{})).Next()
	var lenErr *LengthError
	require.ErrorAs(t, err, &lenErr)
	assert.Equal(t, 16, lenErr.Declared)
	assert.Equal(t, 17, lenErr.Actual)
}
