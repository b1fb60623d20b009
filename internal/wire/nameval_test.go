package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNameValueRoundTrip(t *testing.T) {
	cases := [][]NameValue{
		nil,
		{{Name: []byte("REQUEST_METHOD"), Value: []byte("GET")}},
		{
			{Name: []byte("PATH"), Value: []byte("/")},
			{Name: []byte(strings.Repeat("A", 200)), Value: []byte(strings.Repeat("B", 400))},
		},
		{{Name: []byte("X"), Value: []byte("")}},
	}
	for _, want := range cases {
		buf := EncodeNameValuePairs(want)
		got, err := DecodeNameValuePairs(buf)
		require.NoError(t, err)
		if len(want) == 0 {
			require.Empty(t, got)
			continue
		}
		require.Equal(t, want, got)
	}
}

func TestNameValueLengthPrefixForm(t *testing.T) {
	short := EncodeNameValuePairs([]NameValue{{Name: []byte(strings.Repeat("a", 127)), Value: nil}})
	require.Equal(t, byte(127), short[0])

	long := EncodeNameValuePairs([]NameValue{{Name: []byte(strings.Repeat("a", 128)), Value: nil}})
	require.NotEqual(t, byte(0), long[0]&0x80)
}

func TestDecodeNameValuePairsEmptyInput(t *testing.T) {
	got, err := DecodeNameValuePairs(nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDecodeNameValuePairsRejectsTruncatedContent(t *testing.T) {
	buf := []byte{5, 0, 'h', 'i'} // claims a 5-byte name, only 2 bytes follow
	_, err := DecodeNameValuePairs(buf)
	require.ErrorIs(t, err, ErrMalformedParams)
}

func TestDecodeNameValuePairsRejectsTruncatedLengthPrefix(t *testing.T) {
	buf := []byte{0x80, 0x00, 0x00} // 4-byte length form, only 3 bytes present
	_, err := DecodeNameValuePairs(buf)
	require.ErrorIs(t, err, ErrMalformedParams)
}

func TestDecodeNameValuePairsRejectsEmptyName(t *testing.T) {
	buf := []byte{0, 1, 'x'}
	_, err := DecodeNameValuePairs(buf)
	require.ErrorIs(t, err, ErrMalformedParams)
}
