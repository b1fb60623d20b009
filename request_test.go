package fcgi

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fcgisrv/fcgi/internal/wire"
)

func TestRequestParamsIteratesInOrder(t *testing.T) {
	req := &Request{params: []wire.NameValue{
		{Name: []byte("PATH"), Value: []byte("/")},
		{Name: []byte("QUERY_STRING"), Value: []byte("a=1")},
	}}

	var names []string
	for name, value := range req.Params() {
		names = append(names, string(name)+"="+string(value))
	}
	require.Equal(t, []string{"PATH=/", "QUERY_STRING=a=1"}, names)
}

func TestRequestParamsIterationStopsEarly(t *testing.T) {
	req := &Request{params: []wire.NameValue{
		{Name: []byte("A"), Value: []byte("1")},
		{Name: []byte("B"), Value: []byte("2")},
		{Name: []byte("C"), Value: []byte("3")},
	}}

	var seen int
	req.Params()(func(name, value []byte) bool {
		seen++
		return string(name) != "B"
	})
	require.Equal(t, 2, seen)
}

func TestRequestParamDuplicateKeyKeepsLastWrite(t *testing.T) {
	req := &Request{params: []wire.NameValue{
		{Name: []byte("X"), Value: []byte("first")},
		{Name: []byte("X"), Value: []byte("second")},
	}}

	v, ok := req.Param("X")
	require.True(t, ok)
	require.Equal(t, "second", string(v))
}

func TestRequestParamMissing(t *testing.T) {
	req := &Request{}
	_, ok := req.Param("MISSING")
	require.False(t, ok)
}

func TestStdinReaderBlocksThenDelivers(t *testing.T) {
	s := newStdinReader()
	go func() {
		s.push([]byte("hello"))
		s.closeStream()
	}()

	buf := make([]byte, 5)
	n, err := s.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))

	_, err = s.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}
