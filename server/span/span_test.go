package span

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUint32RoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	s := New(buf)
	s, err := s.DumpUint32(0xdeadbeef)
	require.NoError(t, err)
	require.Equal(t, 0, s.Size())

	got, _, err := New(buf).LoadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xdeadbeef), got)
}

func TestDumpUint64TruncatedBufferFailsParse(t *testing.T) {
	buf := make([]byte, 4)
	_, err := New(buf).DumpUint64(1)
	require.Error(t, err)
}

func TestLoadUint64TruncatedBufferFailsParse(t *testing.T) {
	buf := make([]byte, 4)
	_, _, err := New(buf).LoadUint64()
	require.Error(t, err)
}

func TestBytesRoundTrip(t *testing.T) {
	buf := make([]byte, 32)
	payload := []byte("testing")
	s, err := New(buf).DumpBytes(payload)
	require.NoError(t, err)
	require.Equal(t, 32-SizeOfBytes(payload), s.Size())

	got, rest, err := New(buf).LoadBytes()
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Equal(t, 32-SizeOfBytes(payload), rest.Size())
}

func TestSubSpanBoundsChecked(t *testing.T) {
	buf := make([]byte, 8)
	s := New(buf)
	_, err := s.Sub(4, 8)
	require.Error(t, err)

	sub, err := s.Sub(2, 4)
	require.NoError(t, err)
	require.Equal(t, 4, sub.Size())
}

func TestAdvance(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	s := New(buf).Advance(2)
	require.Equal(t, 2, s.Size())
	require.Equal(t, byte(3), s.Bytes()[0])
}
