package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendResetToString(t *testing.T) {
	b := New(4)
	b.AppendString("hello world")
	require.Equal(t, "hello world", b.ResetToString())
	require.Equal(t, 0, b.Readable())
	require.Equal(t, 0, b.Prependable())
}

func TestRoundTripLargePayload(t *testing.T) {
	b := New(16)
	payload := make([]byte, 200*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	b.Append(payload)
	require.Equal(t, len(payload), b.Readable())
	require.Equal(t, payload, b.BeginRead())
}

func TestEnsureWritableCompactsBeforeGrowing(t *testing.T) {
	b := New(16)
	b.AppendString("0123456789")
	b.HasRead(8) // readPos=8, writePos=10, 6 bytes writable without growth beyond cap
	cap0 := cap(b.buf)
	b.EnsureWritable(10) // readable=2, writable should be reclaimed via compaction
	require.Equal(t, 0, b.readPos)
	require.Equal(t, 2, b.writePos)
	require.Equal(t, cap0, cap(b.buf))
}

func TestEnsureWritableGrowsWhenCompactionInsufficient(t *testing.T) {
	b := New(8)
	b.AppendString("abcdefgh")
	b.EnsureWritable(100)
	require.GreaterOrEqual(t, b.Writable(), 100)
}

func TestHasReadUntil(t *testing.T) {
	b := New(32)
	b.AppendString("GET / HTTP/1.1\r\n")
	view := b.BeginRead()
	idx := -1
	for i := 0; i+1 < len(view); i++ {
		if view[i] == '\r' && view[i+1] == '\n' {
			idx = i
			break
		}
	}
	require.NotEqual(t, -1, idx)
	b.HasReadUntil(b.readPos + idx + 2)
	require.Equal(t, 0, b.Readable())
}
