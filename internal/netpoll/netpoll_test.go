package netpoll

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestReadableEventOnSocketpairWrite(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	d, err := New(8)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Add(fds[0], Readable|OneShot))

	_, err = unix.Write(fds[1], []byte("ping"))
	require.NoError(t, err)

	n, err := d.Wait(1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, fds[0], d.EventFD(0))
	require.NotZero(t, d.EventMask(0)&Readable)
}

func TestOneShotRequiresRearm(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	d, err := New(8)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Add(fds[0], Readable|OneShot))
	_, err = unix.Write(fds[1], []byte("a"))
	require.NoError(t, err)

	n, err := d.Wait(1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Without rearming via Mod, a second write should not produce another
	// ready event within a short wait.
	_, err = unix.Write(fds[1], []byte("b"))
	require.NoError(t, err)
	n, err = d.Wait(100)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, d.Mod(fds[0], Readable|OneShot))
	n, err = d.Wait(1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
