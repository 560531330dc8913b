package transport

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFramingOctetStuffingAppendsLF(t *testing.T) {
	out := frame([]byte("hello"), FramingOctetStuffing)
	require.Equal(t, "hello\n", string(out))

	out2 := frame([]byte("hello\n"), FramingOctetStuffing)
	require.Equal(t, "hello\n", string(out2))
}

func TestFramingOctetCountingPrefixesLength(t *testing.T) {
	out := frame([]byte("hello"), FramingOctetCounting)
	require.Equal(t, "5 hello", string(out))
}

func TestCompressedFramingForcesOctetCounting(t *testing.T) {
	payload := []byte("zSOMECOMPRESSEDBYTES\nWITHNEWLINES\n")
	out := frame(payload, FramingOctetStuffing)
	require.Equal(t, "34 "+string(payload), string(out))
}

func TestCompressFrameFallsBackWhenNoGain(t *testing.T) {
	tiny := []byte("ab")
	out, shrank := compressFrame(tiny, 9)
	require.False(t, shrank)
	require.Equal(t, tiny, out)
}

func TestCompressFrameShrinksRepetitiveData(t *testing.T) {
	big := make([]byte, 4096)
	for i := range big {
		big[i] = 'a'
	}
	out, shrank := compressFrame(big, 9)
	require.True(t, shrank)
	require.Equal(t, byte('z'), out[0])
	require.Less(t, len(out), len(big))
}

// TestTCPSendRoundTrip is spec §8 scenario S4/property 7: frame, send,
// and recover the exact payload on the wire.
func TestTCPSendRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
	}()

	tr := NewTCP(TCPConfig{ActionName: "t", Addr: ln.Addr().String(), Framing: FramingOctetStuffing})
	require.NoError(t, tr.Send([]byte("hello world")))

	select {
	case line := <-received:
		require.Equal(t, "hello world\n", line)
	case <-time.After(time.Second):
		t.Fatal("never received framed message")
	}
}

func TestTCPSendFailureSuspendsAndResets(t *testing.T) {
	tr := NewTCP(TCPConfig{ActionName: "t", Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	err := tr.Send([]byte("x"))
	require.ErrorIs(t, err, ErrSuspend)
	require.Equal(t, StateNotConnected, tr.State())
}

func TestUDPSendSucceedsToAtLeastOneTarget(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	u, err := NewUDP(UDPConfig{ActionName: "u", Targets: []string{pc.LocalAddr().String()}})
	require.NoError(t, err)
	defer u.Close()

	require.NoError(t, u.Send([]byte("<14>hello")))

	buf := make([]byte, 64)
	pc.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, "<14>hello", string(buf[:n]))
}
