package network

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeToBytes(t *testing.T, encode Encoder, payload []byte) []byte {
	t.Helper()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- encode(client, payload) }()

	out := make([]byte, 0, len(payload)+8)
	buf := make([]byte, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			n, err := server.Read(buf)
			out = append(out, buf[:n]...)
			if err != nil {
				return
			}
		}
	}()

	require.NoError(t, <-errCh)
	client.Close()
	<-done
	return out
}

func TestLengthPrefixedRoundTrip(t *testing.T) {
	decode, encode := LengthPrefixed(2)
	payload := []byte("hello, peer")

	wire := encodeToBytes(t, encode, payload)

	msg, consumed, complete, err := decode(testAddr(t, 1), wire)
	require.NoError(t, err)
	require.True(t, complete)
	require.Equal(t, len(wire), consumed)
	require.Equal(t, payload, msg)
}

func TestLengthPrefixedTruncatedStreamIsIncomplete(t *testing.T) {
	decode, encode := LengthPrefixed(2)
	wire := encodeToBytes(t, encode, []byte("abcdef"))

	_, _, complete, err := decode(testAddr(t, 1), wire[:len(wire)-1])
	require.NoError(t, err)
	require.False(t, complete)

	_, _, complete, err = decode(testAddr(t, 1), wire[:2])
	require.NoError(t, err)
	require.False(t, complete, "a prefix with no body yet must report incomplete, not an error")
}

func TestLengthPrefixedRejectsZeroLength(t *testing.T) {
	decode, _ := LengthPrefixed(2)
	zero := []byte{0x00, 0x00}

	_, _, complete, err := decode(testAddr(t, 1), zero)
	require.Error(t, err)
	require.False(t, complete)
}

func TestLengthPrefixedPanicsOnBadWidth(t *testing.T) {
	require.Panics(t, func() { LengthPrefixed(3) })
}

func TestCompressedRoundTrip(t *testing.T) {
	innerDecode, innerEncode := LengthPrefixed(4)
	decode, encode := Compressed(innerDecode, innerEncode)

	payload := []byte("the quick brown fox jumps over the lazy dog, repeatedly, repeatedly, repeatedly")
	wire := encodeToBytes(t, encode, payload)

	msg, consumed, complete, err := decode(testAddr(t, 1), wire)
	require.NoError(t, err)
	require.True(t, complete)
	require.Equal(t, len(wire), consumed)
	require.Equal(t, payload, msg)
}

func TestCompressedRoundTripIncompressibleInput(t *testing.T) {
	innerDecode, innerEncode := LengthPrefixed(4)
	decode, encode := Compressed(innerDecode, innerEncode)

	payload := make([]byte, 32)
	_, err := io.ReadFull(randReader{}, payload)
	require.NoError(t, err)

	wire := encodeToBytes(t, encode, payload)
	msg, _, complete, err := decode(testAddr(t, 1), wire)
	require.NoError(t, err)
	require.True(t, complete)
	require.Equal(t, payload, msg)
}

// randReader is a minimal deterministic source of non-repeating bytes,
// avoiding a dependency on math/rand's global seed in a test.
type randReader struct{ n byte }

func (r randReader) Read(p []byte) (int, error) {
	for i := range p {
		r.n += 97
		p[i] = r.n
	}
	return len(p), nil
}
