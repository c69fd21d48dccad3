package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShmemRingDeliversAndAcks(t *testing.T) {
	r := NewShmemRing()
	payload := []byte("projection-bytes")

	done := make(chan error, 1)
	go func() {
		done <- r.Send(0, 1, 42, payload)
	}()

	require.Eventually(t, func() bool {
		got, seq, ok := r.Poll(0, 1)
		if !ok {
			return false
		}
		assert.Equal(t, payload, got)
		assert.EqualValues(t, 42, seq)
		return true
	}, time.Second, time.Millisecond)

	require.NoError(t, <-done)
}

func TestShmemRingPollWithNothingWrittenReportsNotReady(t *testing.T) {
	r := NewShmemRing()
	_, _, ok := r.Poll(2, 0)
	assert.False(t, ok)
}

func TestFrameHeaderRoundTrips(t *testing.T) {
	h := frameHeader{
		magic: frameMagic, version: frameVersion, kind: frameKindData,
		torusID: 1, seq: 7, payloadHash: 0xdeadbeef, payloadLen: 3,
	}
	b := h.marshal()
	got, err := unmarshalHeader(b)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestUnmarshalHeaderRejectsBadMagic(t *testing.T) {
	b := make([]byte, headerSize)
	_, err := unmarshalHeader(b)
	assert.Error(t, err)
}

func TestUDPTransportSendAndPollRoundTrip(t *testing.T) {
	tr, err := NewUDPTransport("127.0.0.1", 41000)
	require.NoError(t, err)
	defer tr.Close()

	payload := []byte("hello-from-instance-0")
	errCh := make(chan error, 1)
	go func() {
		errCh <- tr.Send(0, 1, 5, payload)
	}()

	var got []byte
	require.Eventually(t, func() bool {
		p, seq, ok := tr.Poll(0, 1)
		if !ok {
			return false
		}
		got = p
		assert.EqualValues(t, 5, seq)
		return true
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, payload, got)

	require.NoError(t, <-errCh)
}
