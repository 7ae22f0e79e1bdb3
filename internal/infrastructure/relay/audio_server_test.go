package relay

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pingPong round-trips a control frame, proving the connection is admitted
// and its pumps are running.
func pingPong(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]interface{}{"type": "ping"})
	readUntilType(t, conn, "pong")
}

func TestAudioBroadcastFanout(t *testing.T) {
	relay := newTestRelay(t, nil)
	relay.seedStream(t, 3, 42)
	token, err := relay.tokens.GenerateToken(42, "owner")
	require.NoError(t, err)

	chat := relay.dialChat(t, "streamId=3")
	readUntilType(t, chat, "viewer_count")

	bc := relay.dialAudio(t, "streamId=3&role=broadcaster&token="+token)
	pingPong(t, bc)

	// Broadcaster admission takes the stream live.
	status := readUntilType(t, chat, "stream_status")
	assert.Equal(t, true, status["isLive"])
	require.Eventually(t, func() bool {
		stream, err := relay.store.GetByID(context.Background(), 3)
		return err == nil && stream.IsLive && stream.StartedAt != nil
	}, 2*time.Second, 10*time.Millisecond)

	l1 := relay.dialAudio(t, "streamId=3&role=listener")
	l2 := relay.dialAudio(t, "streamId=3&role=listener")
	pingPong(t, l1)
	pingPong(t, l2)

	// Binary frames reach every listener byte for byte.
	payload := []byte{0x4f, 0x70, 0x75, 0x73, 1, 2, 3}
	require.NoError(t, bc.WriteMessage(websocket.BinaryMessage, payload))
	assert.Equal(t, payload, readBinary(t, l1))
	assert.Equal(t, payload, readBinary(t, l2))

	// Level meters mirror to listeners and to the chat channel.
	writeJSON(t, bc, map[string]interface{}{"type": "audio_level", "level": 0.5})
	level := readUntilType(t, l1, "audio_level")
	assert.Equal(t, 0.5, level["level"])
	level = readUntilType(t, chat, "audio_level")
	assert.Equal(t, 0.5, level["level"])
	assert.Equal(t, float64(3), level["streamId"])

	// Out-of-range levels are dropped, later valid ones still flow.
	writeJSON(t, bc, map[string]interface{}{"type": "audio_level", "level": 1.5})
	writeJSON(t, bc, map[string]interface{}{"type": "audio_level", "level": 0.25})
	level = readUntilType(t, l1, "audio_level")
	assert.Equal(t, 0.25, level["level"])
}

func TestAudioSingleBroadcasterSlot(t *testing.T) {
	relay := newTestRelay(t, nil)
	relay.seedStream(t, 3, 42)
	token, err := relay.tokens.GenerateToken(42, "owner")
	require.NoError(t, err)

	first := relay.dialAudio(t, "streamId=3&role=broadcaster&token="+token)
	pingPong(t, first)

	second := relay.dialAudio(t, "streamId=3&role=broadcaster&token="+token)
	expectClose(t, second, websocket.ClosePolicyViolation)

	// The first broadcaster is unaffected.
	pingPong(t, first)
}

func TestAudioAdmission(t *testing.T) {
	relay := newTestRelay(t, nil)
	relay.seedStream(t, 3, 42)

	t.Run("broadcaster without token", func(t *testing.T) {
		conn := relay.dialAudio(t, "streamId=3&role=broadcaster")
		expectClose(t, conn, websocket.ClosePolicyViolation)
	})

	t.Run("broadcaster who does not own the stream", func(t *testing.T) {
		token, err := relay.tokens.GenerateToken(99, "mallory")
		require.NoError(t, err)
		conn := relay.dialAudio(t, "streamId=3&role=broadcaster&token="+token)
		expectClose(t, conn, websocket.ClosePolicyViolation)
	})

	t.Run("broadcaster for missing stream", func(t *testing.T) {
		token, err := relay.tokens.GenerateToken(42, "owner")
		require.NoError(t, err)
		conn := relay.dialAudio(t, "streamId=404&role=broadcaster&token="+token)
		expectClose(t, conn, websocket.ClosePolicyViolation)
	})

	t.Run("listener for missing stream", func(t *testing.T) {
		conn := relay.dialAudio(t, "streamId=404&role=listener")
		expectClose(t, conn, websocket.ClosePolicyViolation)
	})

	t.Run("invalid role rejects handshake", func(t *testing.T) {
		_, _, err := websocket.DefaultDialer.Dial("ws"+relay.server.URL[4:]+"/ws/audio?streamId=3&role=producer", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad handshake")
	})
}

func TestAudioBroadcasterDisconnectTakesStreamOffline(t *testing.T) {
	relay := newTestRelay(t, nil)
	relay.seedStream(t, 3, 42)
	token, err := relay.tokens.GenerateToken(42, "owner")
	require.NoError(t, err)

	chat := relay.dialChat(t, "streamId=3")
	readUntilType(t, chat, "viewer_count")

	bc := relay.dialAudio(t, "streamId=3&role=broadcaster&token="+token)
	pingPong(t, bc)
	readUntilType(t, chat, "stream_status")

	listener := relay.dialAudio(t, "streamId=3&role=listener")
	pingPong(t, listener)

	// A dropped broadcaster socket ends the live session.
	bc.Close()

	status := readUntilType(t, chat, "stream_status")
	assert.Equal(t, false, status["isLive"])
	readUntilType(t, chat, "stream-ended")

	expectClose(t, listener, websocket.CloseNormalClosure)

	require.Eventually(t, func() bool {
		stream, err := relay.store.GetByID(context.Background(), 3)
		return err == nil && !stream.IsLive && stream.EndedAt != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAudioEndStreamControl(t *testing.T) {
	relay := newTestRelay(t, nil)
	relay.seedStream(t, 3, 42)
	token, err := relay.tokens.GenerateToken(42, "owner")
	require.NoError(t, err)

	chat := relay.dialChat(t, "streamId=3")
	readUntilType(t, chat, "viewer_count")

	bc := relay.dialAudio(t, "streamId=3&role=broadcaster&token="+token)
	pingPong(t, bc)
	readUntilType(t, chat, "stream_status")

	writeJSON(t, bc, map[string]interface{}{"type": "end_stream"})

	status := readUntilType(t, chat, "stream_status")
	assert.Equal(t, false, status["isLive"])

	// The audio side is torn down with a normal closure.
	expectClose(t, bc, websocket.CloseNormalClosure)
}

func TestAudioListenerControls(t *testing.T) {
	relay := newTestRelay(t, nil)
	relay.seedStream(t, 3, 42)

	listener := relay.dialAudio(t, "streamId=3&role=listener")
	pingPong(t, listener)

	// Listener-side level meters, binary frames and unknown controls are
	// all ignored without dropping the connection.
	writeJSON(t, listener, map[string]interface{}{"type": "audio_level", "level": 0.9})
	require.NoError(t, listener.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	writeJSON(t, listener, map[string]interface{}{"type": "mystery"})
	pingPong(t, listener)
}

func TestAudioBroadcasterUnknownControl(t *testing.T) {
	relay := newTestRelay(t, nil)
	relay.seedStream(t, 3, 42)
	token, err := relay.tokens.GenerateToken(42, "owner")
	require.NoError(t, err)

	bc := relay.dialAudio(t, "streamId=3&role=broadcaster&token="+token)
	pingPong(t, bc)

	writeJSON(t, bc, map[string]interface{}{"type": "mystery"})
	expectClose(t, bc, websocket.CloseInvalidFramePayloadData)
}
