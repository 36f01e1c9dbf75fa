package recorder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stdout")
	rec, err := Create(path, 80, 24, "bash -l", "my-session", map[string]string{"TERM": "xterm-256color"})
	require.NoError(t, err)

	require.NoError(t, rec.WriteOutput([]byte("hello\r\n")))
	require.NoError(t, rec.WriteInput([]byte("echo hi\n")))
	require.NoError(t, rec.WriteResize(120, 40))
	require.NoError(t, rec.WriteMarker("checkpoint"))
	require.NoError(t, rec.WriteRawJSON([]any{"exit", 0, "sess1"}))
	require.NoError(t, rec.Close())
	require.False(t, rec.IsOpen())
	require.NoError(t, rec.Close()) // idempotent

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	parsed, err := Parse(f)
	require.NoError(t, err)
	require.Equal(t, 80, parsed.Header.Width)
	require.Equal(t, 24, parsed.Header.Height)
	require.Equal(t, "my-session", parsed.Header.Title)
	require.Equal(t, "xterm-256color", parsed.Header.Env["TERM"])

	require.Len(t, parsed.Events, 4)
	require.Equal(t, EventOutput, parsed.Events[0].Type)
	require.Equal(t, "hello\r\n", parsed.Events[0].Data)
	require.Equal(t, EventInput, parsed.Events[1].Type)
	require.Equal(t, "echo hi\n", parsed.Events[1].Data)
	require.Equal(t, EventResize, parsed.Events[2].Type)
	require.Equal(t, "120x40", parsed.Events[2].Data)
	require.Equal(t, EventMarker, parsed.Events[3].Type)
	require.Equal(t, "checkpoint", parsed.Events[3].Data)

	require.NotNil(t, parsed.Exit)
	require.Equal(t, 0, parsed.Exit.Code)
	require.Equal(t, "sess1", parsed.Exit.SessionID)

	for i := 1; i < len(parsed.Events); i++ {
		require.GreaterOrEqual(t, parsed.Events[i].Elapsed, parsed.Events[i-1].Elapsed)
	}
}

func TestRecorderHeaderOnlyReplaysNoEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stdout")
	rec, err := Create(path, 80, 24, "bash", "t", nil)
	require.NoError(t, err)
	require.NoError(t, rec.Close())

	f, _ := os.Open(path)
	defer f.Close()
	parsed, err := Parse(f)
	require.NoError(t, err)
	require.Empty(t, parsed.Events)
	require.Nil(t, parsed.Exit)
}

func TestBinaryUnsafeOutputRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stdout")
	rec, err := Create(path, 80, 24, "bash", "t", nil)
	require.NoError(t, err)

	// Invalid UTF-8 and raw control bytes — must survive byte-for-byte.
	payload := []byte{0xff, 0xfe, 0x00, 0x07, 'h', 'i', 0x80, 0xc0}
	require.NoError(t, rec.WriteOutput(payload))
	require.NoError(t, rec.Close())

	f, _ := os.Open(path)
	defer f.Close()
	parsed, err := Parse(f)
	require.NoError(t, err)
	require.Len(t, parsed.Events, 1)
	require.Equal(t, payload, DecodeBytes(parsed.Events[0].Data))
}

func TestEncodeDecodeBytesRoundTrip(t *testing.T) {
	for _, payload := range [][]byte{
		nil,
		[]byte("plain ascii"),
		{0x00, 0x01, 0x02, 0xff, 0xfe},
		[]byte("utf8 \xe2\x9c\x93 mixed \xff\xfe"),
	} {
		require.Equal(t, payload, DecodeBytes(EncodeBytes(payload)))
	}
}
