package fanout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeIsSelfDescribingAndLengthPrefixed(t *testing.T) {
	frame, err := Encode(map[string]int{"a": 1})
	require.NoError(t, err)
	require.Greater(t, len(frame), 4)
}

func TestStatusChannelIsLatestWins(t *testing.T) {
	bus := NewBus(PushInterval{Raw: true})
	defer bus.Close()
	status, _, unsub := bus.Subscribe("sub1")
	defer unsub()

	require.NoError(t, bus.PublishStatus(map[string]int{"n": 1}))
	require.NoError(t, bus.PublishStatus(map[string]int{"n": 2}))

	select {
	case frame := <-status:
		require.NotEmpty(t, frame)
	case <-time.After(time.Second):
		t.Fatal("expected a status frame")
	}
	select {
	case <-status:
		t.Fatal("status channel should hold at most one pending frame")
	default:
	}
}

func TestStreamChannelDropsOldestWhenFull(t *testing.T) {
	bus := NewBus(PushInterval{Raw: true})
	defer bus.Close()
	_, stream, unsub := bus.Subscribe("sub1")
	defer unsub()

	for i := 0; i < StreamQueueDepth+10; i++ {
		require.NoError(t, bus.PublishStream(map[string]int{"n": i}))
	}

	count := 0
	for {
		select {
		case <-stream:
			count++
		default:
			require.LessOrEqual(t, count, StreamQueueDepth)
			return
		}
	}
}

func TestParsePushInterval(t *testing.T) {
	raw, err := ParsePushInterval("raw")
	require.NoError(t, err)
	require.True(t, raw.Raw)

	fixed, err := ParsePushInterval("5")
	require.NoError(t, err)
	require.Equal(t, 5, fixed.Seconds)

	_, err = ParsePushInterval("nope")
	require.Error(t, err)
}
