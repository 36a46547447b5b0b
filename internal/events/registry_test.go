package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventMarshalFlattensFields(t *testing.T) {
	payload, err := json.Marshal(Event{
		Type:   "session.revoked",
		Fields: map[string]any{"session_id": 5, "reason": "policy"},
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, "session.revoked", decoded["type"])
	require.EqualValues(t, 5, decoded["session_id"])
	require.Equal(t, "policy", decoded["reason"])
}

func TestHeartbeatIsTypeOnly(t *testing.T) {
	payload, err := json.Marshal(Heartbeat())
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"heartbeat"}`, string(payload))
}

func TestConnectIsLastConnectWins(t *testing.T) {
	registry := NewRegistry(nil, nil)

	first := registry.Connect(1, false)
	second := registry.Connect(1, false)
	require.Equal(t, 1, registry.Len())

	select {
	case <-first.Done():
	default:
		t.Fatal("replaced sink was not evicted")
	}

	// The new sink receives; the old one is dead.
	registry.Send(1, Event{Type: "ping"})
	select {
	case msg := <-second.Messages():
		require.Contains(t, string(msg), "ping")
	default:
		t.Fatal("surviving sink received nothing")
	}
}

func TestDisconnectOnlyRemovesTheCurrentSink(t *testing.T) {
	registry := NewRegistry(nil, nil)

	stale := registry.Connect(1, false)
	fresh := registry.Connect(1, false)

	// The handler for the stale connection unwinds late; its deferred
	// disconnect must not tear down the fresh sink.
	registry.Disconnect(stale)
	require.Equal(t, 1, registry.Len())

	registry.Disconnect(fresh)
	require.Equal(t, 0, registry.Len())
}

func TestSendToUnconnectedIdentityIsANoop(t *testing.T) {
	registry := NewRegistry(nil, nil)
	registry.Send(99, Event{Type: "ping"})
	require.Equal(t, 0, registry.Len())
}

func TestStalledSinkIsEvicted(t *testing.T) {
	registry := NewRegistry(nil, nil)
	sink := registry.Connect(1, false)

	// Fill the buffer without draining; the overflowing send evicts.
	for i := 0; i <= sinkBuffer; i++ {
		registry.Send(1, Event{Type: "ping"})
	}

	require.Equal(t, 0, registry.Len())
	select {
	case <-sink.Done():
	default:
		t.Fatal("stalled sink was not evicted")
	}
}

func TestBroadcastAdminsSkipsNonAdmins(t *testing.T) {
	registry := NewRegistry(nil, nil)
	admin := registry.Connect(1, true)
	plain := registry.Connect(2, false)

	registry.BroadcastAdmins(Event{Type: "role.updated"})

	select {
	case <-admin.Messages():
	default:
		t.Fatal("admin sink received nothing")
	}
	select {
	case <-plain.Messages():
		t.Fatal("non-admin sink received an admin broadcast")
	default:
	}
}

func TestSendManyFansOut(t *testing.T) {
	registry := NewRegistry(nil, nil)
	a := registry.Connect(1, false)
	b := registry.Connect(2, false)
	registry.SendMany([]int64{1, 2, 3}, Event{Type: "permissions.changed"})

	require.Len(t, a.Messages(), 1)
	require.Len(t, b.Messages(), 1)
}

func TestConcurrentConnectKeepsExactlyOneSink(t *testing.T) {
	registry := NewRegistry(nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			registry.Connect(7, false)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, registry.Len())
}

func TestCloseEvictsEverything(t *testing.T) {
	var counts []int
	registry := NewRegistry(nil, func(n int) { counts = append(counts, n) })
	sink := registry.Connect(1, false)
	registry.Connect(2, false)

	registry.Close()
	require.Equal(t, 0, registry.Len())
	select {
	case <-sink.Done():
	case <-time.After(time.Second):
		t.Fatal("sink not evicted on close")
	}
	require.Equal(t, 0, counts[len(counts)-1])
}
