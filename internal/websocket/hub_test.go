package chatws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func expectPayload(t *testing.T, client *Client, want string) {
	t.Helper()
	select {
	case payload, ok := <-client.send:
		require.True(t, ok)
		assert.Equal(t, want, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatalf("user %d: timed out waiting for %q", client.userID, want)
	}
}

func TestHubDeliversUnionOnce(t *testing.T) {
	hub := startHub(t)
	a := NewClient(hub, nil, 1, "patient")
	b := NewClient(hub, nil, 2, "doctor")
	hub.Register(a)
	hub.Register(b)
	hub.Join(a, 7)

	// a is both a room member and a named user; it must see one copy.
	hub.publish(&delivery{payload: []byte("one"), conversationID: 7, userIDs: []int64{1, 2}})
	hub.publish(&delivery{payload: []byte("two"), target: a})

	expectPayload(t, a, "one")
	expectPayload(t, a, "two")
	expectPayload(t, b, "one")
}

func TestHubIgnoresJoinFromUnregisteredClient(t *testing.T) {
	hub := startHub(t)
	ghost := NewClient(hub, nil, 3, "patient")
	member := NewClient(hub, nil, 4, "doctor")
	hub.Register(member)
	hub.Join(ghost, 9)
	hub.Join(member, 9)

	hub.publish(&delivery{payload: []byte("room"), conversationID: 9})
	hub.publish(&delivery{payload: []byte("after"), target: member})
	expectPayload(t, member, "room")
	expectPayload(t, member, "after")
	assert.Empty(t, ghost.send)
}

func TestHubEveryoneHonoursExclusions(t *testing.T) {
	hub := startHub(t)
	self := NewClient(hub, nil, 1, "patient")
	selfOtherTab := NewClient(hub, nil, 1, "patient")
	other := NewClient(hub, nil, 2, "doctor")
	for _, c := range []*Client{self, selfOtherTab, other} {
		hub.Register(c)
	}

	hub.publish(&delivery{payload: []byte("hello"), everyone: true, excludeUserID: 1})
	hub.publish(&delivery{payload: []byte("tab"), userIDs: []int64{1}, exclude: self})
	hub.publish(&delivery{payload: []byte("done"), everyone: true})

	expectPayload(t, other, "hello")
	expectPayload(t, other, "done")
	expectPayload(t, selfOtherTab, "tab")
	expectPayload(t, selfOtherTab, "done")
	expectPayload(t, self, "done")
}

func TestHubDropsSlowConsumer(t *testing.T) {
	hub := startHub(t)
	slow := NewClient(hub, nil, 1, "patient")
	probe := NewClient(hub, nil, 2, "doctor")
	hub.Register(slow)
	hub.Register(probe)
	hub.Join(slow, 5)

	for i := 0; i < sendBuffer+1; i++ {
		hub.publish(&delivery{payload: []byte("x"), target: slow})
	}
	// Deliveries are processed in order, so once the probe sees this every
	// earlier delivery has been attempted.
	hub.publish(&delivery{payload: []byte("probe"), target: probe})
	expectPayload(t, probe, "probe")

	received := 0
	for range slow.send {
		received++
	}
	assert.Equal(t, sendBuffer, received)

	// Unregistering a dropped client is a no-op.
	hub.Unregister(slow)
	hub.publish(&delivery{payload: []byte("room"), conversationID: 5, userIDs: []int64{2}})
	expectPayload(t, probe, "room")
}

func expectClosed(t *testing.T, client *Client) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-client.send:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("user %d: send queue still open", client.userID)
		}
	}
}

func TestHubStopReleasesOpenConnections(t *testing.T) {
	hub := startHub(t)
	a := NewClient(hub, nil, 11, "patient")
	b := NewClient(hub, nil, 12, "doctor")
	hub.Register(a)
	hub.Register(b)
	hub.Join(a, 5)
	hub.publish(&delivery{payload: []byte("ready"), target: b})
	expectPayload(t, b, "ready")

	hub.Stop()
	expectClosed(t, a)
	expectClosed(t, b)

	late := NewClient(hub, nil, 13, "patient")
	hub.Register(late)
	expectClosed(t, late)

	// Calls after shutdown return without touching the closed queues.
	hub.Unregister(a)
	hub.Leave(a, 5)
	hub.publish(&delivery{payload: []byte("ignored"), everyone: true})
}
