package wsoverlay

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scmessenger/core/internal/transport"
)

type captureDelegate struct {
	dataCh chan []byte
}

func newCaptureDelegate() *captureDelegate {
	return &captureDelegate{dataCh: make(chan []byte, 8)}
}

func (c *captureDelegate) OnPeerEvent(event transport.PeerEvent, peer transport.PeerInfo) {}
func (c *captureDelegate) OnDataReceived(fromPeerID string, data []byte) {
	c.dataCh <- data
}
func (c *captureDelegate) OnTopicMessage(topic, fromPeerID string, data []byte) {}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestDialSendReceiveRoundTrip(t *testing.T) {
	port := freePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	server := New("server-peer", addr, nil)
	serverDelegate := newCaptureDelegate()
	require.NoError(t, server.Start(context.Background(), serverDelegate))
	defer server.Stop(context.Background())

	time.Sleep(50 * time.Millisecond) // allow the listener goroutine to bind

	client := New("client-peer", "", nil)
	clientDelegate := newCaptureDelegate()
	require.NoError(t, client.Start(context.Background(), clientDelegate))
	defer client.Stop(context.Background())

	wsURL := "ws://" + addr + "/scmesh"
	require.NoError(t, client.Dial(context.Background(), "server-peer", []string{wsURL}))
	assert.True(t, client.IsConnected("server-peer"))

	require.NoError(t, client.Send(context.Background(), "server-peer", []byte("hello-mesh")))

	select {
	case data := <-serverDelegate.dataCh:
		assert.Equal(t, []byte("hello-mesh"), data)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive data in time")
	}
}

func TestSendWithoutConnectionFails(t *testing.T) {
	o := New("local", "", nil)
	err := o.Send(context.Background(), "unknown-peer", []byte("x"))
	require.Error(t, err)
}

func TestPublishRequiresSubscription(t *testing.T) {
	o := New("local", "", nil)
	err := o.Publish("topic-a", []byte("x"))
	require.Error(t, err)

	require.NoError(t, o.Subscribe("topic-a"))
	require.NoError(t, o.Publish("topic-a", []byte("x"))) // no peers, no error
}
