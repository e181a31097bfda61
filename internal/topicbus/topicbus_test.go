package topicbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	subscribeErr   error
	unsubscribeErr error
	publishErr     error
	published      map[string][][]byte
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{published: make(map[string][][]byte)}
}

func (f *fakeDriver) Subscribe(topic string) error   { return f.subscribeErr }
func (f *fakeDriver) Unsubscribe(topic string) error { return f.unsubscribeErr }
func (f *fakeDriver) Publish(topic string, data []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published[topic] = append(f.published[topic], data)
	return nil
}

func TestSubscribeUnsubscribeTracksTopics(t *testing.T) {
	d := newFakeDriver()
	b := New(d, nil)

	require.NoError(t, b.Subscribe("room-a"))
	assert.Equal(t, []string{"room-a"}, b.ListTopics())

	require.NoError(t, b.Unsubscribe("room-a"))
	assert.Empty(t, b.ListTopics())
}

func TestPublishForwardsToDriver(t *testing.T) {
	d := newFakeDriver()
	b := New(d, nil)

	require.NoError(t, b.Publish("room-a", []byte("hello")))
	assert.Equal(t, [][]byte{[]byte("hello")}, d.published["room-a"])
}

func TestFailuresAreReturnedNotPanicked(t *testing.T) {
	d := newFakeDriver()
	d.subscribeErr = errors.New("boom")
	b := New(d, nil)

	err := b.Subscribe("room-a")
	require.Error(t, err)
	assert.Empty(t, b.ListTopics())
}
