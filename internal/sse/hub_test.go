package sse

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublishScoreFansOutByVerdict(t *testing.T) {
	h := NewHub(quietLogger())
	all, cancelAll := h.Subscribe(TopicAll)
	defer cancelAll()
	phish, cancelPhish := h.Subscribe("PHISHING")
	defer cancelPhish()
	safe, cancelSafe := h.Subscribe("SAFE")
	defer cancelSafe()

	h.PublishScore("PHISHING", []byte(`{"verdict":"PHISHING"}`))

	ev := <-all
	assert.Equal(t, "score", ev.Type)
	assert.JSONEq(t, `{"verdict":"PHISHING"}`, string(ev.Data))
	ev = <-phish
	assert.Equal(t, "score", ev.Type)
	assert.Len(t, safe, 0)
}

func TestCancelRemovesSubscriber(t *testing.T) {
	h := NewHub(quietLogger())
	ch, cancel := h.Subscribe(TopicAll)
	require.Equal(t, 1, h.SubscriberCount(TopicAll))

	cancel()
	cancel() // idempotent
	assert.Equal(t, 0, h.SubscriberCount(TopicAll))
	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic.
	h.PublishScore("SAFE", []byte(`{}`))
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	h := NewHub(quietLogger())
	ch, cancel := h.Subscribe(TopicAll)
	defer cancel()
	for i := 0; i < 100; i++ {
		h.Publish(TopicAll, Event{Type: "score", Data: []byte(`{}`)})
	}
	assert.Len(t, ch, cap(ch))
}

func TestListenerDispatch(t *testing.T) {
	h := NewHub(quietLogger())
	ch, cancel := h.Subscribe("SUSPICIOUS")
	defer cancel()

	pl := NewPGListener(nil, h, quietLogger())
	pl.dispatch([]byte(`not json`))
	assert.Len(t, ch, 0)

	pl.dispatch([]byte(`{"id":"x","verdict":"SUSPICIOUS"}`))
	require.Len(t, ch, 1)
}
