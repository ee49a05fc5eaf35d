package eventmux

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/footfall.report/internal/counter"
	"github.com/banshee-data/footfall.report/internal/testutil"
	"github.com/banshee-data/footfall.report/internal/zone"
)

func event(kind counter.EventKind, in, out uint64) counter.Event {
	return counter.Event{ID: "ev", Kind: kind, In: in, Out: out, At: time.Unix(0, 0).UTC()}
}

func TestMux_SubscribeAndPublish(t *testing.T) {
	m := New(4)
	id1, ch1 := m.Subscribe()
	_, ch2 := m.Subscribe()
	require.NotEqual(t, "", id1)
	assert.Equal(t, 2, m.Subscribers())

	m.Publish(event(counter.EventIn, 1, 0))

	for _, ch := range []<-chan counter.Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, counter.EventIn, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	m.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok, "unsubscribed channel is closed")
	assert.Equal(t, 1, m.Subscribers())

	// Unknown IDs are ignored.
	m.Unsubscribe("missing")
}

func TestMux_PublishNeverBlocks(t *testing.T) {
	m := New(1)
	_, ch := m.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			m.Publish(event(counter.EventOut, 0, uint64(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	assert.Equal(t, uint64(10), m.Published())
	assert.Equal(t, uint64(9), m.Dropped())
	assert.Len(t, ch, 1)
}

func TestMux_Close(t *testing.T) {
	m := New(0)
	_, ch := m.Subscribe()
	m.Close()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, m.Subscribers())

	m.Publish(event(counter.EventIn, 1, 0))
	assert.Zero(t, m.Published())

	_, late := m.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after Close yields a closed channel")
}

func TestMux_ListenerIntegration(t *testing.T) {
	testutil.Quiet(t)
	m := New(8)
	_, ch := m.Subscribe()

	state := counter.NewState(zone.DefaultCorridor(), counter.WithListener(m.Publish))
	state.RecordDetection(300)
	state.RecordDetection(50)
	state.Reset()

	var kinds []counter.EventKind
	for i := 0; i < 2; i++ {
		kinds = append(kinds, (<-ch).Kind)
	}
	assert.Equal(t, []counter.EventKind{counter.EventIn, counter.EventReset}, kinds)
}

func TestMux_Forward(t *testing.T) {
	testutil.Quiet(t)
	m := New(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []counter.EventKind
	done := make(chan struct{})
	go func() {
		m.Forward(ctx, "test", func(_ context.Context, ev counter.Event) error {
			mu.Lock()
			got = append(got, ev.Kind)
			mu.Unlock()
			if ev.Kind == counter.EventOut {
				return errors.New("broker down")
			}
			return nil
		})
		close(done)
	}()

	require.Eventually(t, func() bool { return m.Subscribers() == 1 }, time.Second, time.Millisecond)
	m.Publish(event(counter.EventOut, 0, 1))
	m.Publish(event(counter.EventIn, 1, 1))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Forward did not return after cancel")
	}
	assert.Zero(t, m.Subscribers())
}

func TestMux_ServeSSE(t *testing.T) {
	m := New(8)
	srv := httptest.NewServer(http.HandlerFunc(m.ServeSSE))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", line)

	require.Eventually(t, func() bool { return m.Subscribers() == 1 }, time.Second, time.Millisecond)
	m.Publish(event(counter.EventIn, 3, 1))

	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, "event: in", lines[0])
	assert.Contains(t, lines[1], `"kind":"in"`)
	assert.Contains(t, lines[1], `"in":3`)
}

func TestMux_ServeSSE_MethodNotAllowed(t *testing.T) {
	m := New(1)
	w := httptest.NewRecorder()
	m.ServeSSE(w, httptest.NewRequest(http.MethodPost, "/", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}

func TestMux_AttachAdminRoutes(t *testing.T) {
	m := New(1)
	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.LocalhostRequest(http.MethodGet, "/debug/events", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), "Crossing events")
	assert.Contains(t, w.Body.String(), "/debug/events-tail")
}
