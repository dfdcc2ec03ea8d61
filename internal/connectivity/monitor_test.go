package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonitor_NotifiesOnTransitionsOnly(t *testing.T) {
	m := NewMonitor(true, nil)
	var events []bool
	unsub := m.Subscribe(func(online bool) { events = append(events, online) })

	m.Set(true)
	m.Set(false)
	m.Set(false)
	m.Set(true)
	assert.Equal(t, []bool{false, true}, events)
	assert.True(t, m.Online())

	unsub()
	m.Set(false)
	assert.Len(t, events, 2)
}

func TestProber_Check(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	m := NewMonitor(false, nil)
	p := NewProber(srv.URL+"/", time.Hour, m, nil)

	assert.True(t, p.Check(context.Background()))
	assert.True(t, m.Online())

	status.Store(http.StatusServiceUnavailable)
	assert.False(t, p.Check(context.Background()))
	assert.False(t, m.Online())

	srv.Close()
	assert.False(t, p.Check(context.Background()))
}

func TestProber_StartStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	m := NewMonitor(false, nil)
	came := make(chan struct{}, 1)
	m.Subscribe(func(online bool) {
		if online {
			came <- struct{}{}
		}
	})

	p := NewProber(srv.URL, time.Hour, m, nil)
	p.Start(context.Background())
	p.Start(context.Background())

	select {
	case <-came:
	case <-time.After(2 * time.Second):
		t.Fatal("initial probe never ran")
	}
	p.Stop()
	p.Stop()
}
