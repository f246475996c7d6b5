package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct{}

func (fakeStats) Stats() map[string]interface{} {
	return map[string]interface{}{"total_connections": 3}
}

type fakeReloader struct {
	err    error
	called int
}

func (r *fakeReloader) Reload() error {
	r.called++
	return r.err
}

func TestHandleStatus(t *testing.T) {
	h := NewHandler(fakeStats{}, nil)
	resp := h.Handle(context.Background(), Command{Method: "status", ID: "1"})

	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 3, result["total_connections"])
	assert.Contains(t, result, "uptime_sec")
}

func TestHandleConfigReload(t *testing.T) {
	r := &fakeReloader{}
	h := NewHandler(nil, r)

	resp := h.Handle(context.Background(), Command{Method: "config_reload", ID: "2"})
	require.Nil(t, resp.Error)
	assert.Equal(t, 1, r.called)

	r.err = errors.New("bad config")
	resp = h.Handle(context.Background(), Command{Method: "config_reload", ID: "3"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
}

func TestHandleShutdown(t *testing.T) {
	h := NewHandler(nil, nil)

	resp := h.Handle(context.Background(), Command{Method: "shutdown", ID: "4"})
	require.NotNil(t, resp.Error, "shutdown without a registered handler must fail")

	fired := make(chan struct{})
	h.SetShutdownFunc(func() { close(fired) })
	resp = h.Handle(context.Background(), Command{Method: "shutdown", ID: "5"})
	require.Nil(t, resp.Error)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("shutdown func was not invoked")
	}
}

func TestHandleUnknownMethod(t *testing.T) {
	h := NewHandler(nil, nil)
	resp := h.Handle(context.Background(), Command{Method: "bogus", ID: "6"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}
