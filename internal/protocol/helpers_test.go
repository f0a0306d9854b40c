package protocol

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

// recorder collects callback invocations
type recorder struct {
	mutex     sync.Mutex
	events    []string
	responses []string
}

func (r *recorder) OnEvent(msg string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, msg)
}

func (r *recorder) OnResponse(msg string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.responses = append(r.responses, msg)
}

func (r *recorder) Events() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Responses() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), r.responses...)
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitTimeout):
		require.FailNow(t, "timed out waiting for signal")
	}
}
