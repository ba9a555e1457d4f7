package requests

import (
	"net/http"
	"sync"
	"time"
)

// dateCache keeps the formatted Date header value for the current second.
type dateCache struct {
	mu    sync.Mutex
	value string
	start time.Time
}

func (d *dateCache) get(now time.Time) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	sec := now.Truncate(time.Second)
	if d.value == "" || !sec.Equal(d.start) {
		d.start = sec
		d.value = sec.UTC().Format(http.TimeFormat)
	}

	return d.value
}
