package taskapi

import (
	"net/http"
	"sync"
	"time"
)

// validator remembers the last full list body with its validators so a
// 304 answer can be served without a payload.
type validator struct {
	mu           sync.Mutex
	etag         string
	lastModified time.Time
	body         []byte
}

// addHeaders sets If-None-Match, or If-Modified-Since when no ETag is known.
func (v *validator) addHeaders(req *http.Request) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.body == nil {
		return false
	}
	switch {
	case v.etag != "":
		req.Header.Set("If-None-Match", v.etag)
	case !v.lastModified.IsZero():
		req.Header.Set("If-Modified-Since", v.lastModified.Format(http.TimeFormat))
	default:
		return false
	}
	return true
}

// store records body when the response carries a validator.
func (v *validator) store(headers http.Header, body []byte) {
	etag := headers.Get("ETag")
	var lastMod time.Time
	if s := headers.Get("Last-Modified"); s != "" {
		if t, err := http.ParseTime(s); err == nil {
			lastMod = t
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if etag == "" && lastMod.IsZero() {
		v.etag, v.lastModified, v.body = "", time.Time{}, nil
		return
	}
	v.etag = etag
	v.lastModified = lastMod
	v.body = append([]byte(nil), body...)
}

// cached returns the remembered body.
func (v *validator) cached() ([]byte, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.body == nil {
		return nil, false
	}
	return v.body, true
}

// reset forgets the remembered body.
func (v *validator) reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.etag, v.lastModified, v.body = "", time.Time{}, nil
}
