package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// snapshot is a captured 2xx response.
type snapshot struct {
	status int
	header http.Header
	body   []byte
}

// captureWriter tees the response body so it can be replayed later.
type captureWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func (s snapshot) replay(c *gin.Context) {
	h := c.Writer.Header()
	for k, v := range s.header {
		h[k] = v
	}
	h.Set("X-Cache", "HIT")
	c.Writer.WriteHeader(s.status)
	c.Writer.Write(s.body)
}

// Cache replays successful GET responses for ttl, keyed by path and query.
// The serial controller behind the diagnostic endpoints answers slowly and
// must not be polled by every open admin tab.
func Cache(store *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := c.Request.URL.Path + "?" + c.Request.URL.RawQuery
		if v, ok := store.Get(key); ok {
			v.(snapshot).replay(c)
			c.Abort()
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Header("X-Cache", "MISS")
		c.Next()

		if status := w.Status(); status >= http.StatusOK && status < http.StatusMultipleChoices {
			header := w.Header().Clone()
			header.Del("X-Cache")
			store.Set(key, snapshot{status: status, header: header, body: bytes.Clone(w.buf.Bytes())}, ttl)
		}
	}
}
