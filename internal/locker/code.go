package locker

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

const codePrefix = "PKG"

// CodeGenerator issues pickup codes from a strictly increasing millisecond
// counter, so two codes from one generator never repeat.
type CodeGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewCodeGenerator returns a generator reading the given clock. A nil clock
// means time.Now.
func NewCodeGenerator(now func() time.Time) *CodeGenerator {
	if now == nil {
		now = time.Now
	}
	return &CodeGenerator{now: now}
}

// Next returns a code for which taken reports false.
func (g *CodeGenerator) Next(taken func(code string) bool) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		tick := g.now().UnixMilli()
		if tick <= g.last {
			tick = g.last + 1
		}
		g.last = tick

		code := codePrefix + strings.ToUpper(strconv.FormatInt(tick, 36))
		if taken == nil || !taken(code) {
			return code
		}
	}
}
