package useragent

import (
	"math/rand/v2"
	"sync/atomic"
)

// Defaults are current desktop browser User-Agents. Article sites serve
// their full markup to these; bare Go clients often get a stub or a block.
var Defaults = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.7; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
}

// Rotation selects how Next walks the pool.
type Rotation int

const (
	RoundRobin Rotation = iota
	Random
)

// Pool hands out User-Agent strings. It is safe for concurrent use.
type Pool struct {
	uas      []string
	rotation Rotation
	counter  atomic.Uint64
}

// NewPool creates a pool over uas, or over Defaults when uas is empty.
func NewPool(uas []string, rotation Rotation) *Pool {
	if len(uas) == 0 {
		uas = Defaults
	}
	return &Pool{
		uas:      append([]string(nil), uas...),
		rotation: rotation,
	}
}

// Next returns the next User-Agent according to the pool's rotation.
func (p *Pool) Next() string {
	if p == nil || len(p.uas) == 0 {
		return ""
	}
	if p.rotation == Random {
		return p.uas[rand.IntN(len(p.uas))]
	}
	idx := p.counter.Add(1) - 1
	return p.uas[idx%uint64(len(p.uas))]
}

// Len reports how many User-Agents the pool rotates through.
func (p *Pool) Len() int {
	return len(p.uas)
}
