package store

import (
	"crypto/rand"
	"sync"
	"time"
)

// Push keys are 20 characters: 8 encoding the creation time in milliseconds,
// 12 of randomness. The alphabet is ASCII-ordered, so keys sort
// lexicographically by creation time. Keys generated within the same
// millisecond stay ordered by incrementing the random tail.
const pushAlphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

type pushKeyGen struct {
	mu       sync.Mutex
	lastTime int64
	lastRand [12]byte
}

func (g *pushKeyGen) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now <= g.lastTime {
		// same millisecond, or the clock stepped back; keep keys monotonic
		now = g.lastTime
		for i := 11; i >= 0; i-- {
			g.lastRand[i]++
			if g.lastRand[i] < 64 {
				break
			}
			g.lastRand[i] = 0
		}
	} else {
		var buf [12]byte
		_, _ = rand.Read(buf[:])
		for i := range buf {
			g.lastRand[i] = buf[i] % 64
		}
		g.lastTime = now
	}

	var key [20]byte
	ts := now
	for i := 7; i >= 0; i-- {
		key[i] = pushAlphabet[ts%64]
		ts /= 64
	}
	for i, b := range g.lastRand {
		key[8+i] = pushAlphabet[b]
	}
	return string(key[:])
}

var defaultPushKeys pushKeyGen

// NewPushKey returns a fresh insertion-ordered child key.
func NewPushKey() string {
	return defaultPushKeys.next()
}
