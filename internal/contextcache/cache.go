// Package contextcache remembers each user's most recent exchange with the
// bot so the next completion can refer back to it.
package contextcache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Entry is the last message/response pair seen for a user.
type Entry struct {
	LastMessage  string    `json:"last_message"`
	LastResponse string    `json:"last_response"`
	Timestamp    time.Time `json:"timestamp"`
}

// Cache maps user ids to their last exchange.
type Cache interface {
	Get(userID string) (Entry, bool)
	Set(userID string, entry Entry)
	Len() int
}

// LRU is a size-bounded Cache whose entries also expire after a TTL.
// Set replaces the whole entry, so concurrent writers for the same user
// resolve as last-write-wins.
type LRU struct {
	lru *expirable.LRU[string, Entry]
}

// New creates a cache holding at most size users. A ttl of zero disables
// expiry.
func New(size int, ttl time.Duration) *LRU {
	return &LRU{lru: expirable.NewLRU[string, Entry](size, nil, ttl)}
}

// Get returns the user's entry if present and not expired.
func (c *LRU) Get(userID string) (Entry, bool) {
	return c.lru.Get(userID)
}

// Set overwrites the user's entry.
func (c *LRU) Set(userID string, entry Entry) {
	c.lru.Add(userID, entry)
}

// Len returns the number of cached users.
func (c *LRU) Len() int {
	return c.lru.Len()
}
