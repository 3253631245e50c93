package cacheserver

import (
	"crypto/sha256"
	"fmt"
)

type reserveRequest struct {
	Key     string `json:"key"`
	Version string `json:"version"`
	Size    int64  `json:"cacheSize"`
}

func (r *reserveRequest) toEntry() *Entry {
	e := &Entry{
		Key:     r.Key,
		Version: r.Version,
		Size:    r.Size,
	}
	if e.Size == 0 {
		// old clients don't send a size; -1 marks it unknown
		e.Size = -1
	}
	e.fillKeyVersionHash()
	return e
}

// Entry is one stored cache entry. KeyVersionHash identifies the
// (key, version) pair for reservation and exact-match lookups.
type Entry struct {
	ID             uint64 `json:"id" boltholdKey:"ID"`
	Key            string `json:"key" boltholdIndex:"Key"`
	Version        string `json:"version"`
	KeyVersionHash string `json:"keyVersionHash" boltholdIndex:"KeyVersionHash"`
	Size           int64  `json:"cacheSize"`
	Complete       bool   `json:"complete" boltholdIndex:"Complete"`
	UsedAt         int64  `json:"usedAt" boltholdIndex:"UsedAt"`
	CreatedAt      int64  `json:"createdAt" boltholdIndex:"CreatedAt"`
}

func (e *Entry) fillKeyVersionHash() {
	e.KeyVersionHash = fmt.Sprintf("%x", sha256.Sum256([]byte(e.Key+":"+e.Version)))
}
