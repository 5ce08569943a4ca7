package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionSnapshotKey returns the cache key for a session's progress snapshot.
func (r *CacheKeyStruct) SessionSnapshotKey(sessionID string) string {
	return fmt.Sprintf("session:%s:snapshot", sessionID)
}

// SessionFenceKey returns the cache key holding the fence token of the
// device currently allowed to write snapshots for a session.
func (r *CacheKeyStruct) SessionFenceKey(sessionID string) string {
	return fmt.Sprintf("session:%s:fence", sessionID)
}

// SessionSeqKey returns the cache key tracking the highest snapshot
// sequence number accepted for a session.
func (r *CacheKeyStruct) SessionSeqKey(sessionID string) string {
	return fmt.Sprintf("session:%s:seq", sessionID)
}

// StudentActiveSessionKey returns the cache key for a student's currently
// active mock test session.
func (r *CacheKeyStruct) StudentActiveSessionKey(studentID int) string {
	return fmt.Sprintf("student:%d:active_session", studentID)
}

var CacheKey = NewCacheKeyStruct()
