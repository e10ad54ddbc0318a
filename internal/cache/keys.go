// Package cache provides the Redis-backed KV response cache for the edgebb
// API.
//
// This file defines the cache key naming conventions. Keys follow the
// {prefix}:{resource}:{identifier} shape so whole resource families can be
// invalidated with one pattern.
package cache

import "fmt"

// Key prefixes for the cached page families.
const (
	PrefixDat     = "dat"
	PrefixKako    = "kako"
	PrefixSubject = "subject"
)

// DatKey is the cache key for a rendered live thread.
func DatKey(boardKey, threadID string) string {
	return fmt.Sprintf("%s:%s:%s", PrefixDat, boardKey, threadID)
}

// KakoKey is the cache key for an archived thread object.
func KakoKey(boardKey, threadID string) string {
	return fmt.Sprintf("%s:%s:%s", PrefixKako, boardKey, threadID)
}

// SubjectKey is the cache key for a board's thread listing.
func SubjectKey(boardKey string) string {
	return fmt.Sprintf("%s:%s", PrefixSubject, boardKey)
}

// BoardPattern matches every cached page of one board, with or without a
// thread suffix.
func BoardPattern(boardKey string) string {
	return fmt.Sprintf("*:%s*", boardKey)
}
