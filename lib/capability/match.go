// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"path"
	"strings"
)

// MatchAction reports whether action matches pattern.
//
//   - "update_pricing" matches only itself
//   - "update_*" matches "update_pricing" but not "update/pricing"
//   - "pricing/**" matches "pricing" and anything below it
//   - "**" matches every action
//
// Malformed patterns never match.
func MatchAction(pattern, action string) bool {
	if pattern == "**" {
		return true
	}
	if prefix, found := strings.CutSuffix(pattern, "/**"); found {
		if matchGlob(prefix, action) {
			return true
		}
		depth := strings.Count(prefix, "/") + 1
		segments := strings.SplitN(action, "/", depth+1)
		return len(segments) > depth && matchGlob(prefix, strings.Join(segments[:depth], "/"))
	}
	if strings.Contains(pattern, "**") {
		return false
	}
	return matchGlob(pattern, action)
}

// MatchAnyAction reports whether action matches any of patterns. An
// empty list matches nothing.
func MatchAnyAction(patterns []string, action string) bool {
	for _, pattern := range patterns {
		if MatchAction(pattern, action) {
			return true
		}
	}
	return false
}

// ValidPattern reports whether pattern is well formed.
func ValidPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "**" {
		return true
	}
	body := strings.TrimSuffix(pattern, "/**")
	if strings.Contains(body, "**") {
		return false
	}
	_, err := path.Match(body, "")
	return err == nil
}

func matchGlob(pattern, s string) bool {
	matched, err := path.Match(pattern, s)
	return err == nil && matched
}
