package catalog

import "strings"

// Match checks if a topic name matches a subscription pattern.
//
// Supported patterns:
//
//	"order:created"  → exact match
//	"order:*"        → matches order:created, order:updated, etc. (single segment wildcard)
//	"*"              → matches everything
func Match(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}

	if pattern == topic {
		return true
	}

	patternParts := strings.Split(pattern, ":")
	topicParts := strings.Split(topic, ":")

	if len(patternParts) != len(topicParts) {
		return false
	}

	for i, pp := range patternParts {
		if pp == "*" {
			continue
		}
		if pp != topicParts[i] {
			return false
		}
	}

	return true
}
