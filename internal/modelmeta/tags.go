package modelmeta

import (
	"regexp"
	"strconv"
	"strings"
)

// tagSplit matches the separators a model id is split on to derive its tag set.
var tagSplit = regexp.MustCompile(`[:/\-_@,]`)

// DeriveTags splits a model id into its lowercase tag set. Empty fragments are
// dropped; the full lowercase id is included as a tag of its own.
func DeriveTags(modelID string) []string {
	lower := strings.ToLower(modelID)
	parts := tagSplit.Split(lower, -1)
	seen := make(map[string]struct{}, len(parts)+1)
	tags := make([]string, 0, len(parts)+1)
	add := func(t string) {
		if t == "" {
			return
		}
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}
	for _, p := range parts {
		add(p)
	}
	add(lower)
	return tags
}

// HasAllTags reports whether the tag set contains every requested tag
// (case-insensitive).
func HasAllTags(tags []string, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[strings.ToLower(t)] = struct{}{}
	}
	for _, w := range wanted {
		if _, ok := set[strings.ToLower(w)]; !ok {
			return false
		}
	}
	return true
}

// paramPattern matches parameter-count fragments like "8b", "0.5b", "70b",
// "350m" inside a model id.
var paramPattern = regexp.MustCompile(`(?i)(?:^|[:/\-_@,])(\d+(?:\.\d+)?)([bm])(?:$|[:/\-_@,])`)

// InferParameterCount extracts a parameter count in millions from a model id,
// or 0 when the id carries no size marker.
func InferParameterCount(modelID string) float64 {
	m := paramPattern.FindStringSubmatch(modelID)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	if strings.EqualFold(m[2], "b") {
		return n * 1000
	}
	return n
}
