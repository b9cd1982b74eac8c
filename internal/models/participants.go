package models

import (
	"slices"
	"strconv"
	"strings"
)

// NormalizeParticipants returns the uniqueness key for a participant set: distinct ids
// sorted ascending and joined with "_".
func NormalizeParticipants(ids ...uint) string {
	sorted := UniqueIDs(ids)
	slices.Sort(sorted)
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, "_")
}

// PairKey is the normalized key of an unordered user pair, "min_max".
func PairKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return strconv.FormatUint(uint64(a), 10) + "_" + strconv.FormatUint(uint64(b), 10)
}

// UniqueIDs drops zero and duplicate ids, keeping first-seen order.
func UniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
