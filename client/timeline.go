package client

import (
	"sort"

	"github.com/sonu-tech-hub/mychat-rtc/internal/proto"
)

// MergeTimeline merges message batches into one chronological view. History
// pages and live events overlap at the edges; duplicates are collapsed by id
// with the later occurrence winning, so an edited live copy replaces the
// stale history copy. Ordering is by creation time with id as tiebreaker.
func MergeTimeline(batches ...[]proto.MessagePayload) []proto.MessagePayload {
	byID := make(map[string]proto.MessagePayload)
	for _, batch := range batches {
		for _, msg := range batch {
			byID[msg.ID] = msg
		}
	}

	merged := make([]proto.MessagePayload, 0, len(byID))
	for _, msg := range byID {
		merged = append(merged, msg)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CreatedAt != merged[j].CreatedAt {
			return merged[i].CreatedAt < merged[j].CreatedAt
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}

// ApplyEdit rewrites the content of the matching message in place and marks
// it edited. Returns false when the id is not present.
func ApplyEdit(timeline []proto.MessagePayload, messageID, content string) bool {
	for i := range timeline {
		if timeline[i].ID == messageID {
			timeline[i].Content = content
			timeline[i].Edited = true
			return true
		}
	}
	return false
}

// ApplyDelete removes a hard-deleted message or blanks a soft-deleted one.
// Returns the updated timeline and whether the id was present.
func ApplyDelete(timeline []proto.MessagePayload, messageID string, hard bool) ([]proto.MessagePayload, bool) {
	for i := range timeline {
		if timeline[i].ID != messageID {
			continue
		}
		if hard {
			return append(timeline[:i], timeline[i+1:]...), true
		}
		timeline[i].Content = ""
		timeline[i].Attachments = nil
		timeline[i].Deleted = true
		return timeline, true
	}
	return timeline, false
}
