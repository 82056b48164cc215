package conversation

import (
	"sort"
	"time"
)

// mergeConversations combines two forks of the same session:
//
//   - messages: set-union de-duplicated by (role, content, second-truncated
//     timestamp), re-sorted chronologically;
//   - open files: union, local order first;
//   - metadata: remote copy (assumed more recent), local kept only when
//     remote has none;
//   - working directory and active file: local, since they reflect the live
//     UI.
func mergeConversations(local, remote *Conversation) *Conversation {
	merged := &Conversation{
		SessionID:  local.SessionID,
		Messages:   unionMessages(local.Messages, remote.Messages),
		OpenFiles:  unionStrings(local.OpenFiles, remote.OpenFiles),
		Metadata:   remote.Metadata,
		WorkingDir: local.WorkingDir,
		ActiveFile: local.ActiveFile,
	}
	if merged.Metadata == nil {
		merged.Metadata = local.Metadata
	}
	return merged
}

// dedupKey identifies a message across replicas. The timestamp is truncated
// to the second because the two sides may have serialized it with different
// sub-second precision.
func dedupKey(m Message) string {
	return m.Role + "|" + m.Content + "|" + m.Timestamp.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func unionMessages(local, remote []Message) []Message {
	seen := make(map[string]bool, len(local)+len(remote))
	out := make([]Message, 0, len(local)+len(remote))

	for _, m := range append(append([]Message{}, local...), remote...) {
		key := dedupKey(m)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func unionStrings(local, remote []string) []string {
	seen := make(map[string]bool, len(local)+len(remote))
	var out []string
	for _, s := range append(append([]string{}, local...), remote...) {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
