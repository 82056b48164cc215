package conversation

import (
	"testing"
	"time"
)

var (
	t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 = time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	t2 = time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC)
)

func msg(role, content string, ts time.Time) Message {
	return Message{Role: role, Content: content, Timestamp: ts}
}

// ---------------------------------------------------------------------------
// Envelope round-trip and version counters
// ---------------------------------------------------------------------------

func TestToSyncable_BumpsVersionPerSession(t *testing.T) {
	a := NewAdapter()
	c := &Conversation{SessionID: "s-1", Messages: []Message{msg("user", "hi", t0)}}

	s1, err := a.ToSyncable(c)
	if err != nil {
		t.Fatalf("ToSyncable: %v", err)
	}
	s2, err := a.ToSyncable(c)
	if err != nil {
		t.Fatalf("ToSyncable: %v", err)
	}
	if s1.Version != 1 || s2.Version != 2 {
		t.Errorf("versions = %d, %d, want 1, 2", s1.Version, s2.Version)
	}
	if s1.Type != EntityType || s1.ID != "s-1" {
		t.Errorf("envelope identity = %s:%s", s1.Type, s1.ID)
	}

	// A different session gets its own counter.
	other, err := a.ToSyncable(&Conversation{SessionID: "s-2"})
	if err != nil {
		t.Fatalf("ToSyncable: %v", err)
	}
	if other.Version != 1 {
		t.Errorf("independent session version = %d, want 1", other.Version)
	}
}

func TestFromSyncable_RoundTrip(t *testing.T) {
	a := NewAdapter()
	orig := &Conversation{
		SessionID:  "s-1",
		Messages:   []Message{msg("user", "hi", t0), msg("assistant", "hello", t1)},
		OpenFiles:  []string{"main.go"},
		WorkingDir: "/work",
		ActiveFile: "main.go",
	}

	env, err := a.ToSyncable(orig)
	if err != nil {
		t.Fatalf("ToSyncable: %v", err)
	}
	got, err := a.FromSyncable(env)
	if err != nil {
		t.Fatalf("FromSyncable: %v", err)
	}
	if got.SessionID != "s-1" || len(got.Messages) != 2 || got.WorkingDir != "/work" {
		t.Errorf("round trip lost data: %+v", got)
	}
}

func TestFromSyncable_AdvancesVersionCounter(t *testing.T) {
	a := NewAdapter()
	remote := &Conversation{SessionID: "s-1"}

	env, err := NewAdapter().ToSyncable(remote)
	if err != nil {
		t.Fatalf("ToSyncable: %v", err)
	}
	env.Version = 7 // as if the peer has tracked this session for a while

	if _, err := a.FromSyncable(env); err != nil {
		t.Fatalf("FromSyncable: %v", err)
	}
	next, err := a.ToSyncable(remote)
	if err != nil {
		t.Fatalf("ToSyncable: %v", err)
	}
	if next.Version != 8 {
		t.Errorf("version after adopting remote v7 = %d, want 8", next.Version)
	}
}

func TestToSyncable_MissingSessionID_Rejected(t *testing.T) {
	if _, err := NewAdapter().ToSyncable(&Conversation{}); err == nil {
		t.Error("conversation without session ID accepted")
	}
}

// ---------------------------------------------------------------------------
// Merge policy
// ---------------------------------------------------------------------------

func TestMerge_MessagesUnionedAndSorted(t *testing.T) {
	local := &Conversation{
		SessionID: "s-1",
		Messages:  []Message{msg("user", "hi", t0), msg("user", "local only", t2)},
	}
	remote := &Conversation{
		SessionID: "s-1",
		Messages:  []Message{msg("user", "hi", t0), msg("assistant", "remote only", t1)},
	}

	merged := mergeConversations(local, remote)
	if len(merged.Messages) != 3 {
		t.Fatalf("merged messages = %d, want 3 (union, deduped)", len(merged.Messages))
	}
	// Chronological order.
	if merged.Messages[0].Content != "hi" ||
		merged.Messages[1].Content != "remote only" ||
		merged.Messages[2].Content != "local only" {
		t.Errorf("merged order = %q, %q, %q",
			merged.Messages[0].Content, merged.Messages[1].Content, merged.Messages[2].Content)
	}
}

func TestMerge_DedupIgnoresSubsecondSkew(t *testing.T) {
	// Same message, but one side kept millisecond precision.
	local := &Conversation{
		SessionID: "s-1",
		Messages:  []Message{msg("user", "hi", t0)},
	}
	remote := &Conversation{
		SessionID: "s-1",
		Messages:  []Message{msg("user", "hi", t0.Add(250*time.Millisecond))},
	}

	merged := mergeConversations(local, remote)
	if len(merged.Messages) != 1 {
		t.Errorf("merged messages = %d, want 1 (sub-second skew deduped)", len(merged.Messages))
	}
}

func TestMerge_OpenFilesUnioned(t *testing.T) {
	local := &Conversation{SessionID: "s-1", OpenFiles: []string{"a.go", "b.go"}}
	remote := &Conversation{SessionID: "s-1", OpenFiles: []string{"b.go", "c.go"}}

	merged := mergeConversations(local, remote)
	want := []string{"a.go", "b.go", "c.go"}
	if len(merged.OpenFiles) != len(want) {
		t.Fatalf("open files = %v, want %v", merged.OpenFiles, want)
	}
	for i, f := range want {
		if merged.OpenFiles[i] != f {
			t.Errorf("open files = %v, want %v", merged.OpenFiles, want)
			break
		}
	}
}

func TestMerge_MetadataRemote_UIContextLocal(t *testing.T) {
	local := &Conversation{
		SessionID:  "s-1",
		Metadata:   map[string]any{"title": "stale title"},
		WorkingDir: "/local/dir",
		ActiveFile: "local.go",
	}
	remote := &Conversation{
		SessionID:  "s-1",
		Metadata:   map[string]any{"title": "fresh title"},
		WorkingDir: "/remote/dir",
		ActiveFile: "remote.go",
	}

	merged := mergeConversations(local, remote)
	if merged.Metadata["title"] != "fresh title" {
		t.Errorf("metadata title = %v, want remote's", merged.Metadata["title"])
	}
	if merged.WorkingDir != "/local/dir" || merged.ActiveFile != "local.go" {
		t.Errorf("UI context = %s / %s, want local's", merged.WorkingDir, merged.ActiveFile)
	}
}

func TestMerge_RemoteWithoutMetadata_KeepsLocal(t *testing.T) {
	local := &Conversation{SessionID: "s-1", Metadata: map[string]any{"title": "only copy"}}
	remote := &Conversation{SessionID: "s-1"}

	merged := mergeConversations(local, remote)
	if merged.Metadata["title"] != "only copy" {
		t.Error("local metadata lost when remote had none")
	}
}

func TestMerge_EnvelopeVersionAboveBothInputs(t *testing.T) {
	a := NewAdapter()
	lEnv, err := a.ToSyncable(&Conversation{SessionID: "s-1", Messages: []Message{msg("user", "a", t0)}})
	if err != nil {
		t.Fatalf("ToSyncable: %v", err)
	}
	rEnv, err := NewAdapter().ToSyncable(&Conversation{SessionID: "s-1", Messages: []Message{msg("user", "b", t1)}})
	if err != nil {
		t.Fatalf("ToSyncable: %v", err)
	}
	rEnv.Version = 5

	merged, err := a.Merge(lEnv, rEnv)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Version != 6 {
		t.Errorf("merged version = %d, want max(1,5)+1 = 6", merged.Version)
	}
}

func TestSummary(t *testing.T) {
	a := NewAdapter()
	env, err := a.ToSyncable(&Conversation{
		SessionID: "s-1",
		Messages:  []Message{msg("user", "hi", t0)},
		OpenFiles: []string{"a.go", "b.go"},
	})
	if err != nil {
		t.Fatalf("ToSyncable: %v", err)
	}

	stats, err := a.Summary(env)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if stats.Messages != 1 || stats.OpenFiles != 2 || stats.Bytes == 0 {
		t.Errorf("stats = %+v", stats)
	}
}
