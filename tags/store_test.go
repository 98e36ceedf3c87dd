package tags

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/stream-tagger/apperr"
	"github.com/onnwee/stream-tagger/platform"
)

var streamStart = time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)

func testSession(community, channel string) Session {
	return Session{
		CommunityID: community,
		ChannelID:   channel,
		Stream: platform.ResolvedStream{
			Platform:  platform.Twitch,
			ChannelID: "1001",
			StreamID:  "40001",
			StartTime: streamStart,
			IsLive:    true,
		},
	}
}

// at is a creation time rel seconds into the test stream.
func at(rel int) time.Time { return streamStart.Add(time.Duration(rel) * time.Second) }

func mustCreate(t *testing.T, st *Store, s Session, id, raw string, rel int) Entry {
	t.Helper()
	e, created, err := st.Create(context.Background(), s, NewEntry{ID: id, AuthorID: "u1", RawText: raw, CreatedAt: at(rel)})
	if err != nil {
		t.Fatalf("Create(%s): %v", id, err)
	}
	if !created {
		t.Fatalf("Create(%s) reported duplicate", id)
	}
	return e
}

func TestCreateDuplicateIsSilentSkip(t *testing.T) {
	st := NewStore(nil)
	s := testSession("c1", "ch1")
	first := mustCreate(t, st, s, "m1", "`first", 10)

	got, created, err := st.Create(context.Background(), s, NewEntry{ID: "m1", AuthorID: "u2", RawText: "``other", CreatedAt: at(99)})
	if err != nil {
		t.Fatalf("duplicate create returned error: %v", err)
	}
	if created {
		t.Fatal("duplicate create reported created")
	}
	if got.RawText != first.RawText || got.Depth != 1 {
		t.Errorf("duplicate create returned %+v, want the original", got)
	}
	if _, n := st.Len(); n != 1 {
		t.Errorf("entries = %d, want 1", n)
	}
}

func TestCreateDuplicateAcrossSessions(t *testing.T) {
	st := NewStore(nil)
	mustCreate(t, st, testSession("c1", "ch1"), "m1", "`first", 10)
	got, created, err := st.Create(context.Background(), testSession("c2", "ch2"), NewEntry{ID: "m1", RawText: "`again", CreatedAt: at(20)})
	if err != nil || created {
		t.Fatalf("Create = (%v, %v), want silent skip", created, err)
	}
	if got.SessionID != SessionID("c1", "ch1", "twitch:40001") {
		t.Errorf("returned entry from session %q", got.SessionID)
	}
}

func TestCreateRejectsInvalid(t *testing.T) {
	st := NewStore(nil)
	s := testSession("c1", "ch1")
	cases := []NewEntry{
		{ID: "", RawText: "`x"},
		{ID: "m1", RawText: "``  "},
	}
	for _, ne := range cases {
		if _, _, err := st.Create(context.Background(), s, ne); !errors.Is(err, apperr.ErrInvalid) {
			t.Errorf("Create(%+v) err = %v, want Invalid", ne, err)
		}
	}
	bad := s
	bad.Stream.StartTime = time.Time{}
	if _, _, err := st.Create(context.Background(), bad, NewEntry{ID: "m2", RawText: "`x"}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("incomplete stream err = %v, want Invalid", err)
	}
}

func TestEditRecomputesDepth(t *testing.T) {
	st := NewStore(nil)
	s := testSession("c1", "ch1")
	mustCreate(t, st, s, "m1", "`note", 10)

	e, err := st.Edit(context.Background(), "m1", "```deeper note", at(30))
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if e.Depth != 3 {
		t.Errorf("depth = %d, want 3", e.Depth)
	}
	if !e.EditedAt.Equal(at(30)) {
		t.Errorf("EditedAt = %v", e.EditedAt)
	}
	got, _ := st.Get("m1")
	if got.Depth != 3 || got.RawText != "```deeper note" {
		t.Errorf("stored entry = %+v", got)
	}
}

func TestMutationsOnMissingOrTombstoned(t *testing.T) {
	st := NewStore(nil)
	s := testSession("c1", "ch1")
	mustCreate(t, st, s, "m1", "`note", 10)
	if _, err := st.Tombstone(context.Background(), "m1"); err != nil {
		t.Fatalf("Tombstone: %v", err)
	}

	ctx := context.Background()
	for _, id := range []string{"m1", "missing"} {
		if _, err := st.Edit(ctx, id, "`x", time.Time{}); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("Edit(%s) err = %v", id, err)
		}
		if _, err := st.Tombstone(ctx, id); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("Tombstone(%s) err = %v", id, err)
		}
		if _, err := st.SetStar(ctx, id, true); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("SetStar(%s) err = %v", id, err)
		}
		if _, err := st.AdjustOffset(ctx, id, 5); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("AdjustOffset(%s) err = %v", id, err)
		}
	}
	// tombstoned ids still block reuse
	if _, created, _ := st.Create(ctx, s, NewEntry{ID: "m1", RawText: "`again"}); created {
		t.Error("tombstoned id was recreated")
	}
}

func TestAdjustOffsetAccumulates(t *testing.T) {
	st := NewStore(nil)
	s := testSession("c1", "ch1")
	mustCreate(t, st, s, "m1", "`note", 100)
	ctx := context.Background()
	for _, d := range []int{-10, -10, 5} {
		if _, err := st.AdjustOffset(ctx, "m1", d); err != nil {
			t.Fatalf("AdjustOffset(%d): %v", d, err)
		}
	}
	e, _ := st.Get("m1")
	if e.OffsetSeconds != -15 {
		t.Errorf("OffsetSeconds = %d, want -15", e.OffsetSeconds)
	}
}

func TestAdjustOffsetBounds(t *testing.T) {
	st := NewStore(nil)
	s := testSession("c1", "ch1")
	mustCreate(t, st, s, "m1", "`note", 100)
	ctx := context.Background()
	if _, err := st.AdjustOffset(ctx, "m1", MaxAdjust); err != nil {
		t.Errorf("AdjustOffset(max) err = %v", err)
	}
	for _, d := range []int{MaxAdjust + 1, -MaxAdjust - 1} {
		if _, err := st.AdjustOffset(ctx, "m1", d); !errors.Is(err, apperr.ErrInvalidOffset) {
			t.Errorf("AdjustOffset(%d) err = %v, want InvalidOffset", d, err)
		}
	}
}

func TestSetStarFloorsAtZero(t *testing.T) {
	st := NewStore(nil)
	s := testSession("c1", "ch1")
	mustCreate(t, st, s, "m1", "`note", 100)
	ctx := context.Background()
	st.SetStar(ctx, "m1", true)
	st.SetStar(ctx, "m1", true)
	e, _ := st.SetStar(ctx, "m1", false)
	if e.Stars != 1 || !e.Starred() {
		t.Errorf("stars = %d, want 1", e.Stars)
	}
	st.SetStar(ctx, "m1", false)
	e, _ = st.SetStar(ctx, "m1", false)
	if e.Stars != 0 || e.Starred() {
		t.Errorf("stars = %d, want 0", e.Stars)
	}
}

func TestLatestByAuthor(t *testing.T) {
	st := NewStore(nil)
	ctx := context.Background()
	s := testSession("c1", "ch1")
	other := testSession("c2", "ch2")
	st.Create(ctx, s, NewEntry{ID: "a", AuthorID: "u1", RawText: "`one", CreatedAt: at(10)})
	st.Create(ctx, s, NewEntry{ID: "b", AuthorID: "u1", RawText: "`two", CreatedAt: at(20)})
	st.Create(ctx, s, NewEntry{ID: "c", AuthorID: "u2", RawText: "`three", CreatedAt: at(30)})
	st.Create(ctx, other, NewEntry{ID: "d", AuthorID: "u1", RawText: "`elsewhere", CreatedAt: at(40)})

	e, ok := st.LatestByAuthor("c1", "u1")
	if !ok || e.ID != "b" {
		t.Fatalf("LatestByAuthor = (%s, %v), want b", e.ID, ok)
	}
	st.Tombstone(ctx, "b")
	if e, _ := st.LatestByAuthor("c1", "u1"); e.ID != "a" {
		t.Errorf("after tombstone LatestByAuthor = %s, want a", e.ID)
	}
	if _, ok := st.LatestByAuthor("c1", "nobody"); ok {
		t.Error("unknown author found an entry")
	}
}

func TestOpenKeepsAnchor(t *testing.T) {
	st := NewStore(nil)
	ctx := context.Background()
	s := testSession("c1", "ch1")
	s.DefaultOffset = -20
	first, err := st.Open(ctx, s)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	again := s
	again.DefaultOffset = 0
	again.Stream.IsLive = false
	again.Stream.EndTime = at(3600)
	got, _ := st.Open(ctx, again)
	if got.DefaultOffset != -20 {
		t.Errorf("DefaultOffset = %d, want the value captured at open", got.DefaultOffset)
	}
	if got.Stream.IsLive || !got.Stream.EndTime.Equal(at(3600)) {
		t.Errorf("live state not updated: %+v", got.Stream)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Error("CreatedAt changed on reopen")
	}
}

// recordingJournal logs calls in order. fail fails every call, failOnce only the next.
type recordingJournal struct {
	mu       sync.Mutex
	calls    []string
	fail     error
	failOnce error
}

func (j *recordingJournal) record(s string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, s)
	if err := j.failOnce; err != nil {
		j.failOnce = nil
		return err
	}
	return j.fail
}

func (j *recordingJournal) failNext(err error) {
	j.mu.Lock()
	j.failOnce = err
	j.mu.Unlock()
}

func (j *recordingJournal) last(n int) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if n > len(j.calls) {
		n = len(j.calls)
	}
	return append([]string(nil), j.calls[len(j.calls)-n:]...)
}

func (j *recordingJournal) SaveSession(_ context.Context, s Session) error {
	return j.record("session " + s.ID)
}

func (j *recordingJournal) SaveEntry(_ context.Context, e Entry) error {
	return j.record("entry " + e.SessionID)
}

func (j *recordingJournal) DeleteSession(_ context.Context, id string) error {
	return j.record("delete " + id)
}

func TestJournalSessionBeforeEntries(t *testing.T) {
	j := &recordingJournal{}
	st := NewStore(j)
	s := testSession("c1", "ch1")

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Create(context.Background(), s, NewEntry{ID: fmt.Sprintf("m%d", i), RawText: "`x", CreatedAt: at(i)})
		}()
	}
	wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.calls) != 21 {
		t.Fatalf("journal calls = %d, want 21", len(j.calls))
	}
	if j.calls[0] != "session "+SessionID("c1", "ch1", "twitch:40001") {
		t.Errorf("first journal call = %q, want the session", j.calls[0])
	}
}

func TestJournalErrorSurfaces(t *testing.T) {
	j := &recordingJournal{}
	st := NewStore(j)
	s := testSession("c1", "ch1")
	mustCreate(t, st, s, "m1", "`x", 1)
	j.fail = errors.New("disk full")
	if _, err := st.SetStar(context.Background(), "m1", true); err == nil {
		t.Error("expected journal error")
	}
}

func TestAdjustRetryAfterJournalError(t *testing.T) {
	j := &recordingJournal{}
	st := NewStore(j)
	ctx := context.Background()
	mustCreate(t, st, testSession("c1", "ch1"), "m1", "`x", 1)

	j.failNext(errors.New("transient"))
	if _, err := st.AdjustOffset(ctx, "m1", -10); err == nil {
		t.Fatal("expected journal error")
	}
	if e, _ := st.Get("m1"); e.OffsetSeconds != 0 {
		t.Fatalf("failed adjust applied: offset = %d", e.OffsetSeconds)
	}
	e, err := st.AdjustOffset(ctx, "m1", -10)
	if err != nil || e.OffsetSeconds != -10 {
		t.Errorf("retry = %d, %v; want -10", e.OffsetSeconds, err)
	}
}

func TestCreateRetryAfterSessionJournalError(t *testing.T) {
	j := &recordingJournal{}
	st := NewStore(j)
	ctx := context.Background()
	s := testSession("c2", "ch2")
	sid := SessionID("c2", "ch2", "twitch:40001")

	j.failNext(errors.New("transient"))
	if _, _, err := st.Create(ctx, s, NewEntry{ID: "m1", RawText: "`x", CreatedAt: at(1)}); err == nil {
		t.Fatal("expected journal error")
	}
	if n, _ := st.Len(); n != 0 {
		t.Fatalf("sessions after failed open = %d, want 0", n)
	}
	_, created, err := st.Create(ctx, s, NewEntry{ID: "m1", RawText: "`x", CreatedAt: at(1)})
	if err != nil || !created {
		t.Fatalf("retry = (%v, %v)", created, err)
	}
	want := []string{"session " + sid, "entry " + sid}
	if got := j.last(2); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("journal calls after retry = %v, want %v", got, want)
	}
}

func TestCreateRollsBackOnEntryJournalError(t *testing.T) {
	j := &recordingJournal{}
	st := NewStore(j)
	ctx := context.Background()
	s := testSession("c1", "ch1")
	mustCreate(t, st, s, "m1", "`first", 1)

	j.failNext(errors.New("transient"))
	if _, _, err := st.Create(ctx, s, NewEntry{ID: "m2", RawText: "`second", CreatedAt: at(2)}); err == nil {
		t.Fatal("expected journal error")
	}
	if _, ok := st.Get("m2"); ok {
		t.Fatal("entry kept after failed journal write")
	}
	if _, n := st.Len(); n != 1 {
		t.Errorf("entries = %d, want 1", n)
	}
	if _, created, err := st.Create(ctx, s, NewEntry{ID: "m2", RawText: "`second", CreatedAt: at(2)}); err != nil || !created {
		t.Errorf("retry = (%v, %v)", created, err)
	}
}

func TestEditRejectsNonTags(t *testing.T) {
	st := NewStore(nil)
	mustCreate(t, st, testSession("c1", "ch1"), "m1", "``point", 10)
	for _, raw := range []string{"just chatting now", "`", "``  ", ""} {
		if _, err := st.Edit(context.Background(), "m1", raw, at(20)); !errors.Is(err, apperr.ErrInvalid) {
			t.Errorf("Edit(%q) err = %v, want Invalid", raw, err)
		}
	}
	if e, _ := st.Get("m1"); e.RawText != "``point" || e.Depth != 2 || !e.EditedAt.IsZero() {
		t.Errorf("entry changed by rejected edits: %+v", e)
	}
}

func TestOpenJournalsLiveStateChange(t *testing.T) {
	j := &recordingJournal{}
	st := NewStore(j)
	ctx := context.Background()
	s := testSession("c1", "ch1")
	sid := SessionID("c1", "ch1", "twitch:40001")
	if _, err := st.Open(ctx, s); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Open(ctx, s); err != nil {
		t.Fatal(err)
	}
	if n := len(j.last(10)); n != 1 {
		t.Fatalf("unchanged reopen journaled: %d calls", n)
	}

	ended := s
	ended.Stream.IsLive = false
	ended.Stream.EndTime = at(3600)
	j.failNext(errors.New("transient"))
	if _, err := st.Open(ctx, ended); err == nil {
		t.Fatal("expected journal error")
	}
	if got, _ := st.Session(sid); !got.Stream.IsLive {
		t.Fatal("live state changed despite journal error")
	}
	got, err := st.Open(ctx, ended)
	if err != nil || got.Stream.IsLive || !got.Stream.EndTime.Equal(at(3600)) {
		t.Fatalf("reopen = %+v, %v", got.Stream, err)
	}
	if calls := j.last(10); len(calls) != 3 || calls[2] != "session "+sid {
		t.Errorf("journal calls = %v", calls)
	}
}

func TestRestore(t *testing.T) {
	st := NewStore(nil)
	s := testSession("c1", "ch1").normalized()
	err := st.Restore([]Session{s}, []Entry{
		{ID: "m1", SessionID: s.ID, RawText: "``restored", Depth: 9, CreatedAt: at(5)},
	})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	e, ok := st.Get("m1")
	if !ok || e.Depth != 2 {
		t.Errorf("restored entry = %+v, %v", e, ok)
	}
	if err := st.Restore(nil, []Entry{{ID: "x", SessionID: "nope"}}); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestPrune(t *testing.T) {
	j := &recordingJournal{}
	st := NewStore(j)
	ctx := context.Background()
	now := at(10000)
	grace := time.Hour

	ended := testSession("c1", "ended")
	ended.Stream.IsLive = false
	ended.Stream.EndTime = now.Add(-2 * grace)
	ended.CreatedAt = at(0)

	busy := ended
	busy.ChannelID = "busy"

	recent := ended
	recent.ChannelID = "recent"
	recent.Stream.EndTime = now.Add(-grace / 2)

	mustCreate(t, st, ended, "dead", "`x", 1)
	st.Tombstone(ctx, "dead")
	mustCreate(t, st, busy, "alive", "`x", 1)
	st.Open(ctx, recent)

	n, err := st.Prune(ctx, now, grace)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d sessions, want 1", n)
	}
	if _, ok := st.Session(ended.normalized().ID); ok {
		t.Error("ended session survived")
	}
	if _, ok := st.Get("dead"); ok {
		t.Error("pruned entry still indexed")
	}
	for _, s := range []Session{busy, recent} {
		if _, ok := st.Session(s.normalized().ID); !ok {
			t.Errorf("session %s was pruned", s.ChannelID)
		}
	}
	if last := j.calls[len(j.calls)-1]; last != "delete "+ended.normalized().ID {
		t.Errorf("last journal call = %q", last)
	}
}

// TestCompileNeverShowsTombstoned drives random create/edit/tombstone sequences.
func TestCompileNeverShowsTombstoned(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ctx := context.Background()
	for round := range 50 {
		st := NewStore(nil)
		s := testSession("c1", "ch1")
		var ids []string
		for i := range 40 {
			switch op := rng.Intn(4); {
			case op < 2 || len(ids) == 0:
				id := fmt.Sprintf("r%d-%d", round, i)
				raw := strings.Repeat("`", 1+rng.Intn(4)) + "tag"
				st.Create(ctx, s, NewEntry{ID: id, RawText: raw, CreatedAt: at(rng.Intn(300))})
				ids = append(ids, id)
			case op == 2:
				st.Edit(ctx, ids[rng.Intn(len(ids))], "``edited", time.Time{})
			default:
				st.Tombstone(ctx, ids[rng.Intn(len(ids))])
			}
		}

		snap := st.Snapshot(s.normalized().ID)[0]
		tree := CompileTree(snap.Entries, map[string]Session{snap.Session.ID: snap.Session}, Filter{})
		seen := map[string]int{}
		for _, id := range tree.Entries() {
			seen[id]++
		}
		for _, e := range snap.Entries {
			switch {
			case e.Tombstoned && seen[e.ID] != 0:
				t.Fatalf("round %d: tombstoned %s compiled", round, e.ID)
			case !e.Tombstoned && seen[e.ID] != 1:
				t.Fatalf("round %d: live %s appears %d times", round, e.ID, seen[e.ID])
			}
		}
	}
}
