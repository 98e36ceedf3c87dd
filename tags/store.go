package tags

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/stream-tagger/apperr"
	"github.com/onnwee/stream-tagger/platform"
	"github.com/onnwee/stream-tagger/telemetry"
)

// MaxAdjust bounds a single offset adjustment in seconds.
const MaxAdjust = 7200

// Journal persists store mutations. Calls happen under the owning session's lock, so a
// journal sees the mutations of one session in order.
type Journal interface {
	SaveSession(ctx context.Context, s Session) error
	SaveEntry(ctx context.Context, e Entry) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// SessionSnapshot is a point-in-time copy of one session log.
type SessionSnapshot struct {
	Session Session
	Entries []Entry
}

type sessionLog struct {
	mu      sync.Mutex
	session Session
	entries map[string]*Entry
}

// Store owns all entries. Mutations of one session are serialized by that session's
// lock; the store-wide lock only guards the session map and the entry index. It is
// taken after a session lock, except in Open, which locks a brand-new session while
// holding it; nothing else can see that session yet.
//
// Every mutation is journaled before it is applied, so a failed journal write leaves
// memory unchanged and the call can be retried.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionLog
	index    map[string]string // entry id -> session id

	journal Journal
	now     func() time.Time
}

// NewStore creates an empty store. journal may be nil.
func NewStore(journal Journal) *Store {
	return &Store{
		sessions: make(map[string]*sessionLog),
		index:    make(map[string]string),
		journal:  journal,
		now:      time.Now,
	}
}

// Open returns the stored session for s, registering it on first use. The stored copy
// wins so a session keeps the stream and default offset it was opened with; only the
// stream's live state is taken from s.
func (st *Store) Open(ctx context.Context, s Session) (Session, error) {
	if !s.Stream.Complete() {
		return Session{}, apperr.Invalid("session needs a resolved stream")
	}
	s = s.normalized()
	for {
		st.mu.Lock()
		log, ok := st.sessions[s.ID]
		if !ok {
			if s.CreatedAt.IsZero() {
				s.CreatedAt = st.now()
			}
			// held until journaled so no entry of this session can be written first
			log = &sessionLog{session: s, entries: make(map[string]*Entry)}
			log.mu.Lock()
			st.sessions[s.ID] = log
			telemetry.SetSessions(len(st.sessions))
		}
		st.mu.Unlock()
		if !ok {
			return st.register(ctx, log)
		}
		cur, live, err := st.refresh(ctx, log, s)
		if live {
			return cur, err
		}
		// lost a race with a failed register or a prune
	}
}

// register journals a session that Open has just added and still holds locked.
func (st *Store) register(ctx context.Context, log *sessionLog) (Session, error) {
	defer log.mu.Unlock()
	s := log.session
	if st.journal == nil {
		return s, nil
	}
	if err := st.journal.SaveSession(ctx, s); err != nil {
		st.mu.Lock()
		if st.sessions[s.ID] == log {
			delete(st.sessions, s.ID)
		}
		telemetry.SetSessions(len(st.sessions))
		st.mu.Unlock()
		return Session{}, fmt.Errorf("journal session: %w", err)
	}
	return s, nil
}

// refresh applies the live state of s to an existing session. live is false when log
// was dropped from the store before its lock could be taken.
func (st *Store) refresh(ctx context.Context, log *sessionLog, s Session) (Session, bool, error) {
	log.mu.Lock()
	defer log.mu.Unlock()
	st.mu.RLock()
	live := st.sessions[s.ID] == log
	st.mu.RUnlock()
	if !live {
		return Session{}, false, nil
	}
	cur := log.session
	// the stream's live state may move on, its anchor never does
	if !s.Stream.StartTime.Equal(cur.Stream.StartTime) ||
		(cur.Stream.IsLive == s.Stream.IsLive && cur.Stream.EndTime.Equal(s.Stream.EndTime)) {
		return cur, true, nil
	}
	next := cur
	next.Stream.IsLive = s.Stream.IsLive
	next.Stream.EndTime = s.Stream.EndTime
	if st.journal != nil {
		if err := st.journal.SaveSession(ctx, next); err != nil {
			return cur, true, fmt.Errorf("journal session: %w", err)
		}
	}
	log.session = next
	return next, true, nil
}

// Create stores a new entry in session s. The depth comes from the raw text. An id
// that already exists anywhere in the store is skipped silently: created is false and
// the existing entry is returned.
func (st *Store) Create(ctx context.Context, s Session, ne NewEntry) (Entry, bool, error) {
	if ne.ID == "" {
		return Entry{}, false, apperr.Invalid("entry id required")
	}
	if _, text, _ := ParseMarkers(ne.RawText); text == "" {
		return Entry{}, false, apperr.Invalid("empty tag")
	}
	s, err := st.Open(ctx, s)
	if err != nil {
		return Entry{}, false, err
	}
	st.mu.RLock()
	log := st.sessions[s.ID]
	st.mu.RUnlock()
	if log == nil {
		return Entry{}, false, apperr.NotFound("session %s was pruned", s.ID)
	}

	e, dupIn, err := st.insert(ctx, log, ne)
	if dupIn != "" {
		existing, ok := st.Get(ne.ID)
		if !ok {
			// the other create failed to journal and gave the id back
			return st.Create(ctx, s, ne)
		}
		telemetry.IncTagsSkipped()
		return existing, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	telemetry.IncTagsCreated()
	return e, true, nil
}

// insert adds ne to log unless its id is already indexed, in which case it returns the
// id of the session holding it.
func (st *Store) insert(ctx context.Context, log *sessionLog, ne NewEntry) (Entry, string, error) {
	log.mu.Lock()
	defer log.mu.Unlock()

	st.mu.Lock()
	if st.sessions[log.session.ID] != log {
		st.mu.Unlock()
		return Entry{}, "", apperr.NotFound("session %s was pruned", log.session.ID)
	}
	if existing, dup := st.index[ne.ID]; dup {
		st.mu.Unlock()
		return Entry{}, existing, nil
	}
	// reserved so a concurrent create in another session skips this id
	st.index[ne.ID] = log.session.ID
	st.mu.Unlock()

	created := ne.CreatedAt
	if created.IsZero() {
		created = st.now()
	}
	e := &Entry{
		ID:        ne.ID,
		SessionID: log.session.ID,
		AuthorID:  ne.AuthorID,
		Depth:     DepthOf(ne.RawText),
		RawText:   ne.RawText,
		CreatedAt: created.UTC(),
	}
	if err := st.persist(ctx, *e); err != nil {
		st.mu.Lock()
		delete(st.index, ne.ID)
		st.mu.Unlock()
		return Entry{}, "", err
	}
	log.entries[e.ID] = e
	return *e, "", nil
}

// Edit replaces the raw text and recomputes depth. The new text must still be a tag:
// at least one marker followed by some text.
func (st *Store) Edit(ctx context.Context, id, newRaw string, editedAt time.Time) (Entry, error) {
	if _, text, ok := ParseMarkers(newRaw); !ok || text == "" {
		return Entry{}, apperr.Invalid("edit of %s is not a tag", id)
	}
	e, err := st.mutate(ctx, id, func(e *Entry) error {
		e.RawText = newRaw
		e.Depth = DepthOf(newRaw)
		if editedAt.IsZero() {
			editedAt = st.now()
		}
		e.EditedAt = editedAt.UTC()
		return nil
	})
	if err == nil {
		telemetry.IncTagsEdited()
	}
	return e, err
}

// Tombstone permanently hides an entry from compiles.
func (st *Store) Tombstone(ctx context.Context, id string) (Entry, error) {
	e, err := st.mutate(ctx, id, func(e *Entry) error {
		e.Tombstoned = true
		return nil
	})
	if err == nil {
		telemetry.IncTagsTombstoned()
	}
	return e, err
}

// SetStar adds (true) or withdraws (false) one star vote. Stars never go below zero.
func (st *Store) SetStar(ctx context.Context, id string, value bool) (Entry, error) {
	return st.mutate(ctx, id, func(e *Entry) error {
		if value {
			e.Stars++
		} else if e.Stars > 0 {
			e.Stars--
		}
		return nil
	})
}

// AdjustOffset adds delta seconds to the entry's own offset.
func (st *Store) AdjustOffset(ctx context.Context, id string, delta int) (Entry, error) {
	if delta > MaxAdjust || delta < -MaxAdjust {
		return Entry{}, apperr.InvalidOffset("offset %d out of range ±%d", delta, MaxAdjust)
	}
	return st.mutate(ctx, id, func(e *Entry) error {
		e.OffsetSeconds += delta
		return nil
	})
}

func (st *Store) mutate(ctx context.Context, id string, fn func(*Entry) error) (Entry, error) {
	st.mu.RLock()
	sid, ok := st.index[id]
	log := st.sessions[sid]
	st.mu.RUnlock()
	if !ok || log == nil {
		return Entry{}, apperr.NotFound("tag %s not found", id)
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	e, ok := log.entries[id]
	if !ok || e.Tombstoned {
		return Entry{}, apperr.NotFound("tag %s not found", id)
	}
	next := *e
	if err := fn(&next); err != nil {
		return Entry{}, err
	}
	if err := st.persist(ctx, next); err != nil {
		return Entry{}, err
	}
	*e = next
	return next, nil
}

func (st *Store) persist(ctx context.Context, e Entry) error {
	if st.journal == nil {
		return nil
	}
	if err := st.journal.SaveEntry(ctx, e); err != nil {
		return fmt.Errorf("journal entry %s: %w", e.ID, err)
	}
	return nil
}

// Get returns an entry by id, tombstoned or not.
func (st *Store) Get(id string) (Entry, bool) {
	st.mu.RLock()
	log := st.sessions[st.index[id]]
	st.mu.RUnlock()
	if log == nil {
		return Entry{}, false
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	e, ok := log.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// LatestByAuthor returns the author's most recent live entry in a community.
func (st *Store) LatestByAuthor(communityID, authorID string) (Entry, bool) {
	var best Entry
	found := false
	for _, snap := range st.Snapshot(st.sessionIDs(func(s Session) bool { return s.CommunityID == communityID })...) {
		for _, e := range snap.Entries {
			if e.Tombstoned || e.AuthorID != authorID {
				continue
			}
			if !found || e.CreatedAt.After(best.CreatedAt) || (e.CreatedAt.Equal(best.CreatedAt) && e.ID > best.ID) {
				best, found = e, true
			}
		}
	}
	return best, found
}

// Snapshot copies the given sessions, each under its own lock. Unknown ids are skipped.
func (st *Store) Snapshot(sessionIDs ...string) []SessionSnapshot {
	out := make([]SessionSnapshot, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		st.mu.RLock()
		log := st.sessions[id]
		st.mu.RUnlock()
		if log == nil {
			continue
		}
		log.mu.Lock()
		snap := SessionSnapshot{Session: log.session, Entries: make([]Entry, 0, len(log.entries))}
		for _, e := range log.entries {
			snap.Entries = append(snap.Entries, *e)
		}
		log.mu.Unlock()
		sort.Slice(snap.Entries, func(i, j int) bool { return entryLess(snap.Entries[i], snap.Entries[j]) })
		out = append(out, snap)
	}
	return out
}

// Session returns one session by id.
func (st *Store) Session(id string) (Session, bool) {
	st.mu.RLock()
	log := st.sessions[id]
	st.mu.RUnlock()
	if log == nil {
		return Session{}, false
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	return log.session, true
}

// Sessions lists a community's sessions for one stream key. An empty key lists all of
// the community's sessions.
func (st *Store) Sessions(communityID, streamKey string) []Session {
	return st.filterSessions(func(s Session) bool {
		return s.CommunityID == communityID && (streamKey == "" || s.Key() == streamKey)
	})
}

// LatestStream is the most recently started stream a community has tagged.
func (st *Store) LatestStream(communityID string) (platform.ResolvedStream, bool) {
	var best platform.ResolvedStream
	found := false
	for _, s := range st.Sessions(communityID, "") {
		if !found || s.Stream.StartTime.After(best.StartTime) {
			best, found = s.Stream, true
		}
	}
	return best, found
}

// Len reports the number of sessions and entries held.
func (st *Store) Len() (sessions, entries int) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions), len(st.index)
}

func (st *Store) sessionIDs(keep func(Session) bool) []string {
	ss := st.filterSessions(keep)
	ids := make([]string, len(ss))
	for i, s := range ss {
		ids[i] = s.ID
	}
	return ids
}

func (st *Store) filterSessions(keep func(Session) bool) []Session {
	st.mu.RLock()
	logs := make([]*sessionLog, 0, len(st.sessions))
	for _, l := range st.sessions {
		logs = append(logs, l)
	}
	st.mu.RUnlock()
	var out []Session
	for _, l := range logs {
		l.mu.Lock()
		s := l.session
		l.mu.Unlock()
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore loads previously journaled state without writing it back.
func (st *Store) Restore(sessions []Session, entries []Entry) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, s := range sessions {
		s = s.normalized()
		if _, ok := st.sessions[s.ID]; !ok {
			st.sessions[s.ID] = &sessionLog{session: s, entries: make(map[string]*Entry)}
		}
	}
	for _, e := range entries {
		log, ok := st.sessions[e.SessionID]
		if !ok {
			return fmt.Errorf("restore: entry %s references unknown session %s", e.ID, e.SessionID)
		}
		restored := e
		restored.Depth = DepthOf(e.RawText)
		log.entries[e.ID] = &restored
		st.index[e.ID] = e.SessionID
	}
	telemetry.SetSessions(len(st.sessions))
	slog.Info("tag store restored", slog.String("component", "tags"), slog.Int("sessions", len(sessions)), slog.Int("entries", len(entries)))
	return nil
}

// Prune drops sessions that hold no live entries and whose stream ended more than
// grace ago. It returns the number of sessions removed.
func (st *Store) Prune(ctx context.Context, now time.Time, grace time.Duration) (int, error) {
	st.mu.RLock()
	candidates := make([]*sessionLog, 0)
	for _, l := range st.sessions {
		candidates = append(candidates, l)
	}
	st.mu.RUnlock()

	removed := 0
	for _, l := range candidates {
		l.mu.Lock()
		st.mu.RLock()
		current := st.sessions[l.session.ID] == l
		st.mu.RUnlock()
		if !current {
			l.mu.Unlock()
			continue
		}
		live := false
		for _, e := range l.entries {
			if !e.Tombstoned {
				live = true
				break
			}
		}
		s := l.session
		// unknown end: fall back to when the session was opened
		end := s.Stream.EndTime
		if end.Before(s.CreatedAt) {
			end = s.CreatedAt
		}
		if live || now.Sub(end) <= grace {
			l.mu.Unlock()
			continue
		}
		if st.journal != nil {
			if err := st.journal.DeleteSession(ctx, s.ID); err != nil {
				l.mu.Unlock()
				return removed, fmt.Errorf("journal delete session %s: %w", s.ID, err)
			}
		}
		st.mu.Lock()
		delete(st.sessions, s.ID)
		for id := range l.entries {
			delete(st.index, id)
		}
		telemetry.SetSessions(len(st.sessions))
		st.mu.Unlock()
		l.mu.Unlock()
		removed++
	}
	return removed, nil
}

func entryLess(a, b Entry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return strings.Compare(a.ID, b.ID) < 0
}
