package collaboration

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/qamatch/collab/pkg/observability"
	"github.com/qamatch/collab/pkg/storage"
)

// DefaultHistoryQueryLimit is the number of entries EditHistory returns
// when no limit is given
const DefaultHistoryQueryLimit = 50

// CoordinatorConfig wires a Coordinator
type CoordinatorConfig struct {
	Store       *Store
	Locks       *LockManager
	Broadcaster Broadcaster
	// Contents is optional. When set, new sessions load their text from it
	// and SaveContent writes to it.
	Contents  storage.ContentStore
	Logger    observability.Logger
	Metrics   observability.MetricsClient
	StartSpan observability.StartSpanFunc
}

// Coordinator is the entry point for every collaboration operation. It
// serializes work per session and emits the resulting events through its
// Broadcaster while the session is still locked, so broadcast order equals
// commit order.
type Coordinator struct {
	store       *Store
	locks       *LockManager
	broadcaster Broadcaster
	contents    storage.ContentStore
	logger      observability.Logger
	metrics     observability.MetricsClient
	startSpan   observability.StartSpanFunc
	now         func() time.Time

	// userDocs maps a user to the document they joined. usersMu is taken
	// after a session mutex, never before.
	usersMu  sync.Mutex
	userDocs map[string]string
}

// NewCoordinator creates a coordinator
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Locks == nil {
		cfg.Locks = NewLockManager()
	}
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = NopBroadcaster{}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNoOpMetricsClient()
	}
	if cfg.StartSpan == nil {
		cfg.StartSpan = observability.NoopStartSpan
	}

	return &Coordinator{
		store:       cfg.Store,
		locks:       cfg.Locks,
		broadcaster: cfg.Broadcaster,
		contents:    cfg.Contents,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		startSpan:   cfg.StartSpan,
		now:         time.Now,
		userDocs:    make(map[string]string),
	}, nil
}

// ResolveIdentity fills in a generated user ID and a display name derived
// from it when the caller supplied none
func ResolveIdentity(userID, userName string) (string, string) {
	if userID == "" {
		userID = uuid.NewString()
	}
	if userName == "" {
		short := []rune(userID)
		if len(short) > 8 {
			short = short[:8]
		}
		userName = "User_" + string(short)
	}
	return userID, userName
}

func (c *Coordinator) log(ctx context.Context) observability.Logger {
	return observability.LoggerFromContext(ctx, c.logger)
}

// Join registers userID in the session of documentID, creating the session
// if needed, and returns the state the joiner starts from. Other
// participants receive user_joined; the joiner receives session_state.
// A user bound to another document leaves it.
func (c *Coordinator) Join(ctx context.Context, documentID, userID, userName string) (*SessionState, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, &MalformedEventError{Event: EventJoinEditSession, Reason: "content_id is required"}
	}
	userID, userName = ResolveIdentity(userID, userName)

	for {
		s, err := c.sessionForJoin(ctx, documentID)
		if err != nil {
			return nil, err
		}

		state, previous, ok := c.joinSession(ctx, s, userID, userName)
		if !ok {
			// The session was destroyed between lookup and lock
			continue
		}

		if previous != "" && previous != documentID {
			c.leaveDocument(ctx, userID, previous)
		}

		c.metrics.IncrementCounter("joins_total", 1)
		c.log(ctx).Info("User joined edit session", map[string]interface{}{
			"document_id": documentID,
			"user_id":     userID,
			"version":     state.Version,
			"users":       len(state.ActiveUsers),
		})
		return state, nil
	}
}

func (c *Coordinator) sessionForJoin(ctx context.Context, documentID string) (*Session, error) {
	if s, ok := c.store.Get(documentID); ok {
		return s, nil
	}

	seed, savedVersion, err := c.loadContent(ctx, documentID)
	if err != nil {
		return nil, err
	}

	s, created := c.store.CreateFromSaved(documentID, seed, savedVersion)
	if created {
		c.metrics.IncrementCounter("sessions_created_total", 1)
		c.metrics.RecordGauge("sessions_active", float64(c.store.Count()), nil)
		c.log(ctx).Debug("Created edit session", map[string]interface{}{
			"document_id":    documentID,
			"content_length": len([]rune(seed)),
			"saved_version":  savedVersion,
		})
	}
	return s, nil
}

// loadContent returns the stored text of documentID and its stored version.
// A document with nothing stored starts empty.
func (c *Coordinator) loadContent(ctx context.Context, documentID string) (string, int64, error) {
	if c.contents == nil {
		return "", 0, nil
	}

	ctx, span := c.startSpan(ctx, "Coordinator.LoadContent")
	defer span.End()
	span.SetAttribute("document_id", documentID)

	content, version, err := c.contents.LoadContent(ctx, documentID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", 0, nil
	}
	if err != nil {
		span.RecordError(err)
		return "", 0, errors.Wrapf(err, "failed to load content for document %s", documentID)
	}
	return content, version, nil
}

// joinSession adds the participant and emits the join events. ok is false
// when s was closed before it could be locked. previous is the document
// the user was bound to before.
func (c *Coordinator) joinSession(ctx context.Context, s *Session, userID, userName string) (state *SessionState, previous string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, "", false
	}

	s.participants[userID] = &Participant{
		UserID:   userID,
		Name:     userName,
		IsActive: true,
		JoinedAt: c.now(),
	}
	previous = c.bindUser(userID, s.documentID)

	state = &SessionState{
		ContentID:   s.documentID,
		UserID:      userID,
		UserName:    userName,
		Content:     s.content,
		Version:     s.version,
		ActiveUsers: participantViews(s.participantList()),
		Locks:       s.lockList(),
	}

	c.broadcaster.Broadcast(ctx, s.documentID, OutboundEvent{
		Name: EventUserJoined,
		Data: UserJoinedPayload{
			UserID:      userID,
			UserName:    userName,
			ActiveUsers: s.activeUserIDs(),
		},
	}, userID)
	c.broadcaster.SendTo(ctx, s.documentID, userID, OutboundEvent{Name: EventSessionState, Data: *state})

	return state, previous, true
}

func participantViews(list []Participant) []ParticipantView {
	views := make([]ParticipantView, len(list))
	for i, p := range list {
		views[i] = ParticipantView{
			UserID:         p.UserID,
			UserName:       p.Name,
			CursorPosition: p.CursorPosition,
			Selection:      p.Selection,
		}
	}
	return views
}

// Leave removes userID from the document they joined. The session is
// destroyed when its last participant leaves. Leaving without having
// joined is a no-op.
func (c *Coordinator) Leave(ctx context.Context, userID string) error {
	documentID, ok := c.documentOf(userID)
	if !ok {
		return nil
	}
	c.leaveDocument(ctx, userID, documentID)
	return nil
}

// LeaveDocument is Leave limited to documentID. It does nothing when userID
// has since joined another document.
func (c *Coordinator) LeaveDocument(ctx context.Context, userID, documentID string) error {
	current, ok := c.documentOf(userID)
	if !ok || current != documentID {
		return nil
	}
	c.leaveDocument(ctx, userID, documentID)
	return nil
}

func (c *Coordinator) leaveDocument(ctx context.Context, userID, documentID string) {
	s, ok := c.store.Get(documentID)
	if !ok {
		c.unbindUser(userID, documentID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		c.unbindUser(userID, documentID)
		return
	}

	p, ok := s.participants[userID]
	if !ok {
		return
	}
	delete(s.participants, userID)
	c.unbindUser(userID, documentID)

	c.broadcaster.Broadcast(ctx, documentID, OutboundEvent{
		Name: EventUserLeft,
		Data: UserLeftPayload{
			UserID:      userID,
			UserName:    p.Name,
			ActiveUsers: s.activeUserIDs(),
		},
	}, userID)

	c.metrics.IncrementCounter("leaves_total", 1)
	c.log(ctx).Info("User left edit session", map[string]interface{}{
		"document_id": documentID,
		"user_id":     userID,
		"remaining":   len(s.participants),
	})

	if len(s.participants) == 0 {
		c.broadcaster.Broadcast(ctx, documentID, OutboundEvent{
			Name: EventSessionClosed,
			Data: SessionClosedPayload{ContentID: documentID, Reason: CloseReasonEmpty, Version: s.version},
		}, userID)
		c.store.destroyLocked(s)
		c.metrics.RecordGauge("sessions_active", float64(c.store.Count()), nil)
		c.log(ctx).Info("Destroyed empty edit session", map[string]interface{}{
			"document_id": documentID,
			"version":     s.version,
		})
	}
}

// SubmitEdit rebases edit against the history committed after its base
// version, applies it and broadcasts content_updated to the other
// participants. A rejected edit leaves the session untouched.
func (c *Coordinator) SubmitEdit(ctx context.Context, userID, documentID string, edit Edit) (*HistoryEntry, error) {
	if err := edit.Validate(); err != nil {
		c.rejectEdit("malformed")
		return nil, &MalformedEventError{Event: EventContentEdit, Reason: err.Error()}
	}

	s, ok := c.store.Get(documentID)
	if !ok {
		c.rejectEdit("session_not_found")
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		c.rejectEdit("session_not_found")
		return nil, ErrSessionNotFound
	}
	if _, ok := s.participants[userID]; !ok {
		c.rejectEdit("not_participant")
		return nil, ErrNotParticipant
	}

	entry, err := s.applyEdit(userID, edit, c.now())
	if err != nil {
		var stale *StaleBaseVersionError
		if errors.As(err, &stale) {
			c.rejectEdit("stale_base_version")
		} else {
			c.rejectEdit("out_of_range")
		}
		c.log(ctx).Warn("Rejected edit", map[string]interface{}{
			"document_id": documentID,
			"user_id":     userID,
			"error":       err.Error(),
		})
		return nil, err
	}

	c.broadcaster.Broadcast(ctx, documentID, OutboundEvent{
		Name: EventContentUpdated,
		Data: ContentUpdatedPayload{
			ContentID: documentID,
			Edit:      entry.Edit,
			Version:   entry.Version,
			UserID:    userID,
			Content:   s.content,
		},
	}, userID)

	c.metrics.IncrementCounterWithLabels("edits_applied_total", 1, map[string]string{"type": string(edit.Type)})
	c.log(ctx).Debug("Applied edit", map[string]interface{}{
		"document_id": documentID,
		"user_id":     userID,
		"version":     entry.Version,
		"rebased":     entry.Edit.Position != edit.Position || entry.Edit.Length != edit.Length,
	})
	return &entry, nil
}

func (c *Coordinator) rejectEdit(reason string) {
	c.metrics.IncrementCounterWithLabels("edits_rejected_total", 1, map[string]string{"reason": reason})
}

// UpdateCursor records a participant's cursor and broadcasts cursor_moved.
// Updates for users outside the session are dropped without error.
func (c *Coordinator) UpdateCursor(ctx context.Context, userID, documentID string, position int, selection Selection) error {
	if position < 0 || selection.Start < 0 || selection.End < 0 {
		return &MalformedEventError{Event: EventCursorUpdate, Reason: "cursor offsets must not be negative"}
	}

	s, ok := c.store.Get(documentID)
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	p, ok := s.participants[userID]
	if !ok {
		return nil
	}

	p.CursorPosition = position
	p.Selection = selection

	c.broadcaster.Broadcast(ctx, documentID, OutboundEvent{
		Name: EventCursorMoved,
		Data: CursorMovedPayload{
			UserID:         userID,
			UserName:       p.Name,
			CursorPosition: position,
			Selection:      selection,
		},
	}, userID)
	return nil
}

// AcquireLock locks [start, end] for userID. On success section_locked
// goes to every participant; on conflict lock_failed goes to the requester
// only.
func (c *Coordinator) AcquireLock(ctx context.Context, userID, documentID string, start, end int) (*Lock, error) {
	s, err := c.participantSession(documentID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionNotFound
	}
	if _, ok := s.participants[userID]; !ok {
		return nil, ErrNotParticipant
	}

	lock, err := c.locks.acquireLocked(s, userID, start, end)
	if err != nil {
		var conflict *LockConflictError
		if errors.As(err, &conflict) {
			c.metrics.IncrementCounterWithLabels("locks_total", 1, map[string]string{"outcome": "conflict"})
			c.broadcaster.SendTo(ctx, documentID, userID, OutboundEvent{
				Name: EventLockFailed,
				Data: LockFailedPayload{
					Message: "Section already locked",
					HeldBy:  conflict.HeldBy,
					Start:   start,
					End:     end,
				},
			})
		}
		return nil, err
	}

	c.broadcaster.Broadcast(ctx, documentID, OutboundEvent{
		Name: EventSectionLocked,
		Data: SectionLockedPayload{
			LockID: lock.ID,
			UserID: userID,
			Start:  lock.Start,
			End:    lock.End,
		},
	}, "")

	c.metrics.IncrementCounterWithLabels("locks_total", 1, map[string]string{"outcome": "acquired"})
	c.log(ctx).Debug("Section locked", map[string]interface{}{
		"document_id": documentID,
		"user_id":     userID,
		"lock_id":     lock.ID,
		"start":       start,
		"end":         end,
	})
	return lock, nil
}

// ReleaseLock releases lockID if userID owns it and broadcasts
// section_unlocked to every participant
func (c *Coordinator) ReleaseLock(ctx context.Context, userID, documentID, lockID string) (*Lock, error) {
	s, err := c.participantSession(documentID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionNotFound
	}
	if _, ok := s.participants[userID]; !ok {
		return nil, ErrNotParticipant
	}

	lock, err := c.locks.releaseLocked(s, userID, lockID)
	if err != nil {
		return nil, err
	}

	c.broadcaster.Broadcast(ctx, documentID, OutboundEvent{
		Name: EventSectionUnlocked,
		Data: SectionUnlockedPayload{
			LockID: lock.ID,
			UserID: userID,
		},
	}, "")

	c.metrics.IncrementCounterWithLabels("locks_total", 1, map[string]string{"outcome": "released"})
	return lock, nil
}

func (c *Coordinator) participantSession(documentID string) (*Session, error) {
	s, ok := c.store.Get(documentID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// ExpireIdleSessions destroys every session created more than maxAge ago,
// whether or not it still has participants, and returns how many it
// destroyed. Age is measured from creation, not from the last activity.
func (c *Coordinator) ExpireIdleSessions(ctx context.Context, maxAge time.Duration) int {
	cutoff := c.now().Add(-maxAge)
	expired := 0

	for _, s := range c.store.List() {
		if c.expireSession(ctx, s, cutoff) {
			expired++
			c.log(ctx).Info("Expired edit session", map[string]interface{}{
				"document_id": s.documentID,
				"created_at":  s.createdAt.Format(time.RFC3339),
			})
		}
	}

	if expired > 0 {
		c.metrics.IncrementCounter("sessions_expired_total", float64(expired))
		c.metrics.RecordGauge("sessions_active", float64(c.store.Count()), nil)
	}
	return expired
}

// expireSession destroys s if it was created before cutoff. Subscribers
// get session_closed so they stop following the document.
func (c *Coordinator) expireSession(ctx context.Context, s *Session, cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.createdAt.Before(cutoff) {
		return false
	}
	for userID := range s.participants {
		c.unbindUser(userID, s.documentID)
	}
	c.broadcaster.Broadcast(ctx, s.documentID, OutboundEvent{
		Name: EventSessionClosed,
		Data: SessionClosedPayload{ContentID: s.documentID, Reason: CloseReasonExpired, Version: s.version},
	}, "")
	return c.store.destroyLocked(s)
}

// SaveContent returns the current text of documentID and writes it to the
// content store when one is configured. Saves of one session reach the
// store in snapshot order, so a slow save never overwrites a newer one.
func (c *Coordinator) SaveContent(ctx context.Context, documentID string) (string, error) {
	s, ok := c.store.Get(documentID)
	if !ok {
		return "", ErrSessionNotFound
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	content, version := s.content, s.savedVersion+s.version
	s.mu.Unlock()
	if closed {
		return "", ErrSessionNotFound
	}

	if c.contents == nil {
		return content, nil
	}

	ctx, span := c.startSpan(ctx, "Coordinator.SaveContent")
	defer span.End()
	span.SetAttribute("document_id", documentID)
	span.SetAttribute("version", version)

	if err := c.contents.SaveContent(ctx, documentID, content, version); err != nil {
		span.RecordError(err)
		c.log(ctx).Error("Failed to save content", map[string]interface{}{
			"document_id": documentID,
			"version":     version,
			"error":       err.Error(),
		})
		return "", errors.Wrapf(err, "failed to save document %s", documentID)
	}

	c.metrics.IncrementCounter("saves_total", 1)
	return content, nil
}

// SessionInfo describes the live session of documentID
func (c *Coordinator) SessionInfo(documentID string) (*SessionInfo, error) {
	s, ok := c.store.Get(documentID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionNotFound
	}
	return s.info(), nil
}

// EditHistory returns up to limit of the most recent history entries of
// documentID, oldest first. Destroyed sessions answer from their retired
// tail; a document without either has an empty history.
func (c *Coordinator) EditHistory(documentID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryQueryLimit
	}

	if s, ok := c.store.Get(documentID); ok {
		s.mu.Lock()
		if !s.closed {
			tail := s.historyTail(limit)
			s.mu.Unlock()
			if tail == nil {
				tail = []HistoryEntry{}
			}
			return tail, nil
		}
		s.mu.Unlock()
	}

	retired, ok := c.store.RetiredHistory(documentID)
	if !ok {
		return []HistoryEntry{}, nil
	}
	if len(retired) > limit {
		retired = retired[len(retired)-limit:]
	}
	return retired, nil
}

// ActiveSessionsCount returns the number of live sessions
func (c *Coordinator) ActiveSessionsCount() int {
	return c.store.Count()
}

// TotalActiveUsers returns the number of participants across all sessions
func (c *Coordinator) TotalActiveUsers() int {
	total := 0
	for _, s := range c.store.List() {
		s.mu.Lock()
		if !s.closed {
			total += len(s.participants)
		}
		s.mu.Unlock()
	}
	return total
}

// HandleEvent runs one decoded inbound event on behalf of userID, the
// identity the caller's connection is bound to ("" before its first join).
// It returns the identity the connection is bound to afterwards. A panic
// while handling the event is logged and reported as ErrInternal; the
// session stays usable.
func (c *Coordinator) HandleEvent(ctx context.Context, userID string, ev InboundEvent) (resolved string, err error) {
	if ev == nil {
		return userID, &MalformedEventError{Reason: "missing event"}
	}

	name := ev.EventName()
	ctx = observability.WithEvent(ctx, name)
	if userID != "" {
		ctx = observability.WithUserID(ctx, userID)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.log(ctx).Error("Recovered from panic while handling event", map[string]interface{}{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
			c.metrics.IncrementCounterWithLabels("event_panics_total", 1, map[string]string{"event": name})
			resolved, err = userID, ErrInternal
		}
		c.metrics.RecordDuration("event_duration_seconds", time.Since(start), map[string]string{"event": name})
	}()

	if err := validateEvent(ev); err != nil {
		return userID, err
	}

	if claimed := ev.claimedUserID(); claimed != "" && userID != "" && claimed != userID {
		return userID, &MalformedEventError{Event: name, Reason: "user_id does not match the joined identity"}
	}

	if join, ok := ev.(*JoinEvent); ok {
		id := join.UserID
		if id == "" {
			id = userID
		}
		state, err := c.Join(ctx, join.ContentID, id, join.UserName)
		if err != nil {
			return userID, err
		}
		return state.UserID, nil
	}

	if userID == "" {
		if _, ok := ev.(*LeaveEvent); ok {
			return "", nil
		}
		return "", ErrNotParticipant
	}

	switch e := ev.(type) {
	case *LeaveEvent:
		return userID, c.Leave(ctx, userID)
	case *ContentEditEvent:
		_, err := c.SubmitEdit(ctx, userID, e.ContentID, e.Edit.Edit())
		return userID, err
	case *CursorUpdateEvent:
		var selection Selection
		if e.Selection != nil {
			selection = *e.Selection
		}
		return userID, c.UpdateCursor(ctx, userID, e.ContentID, *e.CursorPosition, selection)
	case *LockSectionEvent:
		_, err := c.AcquireLock(ctx, userID, e.ContentID, *e.Start, *e.End)
		return userID, err
	case *UnlockSectionEvent:
		_, err := c.ReleaseLock(ctx, userID, e.ContentID, e.LockID)
		return userID, err
	default:
		return userID, &MalformedEventError{Event: name, Reason: "unsupported event"}
	}
}

func (c *Coordinator) documentOf(userID string) (string, bool) {
	c.usersMu.Lock()
	defer c.usersMu.Unlock()
	documentID, ok := c.userDocs[userID]
	return documentID, ok
}

// bindUser records documentID as userID's document and returns the previous one
func (c *Coordinator) bindUser(userID, documentID string) string {
	c.usersMu.Lock()
	defer c.usersMu.Unlock()
	previous := c.userDocs[userID]
	c.userDocs[userID] = documentID
	return previous
}

// unbindUser forgets userID's document if it is still documentID
func (c *Coordinator) unbindUser(userID, documentID string) {
	c.usersMu.Lock()
	defer c.usersMu.Unlock()
	if c.userDocs[userID] == documentID {
		delete(c.userDocs, userID)
	}
}
