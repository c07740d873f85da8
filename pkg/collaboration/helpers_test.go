package collaboration

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qamatch/collab/pkg/observability"
	"github.com/qamatch/collab/pkg/storage"
)

type sentEvent struct {
	documentID string
	to         string
	except     string
	origin     string
	direct     bool
	event      OutboundEvent
}

// recordingBroadcaster keeps every event it is asked to deliver
type recordingBroadcaster struct {
	mu      sync.Mutex
	events  []sentEvent
	panicOn string
}

func (r *recordingBroadcaster) Broadcast(ctx context.Context, documentID string, event OutboundEvent, exceptUserID string) {
	r.mu.Lock()
	panicOn := r.panicOn
	r.events = append(r.events, sentEvent{
		documentID: documentID,
		except:     exceptUserID,
		origin:     observability.GetConnectionID(ctx),
		event:      event,
	})
	r.mu.Unlock()
	if panicOn == event.Name {
		panic("broadcast failed")
	}
}

func (r *recordingBroadcaster) SendTo(ctx context.Context, documentID, userID string, event OutboundEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{
		documentID: documentID,
		to:         userID,
		origin:     observability.GetConnectionID(ctx),
		direct:     true,
		event:      event,
	})
}

func (r *recordingBroadcaster) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *recordingBroadcaster) named(name string) []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentEvent
	for _, e := range r.events {
		if e.event.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *recordingBroadcaster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestCoordinator(t *testing.T, storeConfig StoreConfig, contents storage.ContentStore) (*Coordinator, *recordingBroadcaster) {
	t.Helper()
	store, err := NewStore(storeConfig)
	require.NoError(t, err)

	b := &recordingBroadcaster{}
	c, err := NewCoordinator(CoordinatorConfig{
		Store:       store,
		Broadcaster: b,
		Contents:    contents,
	})
	require.NoError(t, err)
	return c, b
}

// newSeededCoordinator returns a coordinator whose document starts with
// content and has the given users joined
func newSeededCoordinator(t *testing.T, documentID, content string, users ...string) (*Coordinator, *recordingBroadcaster) {
	t.Helper()
	contents := storage.NewMemoryStore()
	require.NoError(t, contents.SaveContent(context.Background(), documentID, content, 0))

	c, b := newTestCoordinator(t, DefaultStoreConfig(), contents)
	for _, user := range users {
		_, err := c.Join(context.Background(), documentID, user, user)
		require.NoError(t, err)
	}
	return c, b
}

func sessionContent(t *testing.T, c *Coordinator, documentID string) (string, int64) {
	t.Helper()
	s, ok := c.store.Get(documentID)
	require.True(t, ok, "session %s should exist", documentID)
	return s.Content()
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }
