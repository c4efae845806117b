package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/aditya/resq/internal/analytics"
	"github.com/aditya/resq/internal/clock"
	"github.com/aditya/resq/internal/logger"
	"github.com/aditya/resq/internal/models"
	"github.com/aditya/resq/internal/repository"
	"github.com/aditya/resq/internal/service"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []Notification
}

func (s *recordingSink) Send(_ string, n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
}

func (s *recordingSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, n := range s.sent {
		out[i] = n.Message
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (n *recordingNotifier) Push(_ context.Context, token string, _ Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens = append(n.tokens, token)
	return n.err
}

func (n *recordingNotifier) pushed() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.tokens...)
}

type fixture struct {
	store     service.RequestStore
	sequencer service.StatusSequencer
	sink      *recordingSink
	system    *recordingNotifier
	presence  *PresenceRegistry
	bridge    *Bridge
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Discard()
	hub := service.NewHub(log)
	store := service.NewRequestStore(
		repository.NewMemoryRequestRepository(),
		repository.NewMemoryMechanicRepository(repository.DemoMechanics(time.Now())...),
		hub, clock.Real(), log,
	)
	f := &fixture{
		store:     store,
		sequencer: service.NewStatusSequencer(store, hub, analytics.NewNoopEmitter(), log),
		sink:      &recordingSink{},
		system:    &recordingNotifier{},
		presence:  NewPresenceRegistry(),
	}
	f.bridge = NewBridge(f.sequencer, f.sink, f.system, f.presence, log)
	t.Cleanup(f.bridge.Close)
	return f
}

func (f *fixture) create(t *testing.T) string {
	t.Helper()
	req, err := f.store.CreateRequest(context.Background(), models.CreateRequestInput{
		Location: "Main Street Garage",
		Phone:    "555-123-4567",
	})
	require.NoError(t, err)
	return req.ID
}

func (f *fixture) move(t *testing.T, id string, to models.RequestStatus) {
	t.Helper()
	var extra *models.TransitionExtra
	if to == models.RequestStatusMatched {
		mech := "mech-001"
		extra = &models.TransitionExtra{MechanicID: &mech}
	}
	_, err := f.sequencer.Transition(context.Background(), id, to, extra)
	require.NoError(t, err)
}

func TestBridge_AnnouncesTransitionsAfterBaseline(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)

	require.NoError(t, f.bridge.Watch(context.Background(), id))
	assert.True(t, f.bridge.Watching(id))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.sink.messages(), "initial snapshot is only a baseline")

	f.move(t, id, models.RequestStatusMatched)
	f.move(t, id, models.RequestStatusEnRoute)
	f.move(t, id, models.RequestStatusArrived)
	f.move(t, id, models.RequestStatusCompleted)

	want := []string{
		"A mechanic has been assigned to your request",
		"Your mechanic is on the way",
		"Your mechanic has arrived at your location",
		"Your service has been completed",
	}
	require.Eventually(t, func() bool { return len(f.sink.messages()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, f.sink.messages())
	assert.Eventually(t, func() bool { return !f.bridge.Watching(id) }, time.Second, 5*time.Millisecond)

	f.sink.mu.Lock()
	assert.Equal(t, notificationTitle, f.sink.sent[0].Title)
	assert.Equal(t, models.RequestStatusMatched, f.sink.sent[0].Status)
	f.sink.mu.Unlock()
}

func TestBridge_AnnouncesPreselectedMechanicOnSubmit(t *testing.T) {
	f := newFixture(t)
	flow := service.NewRequestSubmissionFlow(service.SubmissionDeps{
		Validator: service.NewInputValidator(service.DefaultSubmissionRules()),
		Store:     f.store,
		Sequencer: f.sequencer,
		Watcher:   f.bridge,
		Analytics: analytics.NewNoopEmitter(),
		Logger:    logger.Discard(),
	})

	res, err := flow.Submit(context.Background(), service.SubmissionInput{
		Location:   "Main Street Garage",
		Phone:      "555-123-4567",
		MechanicID: "mech-001",
	})
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusMatched, res.Request.Status)
	assert.True(t, f.bridge.Watching(res.Request.ID))

	require.Eventually(t, func() bool { return len(f.sink.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A mechanic has been assigned to your request"}, f.sink.messages())
}

func TestBridge_WatchIsIdempotent(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)

	require.NoError(t, f.bridge.Watch(context.Background(), id))
	require.NoError(t, f.bridge.Watch(context.Background(), id))
	f.move(t, id, models.RequestStatusCancelled)

	require.Eventually(t, func() bool { return len(f.sink.messages()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"Your request has been cancelled"}, f.sink.messages())
}

func TestBridge_WatchUnknownRequest(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.bridge.Watch(context.Background(), "missing"))
	assert.False(t, f.bridge.Watching("missing"))
}

func TestBridge_StopSilencesRequest(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)

	require.NoError(t, f.bridge.Watch(context.Background(), id))
	f.bridge.Stop(id)
	f.move(t, id, models.RequestStatusMatched)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.sink.messages())
}

func TestBridge_SystemNotificationNeedsBackgroundAndPermission(t *testing.T) {
	tests := []struct {
		name     string
		presence *Presence
		pushed   bool
	}{
		{name: "unknown presence counts as focused"},
		{name: "focused", presence: &Presence{Focused: true, NotificationsGranted: true, DeviceToken: "tok"}},
		{name: "not granted", presence: &Presence{NotificationsGranted: false, DeviceToken: "tok"}},
		{name: "no token", presence: &Presence{NotificationsGranted: true}},
		{name: "background and granted", presence: &Presence{NotificationsGranted: true, DeviceToken: "tok"}, pushed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.create(t)
			if tt.presence != nil {
				f.presence.Set(id, *tt.presence)
			}

			require.NoError(t, f.bridge.Watch(context.Background(), id))
			f.move(t, id, models.RequestStatusMatched)
			require.Eventually(t, func() bool { return len(f.sink.messages()) == 1 }, time.Second, 5*time.Millisecond)

			if tt.pushed {
				assert.Equal(t, []string{"tok"}, f.system.pushed())
			} else {
				assert.Empty(t, f.system.pushed())
			}
		})
	}
}

func TestBridge_PushFailureStillShowsInApp(t *testing.T) {
	f := newFixture(t)
	f.system.err = errors.New("fcm down")
	id := f.create(t)
	f.presence.Set(id, Presence{NotificationsGranted: true, DeviceToken: "tok"})

	require.NoError(t, f.bridge.Watch(context.Background(), id))
	f.move(t, id, models.RequestStatusMatched)
	f.move(t, id, models.RequestStatusEnRoute)

	require.Eventually(t, func() bool { return len(f.sink.messages()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, f.system.pushed(), 2)
}

func TestMessageFor(t *testing.T) {
	_, ok := MessageFor(models.RequestStatusPending)
	assert.False(t, ok)

	msg, ok := MessageFor(models.RequestStatusArrived)
	assert.True(t, ok)
	assert.Equal(t, "Your mechanic has arrived at your location", msg)
}

func TestPresenceRegistry(t *testing.T) {
	r := NewPresenceRegistry()
	assert.True(t, r.Get("req-1").Focused)

	r.Set("req-1", Presence{NotificationsGranted: true})
	assert.False(t, r.Get("req-1").Focused)

	r.Forget("req-1")
	assert.True(t, r.Get("req-1").Focused)
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster(logger.Discard())
	a := b.Register("req-1")
	other := b.Register("req-2")

	b.Send("req-1", Notification{RequestID: "req-1", Message: "hello"})

	select {
	case raw := <-a:
		var n Notification
		require.NoError(t, json.Unmarshal(raw, &n))
		assert.Equal(t, "hello", n.Message)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
	assert.Empty(t, other)

	b.Unregister("req-1", a)
	b.Unregister("req-1", a)
	_, open := <-a
	assert.False(t, open)

	for i := 0; i < 20; i++ {
		b.Send("req-2", Notification{Message: "flood"})
	}
	assert.Len(t, other, cap(other))
}
