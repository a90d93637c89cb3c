package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catchup/internal/delivery"
	"catchup/internal/models"
)

type recordingNotifier struct {
	mu    sync.Mutex
	seen  []models.Notification
	fail  map[string]error
	delay time.Duration
}

func (r *recordingNotifier) Notify(ctx context.Context, n models.Notification) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n)
	return r.fail[n.StudentID]
}

func (r *recordingNotifier) topics(studentID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.seen {
		if n.StudentID == studentID {
			out = append(out, n.Topic)
		}
	}
	return out
}

type blockingNotifier struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (b *blockingNotifier) Notify(ctx context.Context, n models.Notification) error {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type panicNotifier struct{}

func (panicNotifier) Notify(context.Context, models.Notification) error { panic("boom") }

func waitState(t *testing.T, store delivery.Store, id string, want models.DeliveryState) models.DeliveryStatus {
	t.Helper()
	var got models.DeliveryStatus
	require.Eventually(t, func() bool {
		st, ok, err := store.Get(context.Background(), id)
		if err != nil || !ok {
			return false
		}
		got = st
		return st.State == want
	}, 2*time.Second, 5*time.Millisecond, "notification %s never reached %s", id, want)
	return got
}

func TestDispatcherDeliversAndRecordsStatus(t *testing.T) {
	store := delivery.NewMemoryStore(time.Minute)
	notifier := &recordingNotifier{}
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4}, notifier, store, nil)
	defer d.Close()

	id, err := d.Submit(context.Background(), models.Notification{StudentID: "7", Topic: "Volcanoes", Notes: "🌋"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	st := waitState(t, store, id, models.DeliveryDelivered)
	assert.Equal(t, "7", st.StudentID)
	assert.Equal(t, "Volcanoes", st.Topic)
	assert.Empty(t, st.Error)
	assert.Equal(t, []string{"Volcanoes"}, notifier.topics("7"))
}

func TestDispatcherRecordsFailure(t *testing.T) {
	store := delivery.NewMemoryStore(time.Minute)
	notifier := &recordingNotifier{fail: map[string]error{"9": errors.New("cannot DM")}}
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 4}, notifier, store, nil)
	defer d.Close()

	id, err := d.Submit(context.Background(), models.Notification{StudentID: "9", Topic: "Algebra"})
	require.NoError(t, err)
	st := waitState(t, store, id, models.DeliveryFailed)
	assert.Equal(t, "cannot DM", st.Error)
}

func TestDispatcherSurvivesNotifierPanic(t *testing.T) {
	store := delivery.NewMemoryStore(time.Minute)
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4}, panicNotifier{}, store, nil)
	defer d.Close()

	first, err := d.Submit(context.Background(), models.Notification{StudentID: "1", Topic: "a"})
	require.NoError(t, err)
	second, err := d.Submit(context.Background(), models.Notification{StudentID: "1", Topic: "b"})
	require.NoError(t, err)
	waitState(t, store, first, models.DeliveryFailed)
	waitState(t, store, second, models.DeliveryFailed)
}

func TestDispatcherKeepsPerStudentOrder(t *testing.T) {
	store := delivery.NewMemoryStore(time.Minute)
	notifier := &recordingNotifier{delay: 2 * time.Millisecond}
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 32}, notifier, store, nil)
	defer d.Close()

	topics := []string{"t1", "t2", "t3", "t4", "t5"}
	var last string
	for _, topic := range topics {
		for _, student := range []string{"a", "b"} {
			id, err := d.Submit(context.Background(), models.Notification{StudentID: student, Topic: topic})
			require.NoError(t, err)
			if student == "b" {
				last = id
			}
		}
	}
	waitState(t, store, last, models.DeliveryDelivered)
	require.Eventually(t, func() bool { return len(notifier.topics("a")) == len(topics) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, topics, notifier.topics("a"))
	assert.Equal(t, topics, notifier.topics("b"))
}

func TestDispatcherBusyWhenQueueFull(t *testing.T) {
	store := delivery.NewMemoryStore(time.Minute)
	notifier := &blockingNotifier{release: make(chan struct{}), started: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1, DeliveryTimeout: 5 * time.Second}, notifier, store, nil)
	defer d.Close()
	defer close(notifier.release)

	_, err := d.Submit(context.Background(), models.Notification{StudentID: "s", Topic: "first"})
	require.NoError(t, err)
	<-notifier.started

	var busyID string
	for i := 0; i < 100 && busyID == ""; i++ {
		id, err := d.Submit(context.Background(), models.Notification{StudentID: "s", Topic: "more"})
		if errors.Is(err, ErrDispatcherBusy) {
			busyID = id
		}
	}
	require.NotEmpty(t, busyID, "queue never reported busy")
	st, ok, err := store.Get(context.Background(), busyID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.DeliveryFailed, st.State)
}

func TestDispatcherClose(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, &recordingNotifier{}, nil, nil)
	d.Close()
	d.Close()

	_, err := d.Submit(context.Background(), models.Notification{StudentID: "x"})
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestSubmitHonoursCancelledContext(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, &recordingNotifier{}, nil, nil)
	defer d.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Submit(ctx, models.Notification{StudentID: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}
