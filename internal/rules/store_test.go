package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu    sync.Mutex
	lines []string
}

func (p *recordingPublisher) Publish(line string) {
	p.mu.Lock()
	p.lines = append(p.lines, line)
	p.mu.Unlock()
}

func (p *recordingPublisher) Lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lines...)
}

func newTestStore(t *testing.T, seed string, opts ...Option) (*Store, *MemoryStorage) {
	t.Helper()
	storage := NewMemoryStorage([]byte(seed))
	return NewStore(context.Background(), storage, logrus.New(), opts...), storage
}

func TestStore_UpsertGetRoundTrip(t *testing.T) {
	s, _ := newTestStore(t, "")
	ctx := context.Background()

	_, err := s.Upsert(ctx, 7, "d", 3)
	require.NoError(t, err)

	r, ok := s.Get(7)
	require.True(t, ok)
	assert.Equal(t, Rule{ID: 7, Description: "d", Action: NamespaceConfine}, r)
}

func TestStore_UpsertOverwrites(t *testing.T) {
	s, _ := newTestStore(t, "")
	ctx := context.Background()

	_, err := s.Upsert(ctx, 1, "first", DetectOnly)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, 1, "second", FullIsolate)
	require.NoError(t, err)

	assert.Equal(t, []Rule{{ID: 1, Description: "second", Action: FullIsolate}}, s.List())
}

func TestStore_UpsertValidation(t *testing.T) {
	s, storage := newTestStore(t, `{"5":{"description":"keep","action":1}}`)
	ctx := context.Background()

	cases := []struct {
		name        string
		id          int
		description string
		action      Action
		want        error
	}{
		{"action zero", 5, "x", 0, ErrInvalidAction},
		{"action five", 5, "x", 5, ErrInvalidAction},
		{"blank description", 5, "   ", FullIsolate, ErrInvalidDescription},
		{"non-positive id", 0, "x", FullIsolate, ErrInvalidID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Upsert(ctx, tc.id, tc.description, tc.action)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	r, ok := s.Get(5)
	require.True(t, ok)
	assert.Equal(t, "keep", r.Description, "failed upsert must leave the prior rule unchanged")
	assert.JSONEq(t, `{"5":{"description":"keep","action":1}}`, string(storage.Bytes()))
}

func TestStore_UpsertTrimsDescription(t *testing.T) {
	s, _ := newTestStore(t, "")
	r, err := s.Upsert(context.Background(), 3, "  ssh brute force \n", DetectAndLog)
	require.NoError(t, err)
	assert.Equal(t, "ssh brute force", r.Description)
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	s, storage := newTestStore(t, `{"9":{"description":"x","action":4}}`)
	ctx := context.Background()

	removed, err := s.Remove(ctx, 9)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Remove(ctx, 9)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = s.Remove(ctx, 12345)
	require.NoError(t, err)
	assert.False(t, removed)

	assert.JSONEq(t, `{}`, string(storage.Bytes()))
}

func TestStore_RemoveAbsentStillPersists(t *testing.T) {
	storage := NewMemoryStorage(nil)
	s := NewStore(context.Background(), storage, logrus.New())
	_, err := s.Remove(context.Background(), 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(storage.Bytes()))
}

func TestStore_HydratesFromDurableContent(t *testing.T) {
	s, _ := newTestStore(t, `{"1":{"description":"test","action":2}}`)
	assert.Equal(t, []Rule{{ID: 1, Description: "test", Action: DetectAndLog}}, s.List())
}

func TestStore_RestartPreservesMutations(t *testing.T) {
	storage := NewMemoryStorage(nil)
	ctx := context.Background()
	s := NewStore(ctx, storage, logrus.New())
	_, err := s.Upsert(ctx, 1, "test", DetectAndLog)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, 2, "gone", FullIsolate)
	require.NoError(t, err)
	_, err = s.Remove(ctx, 2)
	require.NoError(t, err)

	restarted := NewStore(ctx, NewMemoryStorage(storage.Bytes()), logrus.New())
	assert.Equal(t, []Rule{{ID: 1, Description: "test", Action: DetectAndLog}}, restarted.List())
}

func TestStore_CorruptContentDegradesToEmpty(t *testing.T) {
	s, _ := newTestStore(t, `{"1": {"description": "x", "act`)
	assert.Empty(t, s.List())
}

func TestStore_InvalidStoredEntriesDropped(t *testing.T) {
	s, _ := newTestStore(t, `{"1":{"description":"ok","action":4},"abc":{"description":"x","action":1},"2":{"description":"bad","action":9}}`)
	assert.Equal(t, []Rule{{ID: 1, Description: "ok", Action: FullIsolate}}, s.List())
}

func TestStore_MistypedEntryDoesNotEmptyTable(t *testing.T) {
	s, _ := newTestStore(t, `{"1":{"description":"scan","action":2},"2":{"description":"shell","action":"4"}}`)
	assert.Equal(t, []Rule{{ID: 1, Description: "scan", Action: DetectAndLog}}, s.List())
}

func TestStore_BlankStoredDescriptionDropped(t *testing.T) {
	s, _ := newTestStore(t, `{"5":{"description":"   ","action":2}}`)
	assert.Empty(t, s.List())
}

func TestStore_DroppedEntriesLoggedAndPublished(t *testing.T) {
	log, hook := test.NewNullLogger()
	pub := &recordingPublisher{}
	storage := NewMemoryStorage([]byte(`{"1":{"description":"ok","action":1},"2":{"description":"","action":1},"x":{"description":"y","action":1}}`))

	s := NewStore(context.Background(), storage, log, WithPublisher(pub))
	assert.Equal(t, 1, s.Len())

	var warned *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = e
		}
	}
	require.NotNil(t, warned, "dropped entries must be logged")
	assert.Equal(t, []string{"2", "x"}, warned.Data["skipped"])

	lines := pub.Lines()
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "dropped 2 invalid entries")
}

func TestStore_ReloadReportsDroppedEntries(t *testing.T) {
	pub := &recordingPublisher{}
	s, storage := newTestStore(t, `{"1":{"description":"a","action":1}}`, WithPublisher(pub))

	storage.mu.Lock()
	storage.data = []byte(`{"1":{"description":"a","action":1},"3":{"description":"b","action":"3"}}`)
	storage.mu.Unlock()

	require.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, 1, s.Len())
	assert.Contains(t, pub.Lines()[0], "dropped 1 invalid entries: 3")
}

func TestStore_PersistenceFailureKeepsMemoryState(t *testing.T) {
	pub := &recordingPublisher{}
	s, storage := newTestStore(t, "", WithPublisher(pub))
	storage.FailWith(errors.New("disk full"))

	r, err := s.Upsert(context.Background(), 11, "exfil", FullIsolate)
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "upsert", perr.Op)
	assert.Equal(t, 11, r.ID)

	got, ok := s.Get(11)
	require.True(t, ok, "in-memory state is retained after a failed write")
	assert.Equal(t, FullIsolate, got.Action)

	lines := pub.Lines()
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[len(lines)-1], "persist failed")
}

func TestStore_Update(t *testing.T) {
	s, _ := newTestStore(t, `{"4":{"description":"old","action":1}}`)
	ctx := context.Background()

	_, err := s.Update(ctx, 5, "new", FullIsolate)
	assert.ErrorIs(t, err, ErrRuleNotFound)

	r, err := s.Update(ctx, 4, "new", FullIsolate)
	require.NoError(t, err)
	assert.Equal(t, Rule{ID: 4, Description: "new", Action: FullIsolate}, r)
}

func TestStore_ConcurrentUpsertsDistinctIDs(t *testing.T) {
	s, storage := newTestStore(t, "")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 64; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := s.Upsert(ctx, id, fmt.Sprintf("rule-%d", id), Action(id%4+1))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	list := s.List()
	require.Len(t, list, 64)
	for i, r := range list {
		assert.Equal(t, i+1, r.ID)
		assert.Equal(t, Action((i+1)%4+1), r.Action)
	}

	restarted := NewStore(ctx, NewMemoryStorage(storage.Bytes()), logrus.New())
	assert.Equal(t, list, restarted.List(), "durable state holds every write")
}

func TestStore_ConcurrentUpsertsSameID(t *testing.T) {
	s, storage := newTestStore(t, "")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = s.Upsert(ctx, 1, fmt.Sprintf("writer-%d", n), FullIsolate)
		}(i)
	}
	wg.Wait()

	mem, ok := s.Get(1)
	require.True(t, ok)
	restarted := NewStore(ctx, NewMemoryStorage(storage.Bytes()), logrus.New())
	durable, ok := restarted.Get(1)
	require.True(t, ok)
	assert.Equal(t, mem, durable, "last persisted write matches memory")
}

func TestStore_ReloadKeepsTableOnCorruptStorage(t *testing.T) {
	storage := NewMemoryStorage([]byte(`{"1":{"description":"a","action":1}}`))
	s := NewStore(context.Background(), storage, logrus.New())

	storage.mu.Lock()
	storage.data = []byte("{not json")
	storage.mu.Unlock()

	err := s.Reload(context.Background())
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.Equal(t, 1, s.Len())
}

func TestStore_PublishesChanges(t *testing.T) {
	pub := &recordingPublisher{}
	s, _ := newTestStore(t, "", WithPublisher(pub))
	ctx := context.Background()

	_, err := s.Upsert(ctx, 42, "beacon", FullIsolate)
	require.NoError(t, err)
	_, err = s.Remove(ctx, 42)
	require.NoError(t, err)

	lines := pub.Lines()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "rule 42 set")
	assert.Contains(t, lines[0], "aislamiento-completo")
	assert.Contains(t, lines[1], "rule 42 removed")
}
