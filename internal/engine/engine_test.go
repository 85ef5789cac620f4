package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tg2fibery/internal/fibery"
	"github.com/roach88/tg2fibery/internal/telegram"
)

type fakeSource struct {
	updates []telegram.Update
	err     error
	limits  []int
}

func (s *fakeSource) FetchUpdates(ctx context.Context, limit int) ([]telegram.Update, error) {
	s.limits = append(s.limits, limit)
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.updates) {
		return s.updates[:limit], nil
	}
	return s.updates, nil
}

// fakeWorkspace keeps entities in memory and logs every call as
// "<op> <arg>". fail maps "<op> <arg>" to the error that call returns.
type fakeWorkspace struct {
	byKey    map[string]string
	secrets  map[string]string
	content  map[string]string
	unlinked map[string]bool
	fail     map[string]error
	calls    []string
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{
		byKey:    make(map[string]string),
		secrets:  make(map[string]string),
		content:  make(map[string]string),
		unlinked: make(map[string]bool),
		fail:     make(map[string]error),
	}
}

func (w *fakeWorkspace) call(op, arg string) error {
	c := op + " " + arg
	w.calls = append(w.calls, c)
	return w.fail[c]
}

func (w *fakeWorkspace) FindEntityBySyncKey(ctx context.Context, key string) (string, bool, error) {
	if err := w.call("find", key); err != nil {
		return "", false, err
	}
	id, ok := w.byKey[key]
	return id, ok, nil
}

func (w *fakeWorkspace) CreateEntity(ctx context.Context, newID, key string) (string, error) {
	if err := w.call("create", key); err != nil {
		return "", err
	}
	w.byKey[key] = newID
	if !w.unlinked[key] {
		w.secrets[newID] = "secret-" + newID
	}
	return newID, nil
}

func (w *fakeWorkspace) ResolveDocumentSecret(ctx context.Context, entityID string) (string, error) {
	if err := w.call("resolve", entityID); err != nil {
		return "", err
	}
	secret, ok := w.secrets[entityID]
	if !ok {
		return "", &fibery.CommandError{Operation: fibery.OpResolveSecret, Status: 200, Err: fibery.ErrDocumentNotLinked}
	}
	return secret, nil
}

func (w *fakeWorkspace) PushContent(ctx context.Context, secret, text string) error {
	if err := w.call("push", secret); err != nil {
		return err
	}
	w.content[secret] = text
	return nil
}

// callsBetween returns the calls from the first occurrence of from up to,
// but excluding, the first occurrence of to.
func callsBetween(calls []string, from, to string) []string {
	start, end := -1, len(calls)
	for i, c := range calls {
		if c == from && start < 0 {
			start = i
		}
		if c == to && start >= 0 {
			end = i
			break
		}
	}
	if start < 0 {
		return nil
	}
	return calls[start:end]
}

var errBoom = &fibery.CommandError{Operation: fibery.OpCreateEntity, Status: 500, Message: "boom"}

func TestSyncKey(t *testing.T) {
	assert.Equal(t, "tg:145", SyncKey(telegram.Update{ID: 145}))
	assert.Equal(t, "tg:0", SyncKey(telegram.Update{}))
}

func TestSync_FreshUpdate(t *testing.T) {
	ws := newFakeWorkspace()
	e := New(nil, ws, NewFixedGenerator("e-1"))

	report := e.Sync(context.Background(), []telegram.Update{{ID: 145, Content: "autogenerated"}})

	assert.Equal(t, []string{"find tg:145", "create tg:145", "resolve e-1", "push secret-e-1"}, ws.calls)
	assert.Equal(t, "autogenerated", ws.content["secret-e-1"])
	assert.Equal(t, "e-1", ws.byKey["tg:145"])

	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, Outcome{
		UpdateID: 145,
		SyncKey:  "tg:145",
		State:    StatePushed,
		Reached:  StatePushed,
		EntityID: "e-1",
	}, report.Outcomes[0])
	assert.Equal(t, "synced=1 skipped=0 failed=0", report.Summary())
}

func TestSync_AlreadySynced(t *testing.T) {
	ws := newFakeWorkspace()
	ws.byKey["tg:145"] = "existing"
	ws.content["secret-existing"] = "original"
	gen := NewFixedGenerator()
	e := New(nil, ws, gen)

	report := e.Sync(context.Background(), []telegram.Update{{ID: 145, Content: "new text"}})

	assert.Equal(t, []string{"find tg:145"}, ws.calls)
	assert.Equal(t, "original", ws.content["secret-existing"])
	assert.Equal(t, StateSkipped, report.Outcomes[0].State)
	assert.Equal(t, "existing", report.Outcomes[0].EntityID)
	assert.Equal(t, 1, report.Skipped())
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	src := &fakeSource{updates: []telegram.Update{{ID: 145, Content: "autogenerated"}}}
	ws := newFakeWorkspace()
	e := New(src, ws, NewFixedGenerator("e-1"))

	first, err := e.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Synced())

	ws.calls = nil
	second, err := e.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Skipped())
	assert.Equal(t, []string{"find tg:145"}, ws.calls)
	assert.Len(t, ws.byKey, 1)
	assert.Equal(t, []int{1, 1}, src.limits)
}

func TestSync_PreservesOrder(t *testing.T) {
	ws := newFakeWorkspace()
	ws.byKey["tg:2"] = "existing"
	e := New(nil, ws, NewFixedGenerator("e-a", "e-b", "e-c"))

	updates := []telegram.Update{{ID: 5, Content: "five"}, {ID: 2, Content: "two"}, {ID: 9, Content: "nine"}, {ID: 1, Content: "one"}}
	report := e.Sync(context.Background(), updates)

	var creates []string
	for _, c := range ws.calls {
		if len(c) > 7 && c[:7] == "create " {
			creates = append(creates, c[7:])
		}
	}
	assert.Equal(t, []string{"tg:5", "tg:9", "tg:1"}, creates)

	var ids []int64
	for _, o := range report.Outcomes {
		ids = append(ids, o.UpdateID)
	}
	assert.Equal(t, []int64{5, 2, 9, 1}, ids)
	assert.Equal(t, "synced=3 skipped=1 failed=0", report.Summary())
}

func TestSync_PartialFailureIsolation(t *testing.T) {
	testCases := []struct {
		name      string
		failCall  string
		stage     Stage
		reached   State
		orphan    string
		wantCalls []string
	}{
		{
			name:      "lookup",
			failCall:  "find tg:2",
			stage:     StageLookup,
			reached:   StateFetched,
			wantCalls: []string{"find tg:2"},
		},
		{
			name:      "create",
			failCall:  "create tg:2",
			stage:     StageCreate,
			reached:   StateCreating,
			wantCalls: []string{"find tg:2", "create tg:2"},
		},
		{
			name:      "resolve",
			failCall:  "resolve e-2",
			stage:     StageResolveSecret,
			reached:   StateCreated,
			orphan:    "e-2",
			wantCalls: []string{"find tg:2", "create tg:2", "resolve e-2"},
		},
		{
			name:      "push",
			failCall:  "push secret-e-2",
			stage:     StagePush,
			reached:   StateSecretResolved,
			orphan:    "e-2",
			wantCalls: []string{"find tg:2", "create tg:2", "resolve e-2", "push secret-e-2"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ws := newFakeWorkspace()
			ws.fail[tc.failCall] = errBoom
			e := New(nil, ws, NewFixedGenerator("e-1", "e-2", "e-3"))

			report := e.Sync(context.Background(), []telegram.Update{
				{ID: 1, Content: "one"},
				{ID: 2, Content: "two"},
				{ID: 3, Content: "three"},
			})

			require.Len(t, report.Outcomes, 3)
			assert.Equal(t, StatePushed, report.Outcomes[0].State)
			assert.Equal(t, StatePushed, report.Outcomes[2].State)

			failed := report.Outcomes[1]
			assert.Equal(t, StateFailed, failed.State)
			assert.Equal(t, tc.reached, failed.Reached)
			assert.Equal(t, tc.orphan, failed.EntityID)
			require.NotNil(t, failed.Err)
			assert.Equal(t, tc.stage, failed.Err.Stage)
			assert.Equal(t, tc.orphan != "", IsOrphan(failed.Err))
			assert.ErrorIs(t, failed.Err, fibery.ErrCommandFailed)

			assert.Equal(t, tc.wantCalls, callsBetween(ws.calls, "find tg:2", "find tg:3"))

			last := report.Outcomes[2]
			assert.Equal(t, "three", ws.content["secret-"+last.EntityID])
			assert.Equal(t, "synced=2 skipped=0 failed=1", report.Summary())
		})
	}
}

func TestSync_DocumentNotLinked(t *testing.T) {
	ws := newFakeWorkspace()
	ws.unlinked["tg:7"] = true
	e := New(nil, ws, NewFixedGenerator("e-7"))

	report := e.Sync(context.Background(), []telegram.Update{{ID: 7, Content: "x"}})

	require.Len(t, report.Errors(), 1)
	err := report.Errors()[0]
	assert.ErrorIs(t, err, fibery.ErrDocumentNotLinked)
	assert.ErrorIs(t, err, fibery.ErrCommandFailed)
	stage, ok := StageOf(err)
	require.True(t, ok)
	assert.Equal(t, StageResolveSecret, stage)
	assert.Equal(t, "e-7", err.EntityID)
	assert.NotContains(t, ws.calls, "push secret-e-7")
}

func TestSync_EmptyContentIsPushed(t *testing.T) {
	ws := newFakeWorkspace()
	e := New(nil, ws, NewFixedGenerator("e-1"))

	report := e.Sync(context.Background(), []telegram.Update{{ID: 1, Content: ""}})
	assert.Equal(t, 1, report.Synced())
	content, ok := ws.content["secret-e-1"]
	assert.True(t, ok)
	assert.Empty(t, content)
}

func TestSync_NoUpdates(t *testing.T) {
	ws := newFakeWorkspace()
	report := New(nil, ws, NewFixedGenerator()).Sync(context.Background(), nil)
	assert.Empty(t, report.Outcomes)
	assert.Empty(t, ws.calls)
	assert.Equal(t, "synced=0 skipped=0 failed=0", report.Summary())
}

func TestRun_FetchFailureIsFatal(t *testing.T) {
	srcErr := &telegram.SourceError{Op: "getUpdates", Status: 502, Err: errors.New("bad gateway")}
	src := &fakeSource{err: srcErr}
	ws := newFakeWorkspace()
	e := New(src, ws, NewFixedGenerator())

	report, err := e.Run(context.Background(), 3)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, telegram.ErrSourceUnavailable)
	assert.Empty(t, ws.calls)
	assert.Equal(t, []int{3}, src.limits)
}

func TestRun_RequiresSource(t *testing.T) {
	_, err := New(nil, newFakeWorkspace(), NewFixedGenerator()).Run(context.Background(), 1)
	require.Error(t, err)
}

func TestSync_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ws := newFakeWorkspace()
	ws.fail["resolve e-1"] = fmt.Errorf("wrapped: %w", errBoom)
	e := New(nil, ws, NewFixedGenerator("e-1"), WithLogger(logger))

	e.Sync(context.Background(), []telegram.Update{{ID: 1, Content: "one"}})

	out := buf.String()
	assert.Contains(t, out, `msg="update failed"`)
	assert.Contains(t, out, "stage=RESOLVE_SECRET")
	assert.Contains(t, out, "orphan_entity_id=e-1")
	assert.Contains(t, out, `msg="sync finished" synced=0 skipped=0 failed=1`)
}

func TestUpdateError_Message(t *testing.T) {
	err := &UpdateError{UpdateID: 3, SyncKey: "tg:3", Stage: StagePush, EntityID: "e-3", Err: errors.New("x")}
	assert.Equal(t, "PUSH: update 3 (key=tg:3, entity=e-3): x", err.Error())

	err.EntityID = ""
	assert.Equal(t, "PUSH: update 3 (key=tg:3): x", err.Error())

	_, ok := StageOf(errors.New("plain"))
	assert.False(t, ok)
	assert.False(t, IsOrphan(errors.New("plain")))
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateSkipped, StatePushed, StateFailed} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StateFetched, StateChecked, StateCreating, StateCreated, StateSecretResolved} {
		assert.False(t, s.Terminal(), s)
	}
}
