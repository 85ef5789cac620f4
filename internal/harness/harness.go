package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/roach88/tg2fibery/internal/engine"
	"github.com/roach88/tg2fibery/internal/fibery"
	"github.com/roach88/tg2fibery/internal/fiberytest"
	"github.com/roach88/tg2fibery/internal/telegram"
	"github.com/roach88/tg2fibery/internal/telegramtest"
	"github.com/roach88/tg2fibery/internal/testutil"
)

// Tokens the fakes accept. They appear in recorded paths and headers only.
const (
	BotToken       = "harness-bot-token"
	WorkspaceToken = "harness-workspace-token"
)

// Run executes a scenario and returns the result.
//
// Each scenario gets fresh fakes and a fresh entity id sequence, so the same
// scenario always produces the same trace.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	rec := testutil.NewRecorder()

	tg := telegramtest.NewServer(telegramtest.Options{Token: BotToken, Recorder: rec})
	defer tg.Close()
	for i, env := range scenario.Updates {
		raw, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("updates[%d]: %w", i, err)
		}
		tg.AddEnvelope(raw)
	}
	if scenario.SourceStatus != 0 {
		tg.Fail(scenario.SourceStatus, fmt.Sprintf(`{"ok":false,"error_code":%d,"description":%q}`,
			scenario.SourceStatus, http.StatusText(scenario.SourceStatus)))
	}

	schema := scenario.Schema.schema()
	fb, err := fiberytest.NewServer(fiberytest.Options{Token: WorkspaceToken, Recorder: rec, Schema: schema})
	if err != nil {
		return nil, fmt.Errorf("failed to start workspace fake: %w", err)
	}
	defer fb.Close()
	for i, e := range scenario.Existing {
		if err := fb.Seed(ctx, e.ID, e.SyncKey, e.Content); err != nil {
			return nil, fmt.Errorf("existing[%d]: %w", i, err)
		}
	}
	fb.UnlinkDocuments(scenario.Unlinked...)
	for _, f := range scenario.Faults {
		fb.AddFault(fiberytest.Fault{
			Operation: fibery.Operation(f.Operation),
			SyncKey:   f.SyncKey,
			Status:    f.Status,
			Message:   f.Message,
		})
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	source := telegram.NewClient(telegram.ClientOptions{BaseURL: tg.URL(), Token: BotToken, Logger: logger})
	workspace := fibery.NewClient(fibery.ClientOptions{BaseURL: fb.URL(), Token: WorkspaceToken, Schema: schema, Logger: logger})
	eng := engine.New(source, workspace, testutil.NewSequenceGenerator(testutil.EntityIDPrefix), engine.WithLogger(logger))

	result := NewResult()
	result.Schema = workspace.Schema()
	for n := 1; n <= scenario.runs(); n++ {
		mark := rec.Seq()
		report, err := eng.Run(ctx, scenario.limit())
		result.Runs = append(result.Runs, RunResult{Run: n, Report: report, Err: err})

		for _, req := range rec.Since(mark) {
			event, err := traceEvent(n, req)
			if err != nil {
				return nil, fmt.Errorf("run %d: %w", n, err)
			}
			result.Trace = append(result.Trace, event)
		}
	}

	result.Entities, err = fb.Entities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace: %w", err)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// traceEvent converts a recorded request, naming the client operation it
// belongs to.
func traceEvent(run int, req testutil.RecordedRequest) (TraceEvent, error) {
	event := TraceEvent{
		Seq:     req.Seq,
		Run:     run,
		Service: req.Service,
		Method:  req.Method,
		Path:    req.Path,
		Query:   req.Query,
	}
	if len(bytes.TrimSpace(req.Body)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(req.Body))
		dec.UseNumber()
		if err := dec.Decode(&event.Body); err != nil {
			return TraceEvent{}, fmt.Errorf("decode body of request %d: %w", req.Seq, err)
		}
	}
	event.Operation = operationOf(event)
	return event, nil
}

func operationOf(e TraceEvent) string {
	switch {
	case e.Service == telegramtest.Service:
		return OpFetchUpdates
	case e.Method == http.MethodPut:
		return string(fibery.OpPushContent)
	}

	cmd := firstCommand(e.Body)
	switch cmd["command"] {
	case fibery.CommandCreate:
		return string(fibery.OpCreateEntity)
	case fibery.CommandQuery:
		args, _ := cmd["args"].(map[string]any)
		query, _ := args["query"].(map[string]any)
		fields, _ := query["q/select"].([]any)
		for _, f := range fields {
			if _, nested := f.(map[string]any); nested {
				return string(fibery.OpResolveSecret)
			}
		}
		return string(fibery.OpFindBySyncKey)
	}
	return "unknown"
}

func firstCommand(body any) map[string]any {
	batch, _ := body.([]any)
	if len(batch) == 0 {
		return nil
	}
	cmd, _ := batch[0].(map[string]any)
	return cmd
}

// createdSyncKey returns the sync key a create_entity event carries in field.
func createdSyncKey(e TraceEvent, field string) string {
	args, _ := firstCommand(e.Body)["args"].(map[string]any)
	entity, _ := args["entity"].(map[string]any)
	key, _ := entity[field].(string)
	return key
}
