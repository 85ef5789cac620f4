// Package fiberytest provides an in-process fake Fibery workspace.
//
// The fake implements the two endpoints the sync job uses:
//
//	POST /api/commands              fibery.entity/create, fibery.entity/query
//	PUT  /api/documents/{secret}    ?format=md, body {"content": ...}
//
// Entities and documents live in an in-memory SQLite database. Entity
// queries are parsed back into fibery.Query values and compiled to SQL, so
// a query the real client builds either runs here or fails loudly.
package fiberytest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/roach88/tg2fibery/internal/fibery"
	"github.com/roach88/tg2fibery/internal/testutil"
)

// Service is the name requests are recorded under.
const Service = "fibery"

// IDGenerator produces document ids and secrets.
type IDGenerator interface {
	Generate() string
}

// Options configures a Server.
type Options struct {
	// Token is the API token the server accepts.
	Token string

	// Schema names the entity type and fields. Blank fields take defaults.
	Schema fibery.Schema

	// Recorder, if set, records every request.
	Recorder *testutil.Recorder

	// DocumentIDs and Secrets default to testutil sequence generators.
	DocumentIDs IDGenerator
	Secrets     IDGenerator
}

// Fault makes matching requests fail.
//
// Operation selects the client operation. SyncKey, if set, restricts the
// fault to requests about that key. Status is the HTTP status to answer
// with (default 500); for command operations, http.StatusOK answers with
// {"success": false} instead.
type Fault struct {
	Operation fibery.Operation
	SyncKey   string
	Status    int
	Message   string
}

// Server is a fake workspace. Safe for concurrent use.
type Server struct {
	mu       sync.Mutex
	token    string
	schema   fibery.Schema
	docIDs   IDGenerator
	secrets  IDGenerator
	store    *store
	compiler compiler
	faults   []Fault
	unlinked map[string]bool
	srv      *httptest.Server
}

// NewServer starts a fake workspace.
func NewServer(opts Options) (*Server, error) {
	st, err := openStore()
	if err != nil {
		return nil, err
	}
	schema := opts.Schema.WithDefaults()
	s := &Server{
		token:    opts.Token,
		schema:   schema,
		docIDs:   opts.DocumentIDs,
		secrets:  opts.Secrets,
		store:    st,
		compiler: compiler{schema: schema},
		unlinked: make(map[string]bool),
	}
	if s.docIDs == nil {
		s.docIDs = testutil.NewSequenceGenerator(testutil.DocumentIDPrefix)
	}
	if s.secrets == nil {
		s.secrets = testutil.NewSequenceGenerator(testutil.SecretPrefix)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/commands", s.handleCommands)
	mux.HandleFunc("PUT /api/documents/{secret}", s.handleDocument)

	var handler http.Handler = s.authenticate(mux)
	if opts.Recorder != nil {
		handler = opts.Recorder.Wrap(Service, handler)
	}
	s.srv = httptest.NewServer(handler)
	return s, nil
}

// URL returns the base URL.
func (s *Server) URL() string {
	return s.srv.URL
}

// Close shuts down the server and drops all data.
func (s *Server) Close() {
	s.srv.Close()
	_ = s.store.close()
}

// AddFault registers a fault. Faults are matched in registration order.
func (s *Server) AddFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, f)
}

// UnlinkDocuments makes entities created later with these sync keys have
// no linked document.
func (s *Server) UnlinkDocuments(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.unlinked[k] = true
	}
}

// Seed stores an entity as if created by an earlier run, with a linked
// document holding content.
func (s *Server) Seed(ctx context.Context, id, syncKey, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docID := s.docIDs.Generate()
	secret := s.secrets.Generate()
	if err := s.store.insertDocument(ctx, docID, secret, &content); err != nil {
		return err
	}
	_, err := s.store.insertEntity(ctx, id, s.schema.Type, syncKey, docID)
	return err
}

// Entities returns every stored entity in creation order.
func (s *Server) Entities(ctx context.Context) ([]Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.entities(ctx)
}

// EntityBySyncKey returns the first entity carrying key.
func (s *Server) EntityBySyncKey(ctx context.Context, key string) (Entity, bool, error) {
	all, err := s.Entities(ctx)
	if err != nil {
		return Entity{}, false, err
	}
	for _, e := range all {
		if e.SyncKey == key {
			return e, true, nil
		}
	}
	return Entity{}, false, nil
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token "+s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	var batch []wireCommand
	if err := decodeStrict(body, &batch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "body must be a list of commands"})
		return
	}

	results := make([]commandResult, 0, len(batch))
	for _, cmd := range batch {
		op, key, err := s.classify(r.Context(), cmd)
		if err != nil {
			results = append(results, failure("invalid.command", err.Error()))
			continue
		}
		if f, ok := s.fault(op, key); ok {
			if f.Status != http.StatusOK {
				writeJSON(w, f.Status, map[string]string{"message": f.Message})
				return
			}
			results = append(results, failure("fault", f.Message))
			continue
		}

		var res commandResult
		switch cmd.Command {
		case fibery.CommandCreate:
			res = s.create(r.Context(), cmd.Args)
		case fibery.CommandQuery:
			res = s.query(r.Context(), cmd.Args)
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusOK, results)
}

// classify returns the client operation a command corresponds to, and the
// sync key it is about, for fault matching.
func (s *Server) classify(ctx context.Context, cmd wireCommand) (fibery.Operation, string, error) {
	switch cmd.Command {
	case fibery.CommandCreate:
		var args wireCreateArgs
		if err := decodeStrict(cmd.Args, &args); err != nil {
			return "", "", fmt.Errorf("decode args: %w", err)
		}
		key, _ := args.Entity[s.schema.SyncKeyField].(string)
		return fibery.OpCreateEntity, key, nil
	case fibery.CommandQuery:
		var args wireQueryArgs
		if err := decodeStrict(cmd.Args, &args); err != nil {
			return "", "", fmt.Errorf("decode args: %w", err)
		}
		q, err := parseQuery(args.Query)
		if err != nil {
			return "", "", err
		}
		eq, _ := q.Where.(fibery.Equals)
		value, _ := args.Params[eq.Param].(string)
		for _, f := range q.Select {
			if _, nested := f.(fibery.Nested); nested {
				key, err := s.store.syncKeyOfEntity(ctx, value)
				return fibery.OpResolveSecret, key, err
			}
		}
		return fibery.OpFindBySyncKey, value, nil
	default:
		return "", "", fmt.Errorf("unknown command %q", cmd.Command)
	}
}

func (s *Server) fault(op fibery.Operation, key string) (Fault, bool) {
	for _, f := range s.faults {
		if f.Operation != op {
			continue
		}
		if f.SyncKey != "" && f.SyncKey != key {
			continue
		}
		if f.Status == 0 {
			f.Status = http.StatusInternalServerError
		}
		if f.Message == "" {
			f.Message = "injected fault"
		}
		return f, true
	}
	return Fault{}, false
}

func (s *Server) create(ctx context.Context, raw json.RawMessage) commandResult {
	var args wireCreateArgs
	if err := decodeStrict(raw, &args); err != nil {
		return failure("invalid.args", err.Error())
	}
	if args.Type != s.schema.Type {
		return failure("entity.error", fmt.Sprintf("type %q not found", args.Type))
	}
	for field := range args.Entity {
		if field != s.schema.IDField && field != s.schema.SyncKeyField {
			return failure("entity.error", fmt.Sprintf("field %q not found", field))
		}
	}
	id, _ := args.Entity[s.schema.IDField].(string)
	key, _ := args.Entity[s.schema.SyncKeyField].(string)
	if strings.TrimSpace(id) == "" {
		return failure("entity.error", s.schema.IDField+" is required")
	}

	var doc any
	docID := ""
	if !s.unlinked[key] {
		docID = s.docIDs.Generate()
		if err := s.store.insertDocument(ctx, docID, s.secrets.Generate(), nil); err != nil {
			return failure("entity.error", err.Error())
		}
		doc = map[string]any{s.schema.IDField: docID}
	}
	if _, err := s.store.insertEntity(ctx, id, args.Type, key, docID); err != nil {
		return failure("entity.error", err.Error())
	}

	return commandResult{Success: true, Result: map[string]any{
		s.schema.IDField:       id,
		s.schema.SyncKeyField:  key,
		s.schema.DocumentField: doc,
	}}
}

func (s *Server) query(ctx context.Context, raw json.RawMessage) commandResult {
	var args wireQueryArgs
	if err := decodeStrict(raw, &args); err != nil {
		return failure("invalid.args", err.Error())
	}
	if args.Query.From != s.schema.Type {
		return failure("query.error", fmt.Sprintf("type %q not found", args.Query.From))
	}
	q, err := parseQuery(args.Query)
	if err != nil {
		return failure("query.error", err.Error())
	}
	compiled, err := s.compiler.compile(q, args.Params)
	if err != nil {
		return failure("query.error", err.Error())
	}

	rows, err := s.store.query(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return failure("query.error", err.Error())
	}
	defer rows.Close()

	result := []map[string]any{}
	for rows.Next() {
		values := make([]*string, len(compiled.Paths))
		dest := make([]any, len(values))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return failure("query.error", err.Error())
		}
		result = append(result, buildRow(compiled.Paths, values))
	}
	if err := rows.Err(); err != nil {
		return failure("query.error", err.Error())
	}
	return commandResult{Success: true, Result: result}
}

// buildRow places column values at their selection paths. A relation whose
// columns are all NULL (no linked document) becomes null.
func buildRow(paths [][]string, values []*string) map[string]any {
	row := make(map[string]any)
	for i, path := range paths {
		if len(path) == 1 {
			if values[i] != nil {
				row[path[0]] = *values[i]
			} else {
				row[path[0]] = nil
			}
			continue
		}
		rel, _ := row[path[0]].(map[string]any)
		if values[i] == nil {
			if rel == nil {
				row[path[0]] = nil
			}
			continue
		}
		if rel == nil {
			rel = make(map[string]any)
			row[path[0]] = rel
		}
		rel[path[1]] = *values[i]
	}
	return row
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret := r.PathValue("secret")
	if r.URL.Query().Get("format") != "md" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "unsupported format"})
		return
	}

	key, err := s.store.syncKeyOfSecret(r.Context(), secret)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	if f, ok := s.fault(fibery.OpPushContent, key); ok {
		writeJSON(w, f.Status, map[string]string{"message": f.Message})
		return
	}

	var body struct {
		Content *string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Content == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "body must be {\"content\": string}"})
		return
	}

	found, err := s.store.setContent(r.Context(), secret, *body.Content)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "document not found"})
		return
	}
	w.WriteHeader(http.StatusOK)
}

func failure(name, message string) commandResult {
	return commandResult{Success: false, Result: map[string]string{"name": name, "message": message}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
