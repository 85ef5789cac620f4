package fiberytest

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tg2fibery/internal/fibery"
	"github.com/roach88/tg2fibery/internal/testutil"
)

const testToken = "4748asad.FAGA89002AJFDAFasfucuciocgah2222"

func newTestServer(t *testing.T, opts Options) (*Server, *fibery.Client) {
	t.Helper()
	if opts.Token == "" {
		opts.Token = testToken
	}
	srv, err := NewServer(opts)
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	client := fibery.NewClient(fibery.ClientOptions{BaseURL: srv.URL(), Token: testToken, Schema: opts.Schema})
	return srv, client
}

func TestServer_FullCycle(t *testing.T) {
	rec := testutil.NewRecorder()
	srv, client := newTestServer(t, Options{Recorder: rec})
	ctx := context.Background()

	_, found, err := client.FindEntityBySyncKey(ctx, "tg:145")
	require.NoError(t, err)
	assert.False(t, found)

	id, err := client.CreateEntity(ctx, "00000000-0000-7000-8000-000000000001", "tg:145")
	require.NoError(t, err)
	assert.Equal(t, "00000000-0000-7000-8000-000000000001", id)

	got, found, err := client.FindEntityBySyncKey(ctx, "tg:145")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, got)

	secret, err := client.ResolveDocumentSecret(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, testutil.SecretPrefix+"000000000001", secret)

	require.NoError(t, client.PushContent(ctx, secret, "autogenerated"))

	entities, err := srv.Entities(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	e := entities[0]
	assert.Equal(t, id, e.ID)
	assert.Equal(t, fibery.DefaultEntityType, e.Type)
	assert.Equal(t, "tg:145", e.SyncKey)
	require.NotNil(t, e.Document)
	assert.Equal(t, testutil.DocumentIDPrefix+"000000000001", e.Document.ID)
	require.NotNil(t, e.Document.Content)
	assert.Equal(t, "autogenerated", *e.Document.Content)
	assert.Equal(t, 1, e.Document.Pushes)

	reqs := rec.Requests()
	require.Len(t, reqs, 5)
	assert.Equal(t, http.MethodPut, reqs[4].Method)
	assert.Equal(t, "/api/documents/"+secret, reqs[4].Path)
}

func TestServer_UnlinkedDocument(t *testing.T) {
	srv, client := newTestServer(t, Options{})
	srv.UnlinkDocuments("tg:9")
	ctx := context.Background()

	id, err := client.CreateEntity(ctx, "e-9", "tg:9")
	require.NoError(t, err)

	_, err = client.ResolveDocumentSecret(ctx, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, fibery.ErrDocumentNotLinked)

	e, found, err := srv.EntityBySyncKey(ctx, "tg:9")
	require.NoError(t, err)
	require.True(t, found)
	assert.Nil(t, e.Document)
}

func TestServer_ResolveUnknownEntity(t *testing.T) {
	_, client := newTestServer(t, Options{})

	_, err := client.ResolveDocumentSecret(context.Background(), "missing")
	assert.ErrorIs(t, err, fibery.ErrDocumentNotLinked)
}

func TestServer_Seed(t *testing.T) {
	srv, client := newTestServer(t, Options{})
	ctx := context.Background()
	require.NoError(t, srv.Seed(ctx, "existing", "tg:1", "original"))

	id, found, err := client.FindEntityBySyncKey(ctx, "tg:1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "existing", id)

	e, _, err := srv.EntityBySyncKey(ctx, "tg:1")
	require.NoError(t, err)
	require.NotNil(t, e.Document)
	assert.Equal(t, "original", *e.Document.Content)
	assert.Equal(t, 0, e.Document.Pushes)
}

func TestServer_FindReturnsFirstCreated(t *testing.T) {
	srv, client := newTestServer(t, Options{})
	ctx := context.Background()
	require.NoError(t, srv.Seed(ctx, "zzz", "tg:1", "a"))
	require.NoError(t, srv.Seed(ctx, "aaa", "tg:1", "b"))

	id, found, err := client.FindEntityBySyncKey(ctx, "tg:1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "zzz", id)
}

func TestServer_Faults(t *testing.T) {
	testCases := []struct {
		name   string
		fault  Fault
		call   func(ctx context.Context, c *fibery.Client) error
		status int
	}{
		{
			name:  "find 500",
			fault: Fault{Operation: fibery.OpFindBySyncKey, SyncKey: "tg:2"},
			call: func(ctx context.Context, c *fibery.Client) error {
				_, _, err := c.FindEntityBySyncKey(ctx, "tg:2")
				return err
			},
			status: http.StatusInternalServerError,
		},
		{
			name:  "create success false",
			fault: Fault{Operation: fibery.OpCreateEntity, Status: http.StatusOK, Message: "rejected"},
			call: func(ctx context.Context, c *fibery.Client) error {
				_, err := c.CreateEntity(ctx, "e-2", "tg:2")
				return err
			},
			status: http.StatusOK,
		},
		{
			name:  "resolve 503",
			fault: Fault{Operation: fibery.OpResolveSecret, SyncKey: "tg:2", Status: http.StatusServiceUnavailable},
			call: func(ctx context.Context, c *fibery.Client) error {
				if _, err := c.CreateEntity(ctx, "e-2", "tg:2"); err != nil {
					return err
				}
				_, err := c.ResolveDocumentSecret(ctx, "e-2")
				return err
			},
			status: http.StatusServiceUnavailable,
		},
		{
			name:  "push 500",
			fault: Fault{Operation: fibery.OpPushContent, SyncKey: "tg:2"},
			call: func(ctx context.Context, c *fibery.Client) error {
				if _, err := c.CreateEntity(ctx, "e-2", "tg:2"); err != nil {
					return err
				}
				secret, err := c.ResolveDocumentSecret(ctx, "e-2")
				if err != nil {
					return err
				}
				return c.PushContent(ctx, secret, "text")
			},
			status: http.StatusInternalServerError,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv, client := newTestServer(t, Options{})
			srv.AddFault(tc.fault)

			err := tc.call(context.Background(), client)
			require.Error(t, err)
			assert.ErrorIs(t, err, fibery.ErrCommandFailed)

			var ce *fibery.CommandError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tc.fault.Operation, ce.Operation)
			assert.Equal(t, tc.status, ce.Status)
		})
	}
}

func TestServer_FaultIsScopedToSyncKey(t *testing.T) {
	srv, client := newTestServer(t, Options{})
	srv.AddFault(Fault{Operation: fibery.OpCreateEntity, SyncKey: "tg:2"})
	ctx := context.Background()

	_, err := client.CreateEntity(ctx, "e-1", "tg:1")
	require.NoError(t, err)
	_, err = client.CreateEntity(ctx, "e-2", "tg:2")
	require.Error(t, err)
}

func TestServer_RejectsBadToken(t *testing.T) {
	srv, err := NewServer(Options{Token: "right"})
	require.NoError(t, err)
	defer srv.Close()

	client := fibery.NewClient(fibery.ClientOptions{BaseURL: srv.URL(), Token: "wrong"})
	_, _, err = client.FindEntityBySyncKey(context.Background(), "tg:1")
	require.Error(t, err)

	var ce *fibery.CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.StatusUnauthorized, ce.Status)
}

func TestServer_PushUnknownSecret(t *testing.T) {
	_, client := newTestServer(t, Options{})

	err := client.PushContent(context.Background(), "no-such-secret", "text")
	require.Error(t, err)

	var ce *fibery.CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.StatusNotFound, ce.Status)
}

func TestServer_CustomSchema(t *testing.T) {
	schema := fibery.Schema{
		Type:          "Inbox/Note",
		SyncKeyField:  "Inbox/Source Key",
		DocumentField: "Inbox/Body",
	}
	srv, client := newTestServer(t, Options{Schema: schema})
	ctx := context.Background()

	id, err := client.CreateEntity(ctx, "n-1", "tg:5")
	require.NoError(t, err)
	secret, err := client.ResolveDocumentSecret(ctx, id)
	require.NoError(t, err)
	require.NoError(t, client.PushContent(ctx, secret, "note"))

	e, found, err := srv.EntityBySyncKey(ctx, "tg:5")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Inbox/Note", e.Type)
	assert.Equal(t, "note", *e.Document.Content)

	// A client using the default schema names a type the workspace lacks.
	other := fibery.NewClient(fibery.ClientOptions{BaseURL: srv.URL(), Token: testToken})
	_, _, err = other.FindEntityBySyncKey(ctx, "tg:5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
