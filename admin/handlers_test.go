package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowhq/burrow/message"
	"github.com/burrowhq/burrow/model"
	"github.com/burrowhq/burrow/notify"
	"github.com/burrowhq/burrow/release"
	"github.com/burrowhq/burrow/store"
	"github.com/burrowhq/burrow/watch"
)

// testAPI wires the full in-process pipeline behind the router: sender
// feeds the cache, cache merges ring the hub, exactly as in production.
type testAPI struct {
	router http.Handler
	store  *store.MemoryStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st := store.NewMemoryStore()
	sender := message.NewSender(st, message.SenderOptions{})
	cache := message.NewCache(st, message.CacheOptions{ScanInterval: time.Hour})
	hub := notify.NewHub()
	cache.OnMerge(func(msg *model.ReleaseMessage) { hub.Signal(msg.Content, msg.ID) })
	sender.AddListener(cache)
	require.NoError(t, cache.Start(context.Background()))
	t.Cleanup(cache.Stop)

	svc := release.NewService(st, sender, nil)
	assembler := watch.NewKeyAssembler(st.AppNamespaces())
	h := NewHandlers(svc, cache, hub, assembler, 300*time.Millisecond)
	return &testAPI{router: NewRouter(h), store: st}
}

func (a *testAPI) seedNamespace(t *testing.T, appID, cluster, namespace string, items map[string]string) *model.Namespace {
	t.Helper()
	ctx := context.Background()
	ns := &model.Namespace{AppID: appID, ClusterName: cluster, NamespaceName: namespace}
	require.NoError(t, a.store.Namespaces().Save(ctx, ns))
	line := 1
	for k, v := range items {
		require.NoError(t, a.store.Items().Save(ctx, &model.Item{NamespaceID: ns.ID, Key: k, Value: v, LineNum: line}))
		line++
	}
	return ns
}

func (a *testAPI) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeRelease(t *testing.T, rec *httptest.ResponseRecorder) *model.Release {
	t.Helper()
	var rel model.Release
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rel))
	return &rel
}

func namespacePath(appID, cluster, namespace string) string {
	return fmt.Sprintf("/apps/%s/clusters/%s/namespaces/%s", appID, cluster, namespace)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublishAndReadBack(t *testing.T) {
	api := newTestAPI(t)
	api.seedNamespace(t, "demo", "default", "application", map[string]string{"timeout": "30"})
	base := namespacePath("demo", "default", "application")

	rec := api.do(t, http.MethodPost, base+"/releases",
		map[string]interface{}{"name": "v1", "operator": "tester"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rel := decodeRelease(t, rec)
	assert.Equal(t, "v1", rel.Name)

	rec = api.do(t, http.MethodGet, base+"/releases/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, rel.ID, decodeRelease(t, rec).ID)

	rec = api.do(t, http.MethodGet, fmt.Sprintf("/releases/%d", rel.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, fmt.Sprintf("/releases/?releaseIds=%d", rel.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, base+"/histories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var histories []model.ReleaseHistory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &histories))
	assert.Len(t, histories, 1)
}

func TestPublishErrorMapping(t *testing.T) {
	api := newTestAPI(t)

	// Unknown namespace maps to 404.
	rec := api.do(t, http.MethodPost, namespacePath("ghost", "default", "application")+"/releases",
		map[string]interface{}{"name": "v1", "operator": "tester"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Malformed body maps to 400.
	req := httptest.NewRequest(http.MethodPost, namespacePath("demo", "default", "application")+"/releases",
		bytes.NewBufferString("{nope"))
	rr := httptest.NewRecorder()
	api.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// Self-approval rejection maps to 400.
	ns := api.seedNamespace(t, "demo", "default", "application", map[string]string{"k": "v"})
	require.NoError(t, api.store.Locks().Acquire(context.Background(), ns.ID, "tester"))
	rec = api.do(t, http.MethodPost, namespacePath("demo", "default", "application")+"/releases",
		map[string]interface{}{"name": "v1", "operator": "tester"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRollbackEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.seedNamespace(t, "demo", "default", "application", map[string]string{"k": "v1"})
	base := namespacePath("demo", "default", "application")

	rec := api.do(t, http.MethodPost, base+"/releases", map[string]interface{}{"name": "v1", "operator": "tester"})
	require.Equal(t, http.StatusOK, rec.Code)
	r1 := decodeRelease(t, rec)

	rec = api.do(t, http.MethodPost, base+"/releases", map[string]interface{}{"name": "v2", "operator": "tester"})
	require.Equal(t, http.StatusOK, rec.Code)
	r2 := decodeRelease(t, rec)

	// Operator is mandatory.
	rec = api.do(t, http.MethodPut, fmt.Sprintf("/releases/%d/rollback", r2.ID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPut, fmt.Sprintf("/releases/%d/rollback?operator=tester", r2.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, r1.ID, decodeRelease(t, rec).ID)

	// A second rollback of the same release is a 400, not a 500.
	rec = api.do(t, http.MethodPut, fmt.Sprintf("/releases/%d/rollback?operator=tester", r2.ID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func notificationsTarget(appID, cluster string, notifications []NamespaceNotification) string {
	raw, _ := json.Marshal(notifications)
	q := url.Values{}
	q.Set("appId", appID)
	if cluster != "" {
		q.Set("cluster", cluster)
	}
	q.Set("notifications", string(raw))
	return "/notifications?" + q.Encode()
}

func TestNotificationsValidation(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/notifications", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/notifications?appId=demo", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, notificationsTarget("demo", "", nil), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotificationsImmediateAnswer(t *testing.T) {
	api := newTestAPI(t)
	api.seedNamespace(t, "demo", "default", "application", map[string]string{"k": "v"})

	rec := api.do(t, http.MethodPost, namespacePath("demo", "default", "application")+"/releases",
		map[string]interface{}{"name": "v1", "operator": "tester"})
	require.Equal(t, http.StatusOK, rec.Code)

	// The client has seen nothing; the published release answers at once.
	rec = api.do(t, http.MethodGet, notificationsTarget("demo", "default",
		[]NamespaceNotification{{NamespaceName: "application", NotificationID: 0}}), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var changed []NamespaceNotification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &changed))
	require.Len(t, changed, 1)
	assert.Equal(t, "application", changed[0].NamespaceName)
	assert.Greater(t, changed[0].NotificationID, int64(0))
}

func TestNotificationsTimeout(t *testing.T) {
	api := newTestAPI(t)
	api.seedNamespace(t, "demo", "default", "application", map[string]string{"k": "v"})

	// Nothing published: the long poll parks and times out with 304.
	rec := api.do(t, http.MethodGet, notificationsTarget("demo", "default",
		[]NamespaceNotification{{NamespaceName: "application", NotificationID: 0}}), nil)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestNotificationsWokenByPublish(t *testing.T) {
	api := newTestAPI(t)
	api.seedNamespace(t, "demo", "default", "application", map[string]string{"k": "v"})

	type result struct {
		code int
		body []byte
	}
	done := make(chan result, 1)
	go func() {
		rec := api.do(t, http.MethodGet, notificationsTarget("demo", "default",
			[]NamespaceNotification{{NamespaceName: "application", NotificationID: 0}}), nil)
		done <- result{rec.Code, rec.Body.Bytes()}
	}()

	// Give the long poll time to park, then publish.
	time.Sleep(50 * time.Millisecond)
	rec := api.do(t, http.MethodPost, namespacePath("demo", "default", "application")+"/releases",
		map[string]interface{}{"name": "v1", "operator": "tester"})
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case res := <-done:
		require.Equal(t, http.StatusOK, res.code, string(res.body))
		var changed []NamespaceNotification
		require.NoError(t, json.Unmarshal(res.body, &changed))
		require.Len(t, changed, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("long poll never woke up after the publish")
	}
}
