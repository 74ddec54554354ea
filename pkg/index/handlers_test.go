package index

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T) (*httptest.Server, *Store, string) {
	t.Helper()
	store, root := setupTestIndex(t)
	server := httptest.NewServer(Router(store))
	t.Cleanup(server.Close)
	return server, store, root
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	return resp.StatusCode
}

func TestHealthcheckEndpoint(t *testing.T) {
	server, _, _ := setupTestServer(t)
	var body map[string]string
	status := getJSON(t, server.URL+"/healthcheck", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestListItemsEndpoint(t *testing.T) {
	server, store, root := setupTestServer(t)
	writeItem(t, root, "Foo__MO_123456789012_000", map[string]any{"title": "Foo potential"})
	writeItem(t, root, "Bar__MD_999999999999_000", nil)
	require.NoError(t, store.Upsert("Foo__MO_123456789012_000"))
	require.NoError(t, store.Upsert("Bar__MD_999999999999_000"))

	var body struct {
		Items     []itemResponse `json:"items"`
		TotalSize int            `json:"totalSize"`
	}
	status := getJSON(t, server.URL+"/api/items?type=portable-model", &body)
	assert.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, body.TotalSize)
	assert.Equal(t, "Foo__MO_123456789012_000", body.Items[0].ExtendedID)
	assert.Equal(t, "Foo potential", body.Items[0].Title)
}

func TestListItemsEndpointRejectsBadDriverFilter(t *testing.T) {
	server, _, _ := setupTestServer(t)
	var body map[string]string
	status := getJSON(t, server.URL+"/api/items?driver=not-a-kimcode", &body)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestListItemsEndpointReportsStoreFailure(t *testing.T) {
	server, store, _ := setupTestServer(t)
	require.NoError(t, store.db.Exec("DROP TABLE items").Error)

	var body map[string]string
	status := getJSON(t, server.URL+"/api/items", &body)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestGetItemEndpoint(t *testing.T) {
	server, store, root := setupTestServer(t)
	writeItem(t, root, "Foo__MO_123456789012_000", map[string]any{"title": "Foo potential"})
	require.NoError(t, store.Upsert("Foo__MO_123456789012_000"))

	var item itemResponse
	status := getJSON(t, server.URL+"/api/items/Foo__MO_123456789012_000", &item)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, item.Latest)

	var metadata map[string]any
	require.NoError(t, json.Unmarshal(item.Metadata, &metadata))
	assert.Equal(t, "Foo potential", metadata["title"])
}

func TestGetItemEndpointRejectsBadCode(t *testing.T) {
	server, _, _ := setupTestServer(t)
	var body map[string]string
	status := getJSON(t, server.URL+"/api/items/not-a-kimcode", &body)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestGetItemEndpointNotFound(t *testing.T) {
	server, _, _ := setupTestServer(t)
	var body map[string]string
	status := getJSON(t, server.URL+"/api/items/MO_000000000000_000", &body)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestGetLineageEndpoint(t *testing.T) {
	server, store, root := setupTestServer(t)
	writeItem(t, root, "Foo__MO_123456789012_000", nil)
	writeItem(t, root, "Foo__MO_123456789012_001", nil)
	require.NoError(t, store.Upsert("Foo__MO_123456789012_000"))
	require.NoError(t, store.Upsert("Foo__MO_123456789012_001"))

	var body struct {
		Number   string         `json:"number"`
		Versions []itemResponse `json:"versions"`
	}
	status := getJSON(t, server.URL+"/api/lineages/123456789012", &body)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, body.Versions, 2)
	assert.Equal(t, 0, body.Versions[0].Version)
	assert.Equal(t, 1, body.Versions[1].Version)

	status = getJSON(t, server.URL+"/api/lineages/000000000000", &body)
	assert.Equal(t, http.StatusNotFound, status)
}
