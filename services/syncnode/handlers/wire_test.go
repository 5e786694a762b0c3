// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/archipelago/services/syncnode/datatypes"
	"github.com/AleutianAI/archipelago/services/syncnode/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestStore opens an in-memory registry store scoped to the test.
func newTestStore(t *testing.T) *storage.RegistryStore {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewRegistryStore(db)
}

// validPayload builds the minimal envelope that passes record validation.
func validPayload(body string) map[string]interface{} {
	return map[string]interface{}{
		"recordType": "post",
		"creator":    map[string]interface{}{"publicKey": "pk-test"},
		"body":       body,
	}
}

func wireRouter(store *storage.RegistryStore) *gin.Engine {
	router := gin.New()
	router.GET("/get", HandleWireGet(store))
	return router
}

func TestHandleWireGet_ServesStoredRecord(t *testing.T) {
	store := newTestStore(t)
	payload := validPayload("hello from the wire")
	require.NoError(t, store.PutRecord(context.Background(), "soul-wire-1", payload))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/get?soul=soul-wire-1", nil)
	wireRouter(store).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.WireResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Error)

	var roundTrip map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &roundTrip))
	assert.Equal(t, "hello from the wire", roundTrip["body"])
	assert.Equal(t, "post", roundTrip["recordType"])
}

func TestHandleWireGet_UnknownSoulIs404(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/get?soul=never-published", nil)
	wireRouter(newTestStore(t)).ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)

	var resp datatypes.WireResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "not found", resp.Error)
}

func TestHandleWireGet_BadRequests(t *testing.T) {
	router := wireRouter(newTestStore(t))

	tests := []struct {
		name string
		url  string
	}{
		{name: "missing soul parameter", url: "/get"},
		{name: "reserved metadata prefix", url: "/get?soul=_meta"},
		{name: "malformed soul", url: "/get?soul=a%2Fb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.url, nil))

			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp datatypes.WireResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
		})
	}
}

func TestHandleWireGet_ServesRegistryIndex(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AppendIndexEntry("post", datatypes.RegistryIndexEntry{
		Soul: "soul-a", NodeID: "node-self", Timestamp: 1700000000000,
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/get?soul="+datatypes.RegistryIndexSoul("post"), nil)
	wireRouter(store).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.WireResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)

	var index datatypes.RegistryIndex
	require.NoError(t, json.Unmarshal(resp.Data, &index))
	require.Contains(t, index, "soul-a")
	assert.Equal(t, "node-self", index["soul-a"].NodeID)
}
