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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/archipelago/services/syncnode/datatypes"
	"github.com/AleutianAI/archipelago/services/syncnode/discovery"
	"github.com/AleutianAI/archipelago/services/syncnode/engine"
	"github.com/AleutianAI/archipelago/services/syncnode/storage"
)

func publishRouter(store *storage.RegistryStore, hub *discovery.Hub) *gin.Engine {
	router := gin.New()
	router.POST("/v1/records", PublishRecord(store, hub, "arch", "node-self"))
	return router
}

func postJSON(t *testing.T, router *gin.Engine, url string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestPublishRecord_StoresRegistersAndAnnounces(t *testing.T) {
	store := newTestStore(t)
	router := publishRouter(store, discovery.NewHub())

	w := postJSON(t, router, "/v1/records", datatypes.PublishRequest{
		RecordType: "post",
		Payload:    validPayload("first post"),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp datatypes.PublishResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Soul, "content-addressed soul derived server side")
	assert.Equal(t, datatypes.DID("arch", resp.Soul), resp.DID)
	assert.Equal(t, "post", resp.RecordType)
	assert.True(t, resp.Announced)

	// The payload is servable over the wire and registered for discovery.
	raw, err := store.Get(context.Background(), resp.Soul)
	require.NoError(t, err)
	var stored map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, "first post", stored["body"])

	registered, err := store.HasIndexEntry("post", resp.Soul)
	require.NoError(t, err)
	assert.True(t, registered)
}

func TestPublishRecord_SameContentSameSoul(t *testing.T) {
	router := publishRouter(newTestStore(t), nil)
	req := datatypes.PublishRequest{RecordType: "post", Payload: validPayload("stable")}

	first := postJSON(t, router, "/v1/records", req)
	second := postJSON(t, router, "/v1/records", req)
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)

	var a, b datatypes.PublishResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.Equal(t, a.Soul, b.Soul, "identical content republishes under the same soul")
	assert.False(t, b.Announced, "nil hub publishes without announcing")
}

func TestPublishRecord_ImmutableConflict(t *testing.T) {
	router := publishRouter(newTestStore(t), nil)

	first := postJSON(t, router, "/v1/records", datatypes.PublishRequest{
		Soul:       "pinned-soul",
		RecordType: "post",
		Payload:    validPayload("original"),
	})
	require.Equal(t, http.StatusCreated, first.Code)

	second := postJSON(t, router, "/v1/records", datatypes.PublishRequest{
		Soul:       "pinned-soul",
		RecordType: "post",
		Payload:    validPayload("rewritten"),
	})
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestPublishRecord_RejectsBadEnvelopes(t *testing.T) {
	router := publishRouter(newTestStore(t), nil)

	tests := []struct {
		name string
		req  datatypes.PublishRequest
	}{
		{
			name: "missing record type",
			req:  datatypes.PublishRequest{Payload: validPayload("x")},
		},
		{
			name: "missing payload",
			req:  datatypes.PublishRequest{RecordType: "post"},
		},
		{
			name: "creator without public key",
			req: datatypes.PublishRequest{
				RecordType: "post",
				Payload: map[string]interface{}{
					"recordType": "post",
					"creator":    map[string]interface{}{},
					"body":       "unsigned",
				},
			},
		},
		{
			name: "uppercase record type",
			req:  datatypes.PublishRequest{RecordType: "Post", Payload: validPayload("x")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, router, "/v1/records", tt.req)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestPublishRecord_OversizedPayload(t *testing.T) {
	router := publishRouter(newTestStore(t), nil)

	payload := validPayload(strings.Repeat("x", datatypes.MaxPayloadBytes))
	w := postJSON(t, router, "/v1/records", datatypes.PublishRequest{
		RecordType: "post",
		Payload:    payload,
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestSearchRecords(t *testing.T) {
	var gotQuery, gotType string
	var gotLimit int
	searchFn := func(_ context.Context, query, recordType string, limit int) ([]datatypes.SearchHit, error) {
		gotQuery, gotType, gotLimit = query, recordType, limit
		return []datatypes.SearchHit{
			{DID: "did:arch:s1", Soul: "s1", RecordType: "post"},
		}, nil
	}
	indexer := engine.NewIndexer(
		func(context.Context, string) (bool, error) { return false, nil },
		func(context.Context, string, map[string]interface{}) error { return nil },
		searchFn,
		engine.NewProcessedSet(),
	)

	router := gin.New()
	router.GET("/v1/records/search", SearchRecords(indexer))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/records/search?q=lighthouse&type=post", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "did:arch:s1", resp.Results[0].DID)

	assert.Equal(t, "lighthouse", gotQuery)
	assert.Equal(t, "post", gotType)
	assert.Equal(t, defaultSearchLimit, gotLimit, "omitted limit falls back to the default")

	// Missing query parameter is a validation failure.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/records/search", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
