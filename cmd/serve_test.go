package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garescout/tender-cli/internal/model"
	"github.com/garescout/tender-cli/internal/store"
)

func newServeStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(newRouter(newServeStore(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTenderDetailEndpoint(t *testing.T) {
	st := newServeStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, st.CreateTender(ctx, &model.Tender{
		IdentityKey:   "cig:A000000001",
		Platform:      "mef",
		Fields:        model.FieldSet{Title: "Fornitura arredi"},
		Lifecycle:     model.LifecycleActive,
		Stage:         model.StageNew,
		CreatedAt:     now,
		LastSeenAt:    now,
		LastChangedAt: now,
	}))
	require.NoError(t, st.UpsertAttachment(ctx, &model.Attachment{
		TenderKey: "cig:A000000001",
		SourceURL: "https://example.org/bando.pdf",
		FileName:  "bando.pdf",
		Category:  model.CategoryInformative,
	}))

	srv := httptest.NewServer(newRouter(st))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/tenders/mef/cig:A000000001")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var detail tenderDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
	require.NotNil(t, detail.Tender)
	assert.Equal(t, "Fornitura arredi", detail.Tender.Fields.Title)
	require.Len(t, detail.Attachments, 1)
	assert.Equal(t, "bando.pdf", detail.Attachments[0].FileName)

	resp, err = http.Get(srv.URL + "/api/tenders/mef/cig:MISSING000")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunsEndpointEmptyIsArray(t *testing.T) {
	srv := httptest.NewServer(newRouter(newServeStore(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var runs []model.ScrapeRun
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	assert.Empty(t, runs)
}
