package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quickdrop-io/quickdrop/models"
)

func TestGetFiles_CachesListing(t *testing.T) {
	fileStore := &fakeFileStore{records: []models.FileRecord{
		{FileId: "f1", SessionId: "s1", Name: "a.txt", CreatedAt: time.Now().UTC()},
	}}
	cache := newRecordingCache()
	svc := NewFileServiceImpl(fileStore, cache, 30*time.Second, testLogger())

	resp, err := svc.GetFiles(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, resp.Files, 1)
	require.Equal(t, 1, fileStore.listHits)
	require.Equal(t, 1, cache.sets)

	// second read is served from cache
	resp, err = svc.GetFiles(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, resp.Files, 1)
	require.Equal(t, 1, fileStore.listHits)
}

func TestGetFiles_ScopedToSession(t *testing.T) {
	fileStore := &fakeFileStore{records: []models.FileRecord{
		{FileId: "f1", SessionId: "s1"},
		{FileId: "f2", SessionId: "s2"},
	}}
	svc := NewFileServiceImpl(fileStore, newRecordingCache(), 30*time.Second, testLogger())

	resp, err := svc.GetFiles(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, resp.Files, 1)
	require.Equal(t, "f1", resp.Files[0].FileId)
}
