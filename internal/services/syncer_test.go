package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"seevideo/automation/internal/automation/jimeng"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	data  *jimeng.AssetListData
	err   error
	count int
}

func (l *fakeLister) FetchAssetList(_ context.Context, count int) (*jimeng.AssetListData, error) {
	l.count = count
	return l.data, l.err
}

type fakeCloser struct {
	idle   time.Duration
	closed bool
}

func (c *fakeCloser) CloseIfIdle(idle time.Duration) bool {
	c.idle = idle
	return c.closed
}

func TestSyncerSchedulesConfiguredJobs(t *testing.T) {
	store := &fakeAssetStore{}
	p, _ := newProcessor(t, store)

	s := NewSyncer(SyncerConfig{AssetSync: "@every 1h", BrowserReap: "@every 1m", IdleTimeout: time.Minute}, &fakeLister{}, p, &fakeCloser{})
	require.NoError(t, s.Start())
	defer s.Stop()
	assert.Equal(t, 2, s.Entries())

	noJobs := NewSyncer(SyncerConfig{}, &fakeLister{}, p, &fakeCloser{})
	require.NoError(t, noJobs.Start())
	defer noJobs.Stop()
	assert.Zero(t, noJobs.Entries())
}

func TestSyncerRejectsBadSpec(t *testing.T) {
	s := NewSyncer(SyncerConfig{BrowserReap: "every minute", IdleTimeout: time.Minute}, nil, nil, &fakeCloser{})
	assert.Error(t, s.Start())
}

func TestSyncAssets(t *testing.T) {
	store := &fakeAssetStore{}
	p, _ := newProcessor(t, store)
	lister := &fakeLister{data: &jimeng.AssetListData{AssetList: []jimeng.Asset{
		assetJSON(t, "gen-failed", "", "", "timeout"),
		{ID: "image"},
	}}}

	s := NewSyncer(SyncerConfig{ListCount: 500}, lister, p, nil)
	n, err := s.SyncAssets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 500, lister.count)
	require.Len(t, store.failures, 1)

	lister.err = errors.New("login required")
	_, err = s.SyncAssets(context.Background())
	assert.Error(t, err)
}

func TestReapBrowser(t *testing.T) {
	closer := &fakeCloser{closed: true}
	s := NewSyncer(SyncerConfig{IdleTimeout: 5 * time.Minute}, nil, nil, closer)
	assert.True(t, s.ReapBrowser())
	assert.Equal(t, 5*time.Minute, closer.idle)
}
