package torrent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/hekmon/cunits/v2"
	"github.com/hekmon/transmissionrpc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockOps struct {
	addFile       func(ctx context.Context, filepath string) (transmissionrpc.Torrent, error)
	stopHashes    func(ctx context.Context, hashes []string) error
	getAll        func(ctx context.Context) ([]transmissionrpc.Torrent, error)
	getForHashes  func(ctx context.Context, hashes []string) ([]transmissionrpc.Torrent, error)
	remove        func(ctx context.Context, payload transmissionrpc.TorrentRemovePayload) error
	sessionStats  func(ctx context.Context) (transmissionrpc.SessionStats, error)
	setSessionArg func(ctx context.Context, args transmissionrpc.SessionArguments) error
}

func (m *mockOps) TorrentAddFile(ctx context.Context, filepath string) (transmissionrpc.Torrent, error) {
	return m.addFile(ctx, filepath)
}

func (m *mockOps) TorrentStopHashes(ctx context.Context, hashes []string) error {
	return m.stopHashes(ctx, hashes)
}

func (m *mockOps) TorrentGetAll(ctx context.Context) ([]transmissionrpc.Torrent, error) {
	return m.getAll(ctx)
}

func (m *mockOps) TorrentGetAllForHashes(ctx context.Context, hashes []string) ([]transmissionrpc.Torrent, error) {
	return m.getForHashes(ctx, hashes)
}

func (m *mockOps) TorrentRemove(ctx context.Context, payload transmissionrpc.TorrentRemovePayload) error {
	return m.remove(ctx, payload)
}

func (m *mockOps) SessionStats(ctx context.Context) (transmissionrpc.SessionStats, error) {
	return m.sessionStats(ctx)
}

func (m *mockOps) SessionArgumentsSet(ctx context.Context, args transmissionrpc.SessionArguments) error {
	return m.setSessionArg(ctx, args)
}

func ptr[T any](v T) *T { return &v }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(ops rpcOps) *TransmissionClient {
	return &TransmissionClient{rpc: ops, logger: quietLogger()}
}

func sampleRecord() transmissionrpc.Torrent {
	status := transmissionrpc.TorrentStatusSeed
	size := cunits.ImportInByte(2048)
	added := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return transmissionrpc.Torrent{
		ID:            ptr(int64(7)),
		HashString:    ptr("abc123"),
		Name:          ptr("dataset"),
		DownloadDir:   ptr("/downloads"),
		Status:        &status,
		PercentDone:   ptr(1.0),
		TotalSize:     &size,
		ETA:           ptr(int64(-1)),
		AddedDate:     &added,
		QueuePosition: ptr(int64(2)),
		IsFinished:    ptr(true),
		IsStalled:     ptr(false),
		IsPrivate:     ptr(true),
	}
}

func TestAdd(t *testing.T) {
	ops := &mockOps{
		addFile: func(ctx context.Context, filepath string) (transmissionrpc.Torrent, error) {
			assert.Equal(t, "/tmp/dataset.torrent", filepath)
			return sampleRecord(), nil
		},
	}
	c := newTestClient(ops)

	added, err := c.Add(context.Background(), "/tmp/dataset.torrent")
	require.NoError(t, err)
	assert.Equal(t, "dataset", added.Name)
	assert.Equal(t, "abc123", added.Hash)
	assert.Equal(t, StatusSeeding, added.Status)
	assert.Equal(t, int64(2048), added.SizeBytes)
	assert.True(t, added.Finished)
}

func TestAddMissingFile(t *testing.T) {
	ops := &mockOps{
		addFile: func(ctx context.Context, filepath string) (transmissionrpc.Torrent, error) {
			return transmissionrpc.Torrent{}, &os.PathError{Op: "open", Path: filepath, Err: syscall.ENOENT}
		},
	}
	c := newTestClient(ops)

	_, err := c.Add(context.Background(), "/tmp/nope.torrent")
	require.Error(t, err)
	assert.Equal(t, KindFilesystem, KindOf(err))
}

func TestStop(t *testing.T) {
	var got []string
	ops := &mockOps{
		stopHashes: func(ctx context.Context, hashes []string) error {
			got = hashes
			return nil
		},
	}
	c := newTestClient(ops)

	require.NoError(t, c.Stop(context.Background(), []string{"abc123", "def456"}))
	assert.Equal(t, []string{"abc123", "def456"}, got)

	// No hashes means nothing to ask the daemon.
	got = nil
	require.NoError(t, c.Stop(context.Background(), nil))
	assert.Nil(t, got)
}

func TestList(t *testing.T) {
	ops := &mockOps{
		getAll: func(ctx context.Context) ([]transmissionrpc.Torrent, error) {
			return []transmissionrpc.Torrent{sampleRecord(), {}}, nil
		},
	}
	c := newTestClient(ops)

	torrents, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, torrents, 2)
	assert.Equal(t, "dataset", torrents[0].Name)

	// A record with every field absent still converts cleanly.
	assert.Equal(t, StatusUnknown, torrents[1].Status)
	assert.Zero(t, torrents[1].SizeBytes)
	assert.True(t, torrents[1].AddedAt.IsZero())
}

func TestPeers(t *testing.T) {
	record := sampleRecord()
	record.PeersConnected = ptr(int64(12))
	record.PeersGettingFromUs = ptr(int64(4))
	record.PeersSendingToUs = ptr(int64(3))
	record.WebSeedsSendingToUs = ptr(int64(1))
	record.PeerLimit = ptr(int64(50))

	ops := &mockOps{
		getForHashes: func(ctx context.Context, hashes []string) ([]transmissionrpc.Torrent, error) {
			assert.Equal(t, []string{"abc123"}, hashes)
			return []transmissionrpc.Torrent{record}, nil
		},
	}
	c := newTestClient(ops)

	peers, err := c.Peers(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, Peers{Connected: 12, GettingFromUs: 4, SendingToUs: 3, Webseeds: 1, Limit: 50}, peers)
}

func TestPeersUnknownHash(t *testing.T) {
	ops := &mockOps{
		getForHashes: func(ctx context.Context, hashes []string) ([]transmissionrpc.Torrent, error) {
			return nil, nil
		},
	}
	c := newTestClient(ops)

	_, err := c.Peers(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, KindOther, KindOf(err))
}

func TestRemoveResolvesHashes(t *testing.T) {
	var payload transmissionrpc.TorrentRemovePayload
	ops := &mockOps{
		getForHashes: func(ctx context.Context, hashes []string) ([]transmissionrpc.Torrent, error) {
			assert.Equal(t, []string{"abc123", "def456"}, hashes)
			return []transmissionrpc.Torrent{
				{ID: ptr(int64(7))},
				{ID: ptr(int64(9))},
			}, nil
		},
		remove: func(ctx context.Context, p transmissionrpc.TorrentRemovePayload) error {
			payload = p
			return nil
		},
	}
	c := newTestClient(ops)

	err := c.Remove(context.Background(), []string{"abc123", "def456"}, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 9}, payload.IDs)
	assert.True(t, payload.DeleteLocalData)
}

func TestStats(t *testing.T) {
	ops := &mockOps{
		sessionStats: func(ctx context.Context) (transmissionrpc.SessionStats, error) {
			return transmissionrpc.SessionStats{
				ActiveTorrentCount: 3,
				PausedTorrentCount: 1,
				TorrentCount:       4,
				DownloadSpeed:      1 << 20,
				UploadSpeed:        1 << 18,
				CurrentStats: transmissionrpc.SessionStatsDetails{
					DownloadedBytes: 100,
					UploadedBytes:   50,
					FilesAdded:      2,
					SessionCount:    1,
					SecondsActive:   3600,
				},
				CumulativeStats: transmissionrpc.SessionStatsDetails{
					DownloadedBytes: 1000,
					UploadedBytes:   900,
					FilesAdded:      20,
					SessionCount:    5,
					SecondsActive:   86400,
				},
			}, nil
		},
	}
	c := newTestClient(ops)

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.ActiveTorrents)
	assert.Equal(t, int64(4), stats.TotalTorrents)
	assert.Equal(t, int64(100), stats.Current.DownloadedBytes)
	assert.Equal(t, int64(86400), stats.Cumulative.ActiveSeconds)
}

func TestConfigureQueue(t *testing.T) {
	var got transmissionrpc.SessionArguments
	ops := &mockOps{
		setSessionArg: func(ctx context.Context, args transmissionrpc.SessionArguments) error {
			got = args
			return nil
		},
	}
	c := newTestClient(ops)

	require.NoError(t, c.configureQueue(context.Background(), 10))
	require.NotNil(t, got.DownloadQueueEnabled)
	assert.True(t, *got.DownloadQueueEnabled)
	require.NotNil(t, got.DownloadQueueSize)
	assert.Equal(t, int64(10), *got.DownloadQueueSize)
	require.NotNil(t, got.IncompleteDirEnabled)
	assert.False(t, *got.IncompleteDirEnabled)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"refused connection", syscall.ECONNREFUSED, KindNetwork},
		{"auth rejected", errors.New("HTTP error 401 Unauthorized"), KindUnauthorized},
		{"daemon error", errors.New("HTTP error 500 Internal Server Error"), KindServer},
		{"bad torrent", errors.New("invalid or corrupt torrent file"), KindInvalidTorrent},
		{"local file", &os.PathError{Op: "open", Path: "x", Err: syscall.EACCES}, KindFilesystem},
		{"anything else", errors.New("unexpected response"), KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			assert.Equal(t, tt.want, KindOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindOther, KindOf(errors.New("plain")))
}
