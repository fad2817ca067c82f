package torrent

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/hekmon/transmissionrpc/v3"
)

// rpcOps is the slice of the transmissionrpc client the controller
// uses. Tests substitute a mock.
type rpcOps interface {
	TorrentAddFile(ctx context.Context, filepath string) (transmissionrpc.Torrent, error)
	TorrentStopHashes(ctx context.Context, hashes []string) error
	TorrentGetAll(ctx context.Context) ([]transmissionrpc.Torrent, error)
	TorrentGetAllForHashes(ctx context.Context, hashes []string) ([]transmissionrpc.Torrent, error)
	TorrentRemove(ctx context.Context, payload transmissionrpc.TorrentRemovePayload) error
	SessionStats(ctx context.Context) (transmissionrpc.SessionStats, error)
	SessionArgumentsSet(ctx context.Context, args transmissionrpc.SessionArguments) error
}

var _ rpcOps = (*transmissionrpc.Client)(nil)

// TransmissionConfig locates and tunes the Transmission daemon.
type TransmissionConfig struct {
	// URL is the RPC endpoint, e.g.
	// http://localhost:9091/transmission/rpc.
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// DownloadQueueSize caps concurrently downloading torrents when
	// positive; zero leaves the daemon's queue settings untouched.
	DownloadQueueSize int64 `yaml:"download_queue_size"`
}

// TransmissionClient implements Controller over the Transmission RPC
// protocol.
type TransmissionClient struct {
	rpc    rpcOps
	logger *slog.Logger
}

var _ Controller = (*TransmissionClient)(nil)

// NewTransmissionClient connects to the daemon at cfg.URL and applies
// the configured session settings.
func NewTransmissionClient(ctx context.Context, cfg TransmissionConfig, logger *slog.Logger) (*TransmissionClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, &Error{Kind: KindOther, Op: "connect", Err: fmt.Errorf("parsing endpoint %q: %w", cfg.URL, err)}
	}
	if cfg.Username != "" {
		endpoint.User = url.UserPassword(cfg.Username, cfg.Password)
	}

	rpc, err := transmissionrpc.New(endpoint, nil)
	if err != nil {
		return nil, classify("connect", err)
	}

	c := &TransmissionClient{rpc: rpc, logger: logger}
	if cfg.DownloadQueueSize > 0 {
		if err := c.configureQueue(ctx, cfg.DownloadQueueSize); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *TransmissionClient) configureQueue(ctx context.Context, size int64) error {
	enabled := true
	incomplete := false
	args := transmissionrpc.SessionArguments{
		DownloadQueueEnabled: &enabled,
		DownloadQueueSize:    &size,
		IncompleteDirEnabled: &incomplete,
	}
	if err := c.rpc.SessionArgumentsSet(ctx, args); err != nil {
		return classify("configure-session", err)
	}
	c.logger.Debug("download queue configured", "size", size)
	return nil
}

func (c *TransmissionClient) Add(ctx context.Context, torrentFile string) (Torrent, error) {
	t, err := c.rpc.TorrentAddFile(ctx, torrentFile)
	if err != nil {
		return Torrent{}, classify("add", err)
	}
	added := fromRPC(t)
	c.logger.Info("torrent added", "name", added.Name, "hash", added.Hash)
	return added, nil
}

func (c *TransmissionClient) Stop(ctx context.Context, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	if err := c.rpc.TorrentStopHashes(ctx, hashes); err != nil {
		return classify("stop", err)
	}
	return nil
}

func (c *TransmissionClient) List(ctx context.Context) ([]Torrent, error) {
	records, err := c.rpc.TorrentGetAll(ctx)
	if err != nil {
		return nil, classify("list", err)
	}
	torrents := make([]Torrent, 0, len(records))
	for _, r := range records {
		torrents = append(torrents, fromRPC(r))
	}
	return torrents, nil
}

func (c *TransmissionClient) Peers(ctx context.Context, hash string) (Peers, error) {
	records, err := c.rpc.TorrentGetAllForHashes(ctx, []string{hash})
	if err != nil {
		return Peers{}, classify("peers", err)
	}
	if len(records) == 0 {
		return Peers{}, &Error{Kind: KindOther, Op: "peers", Err: fmt.Errorf("no torrent with hash %s", hash)}
	}
	return peersFromRPC(records[0]), nil
}

func (c *TransmissionClient) Remove(ctx context.Context, hashes []string, deleteLocalData bool) error {
	if len(hashes) == 0 {
		return nil
	}
	// torrent-remove takes numeric IDs, so resolve the hashes first.
	records, err := c.rpc.TorrentGetAllForHashes(ctx, hashes)
	if err != nil {
		return classify("remove", err)
	}
	if len(records) == 0 {
		return &Error{Kind: KindOther, Op: "remove", Err: fmt.Errorf("no torrents match %v", hashes)}
	}
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		if r.ID != nil {
			ids = append(ids, *r.ID)
		}
	}
	payload := transmissionrpc.TorrentRemovePayload{
		IDs:             ids,
		DeleteLocalData: deleteLocalData,
	}
	if err := c.rpc.TorrentRemove(ctx, payload); err != nil {
		return classify("remove", err)
	}
	c.logger.Info("torrents removed", "count", len(ids), "delete_local_data", deleteLocalData)
	return nil
}

func (c *TransmissionClient) Stats(ctx context.Context) (SessionStats, error) {
	s, err := c.rpc.SessionStats(ctx)
	if err != nil {
		return SessionStats{}, classify("stats", err)
	}
	return statsFromRPC(s), nil
}
