// Package torrent provides a control client for a Transmission
// daemon: adding, stopping, listing, and removing torrents, session
// statistics, and .torrent file creation.
package torrent

import (
	"context"
	"time"
)

// Status is a torrent's activity state as reported by the daemon.
type Status string

const (
	StatusStopped      Status = "stopped"
	StatusCheckWait    Status = "check-wait"
	StatusChecking     Status = "checking"
	StatusDownloadWait Status = "download-wait"
	StatusDownloading  Status = "downloading"
	StatusSeedWait     Status = "seed-wait"
	StatusSeeding      Status = "seeding"
	StatusUnknown      Status = "unknown"
)

// Torrent describes a single torrent known to the daemon.
type Torrent struct {
	ID            int64
	Hash          string
	Name          string
	DownloadDir   string
	Status        Status
	PercentDone   float64
	SizeBytes     int64
	EtaSeconds    int64
	AddedAt       time.Time
	QueuePosition int64
	Finished      bool
	Stalled       bool
	Private       bool
}

// Peers summarizes a torrent's peer connections.
type Peers struct {
	Connected     int64
	GettingFromUs int64
	SendingToUs   int64
	Webseeds      int64
	Limit         int64
}

// StatsDetails holds the per-window counters of session statistics.
type StatsDetails struct {
	DownloadedBytes int64
	UploadedBytes   int64
	FilesAdded      int64
	SessionCount    int64
	ActiveSeconds   int64
}

// SessionStats is a snapshot of daemon-wide transfer statistics.
type SessionStats struct {
	ActiveTorrents int64
	PausedTorrents int64
	TotalTorrents  int64
	DownloadSpeed  int64
	UploadSpeed    int64
	Current        StatsDetails
	Cumulative     StatsDetails
}

// Controller is the torrent-control surface. Hashes are the torrents'
// info hashes in hex.
type Controller interface {
	// Add registers the .torrent file at the given local path.
	Add(ctx context.Context, torrentFile string) (Torrent, error)
	// Stop pauses the torrents with the given hashes.
	Stop(ctx context.Context, hashes []string) error
	// List returns every torrent the daemon knows about.
	List(ctx context.Context) ([]Torrent, error)
	// Peers reports the peer summary for one torrent.
	Peers(ctx context.Context, hash string) (Peers, error)
	// Remove deletes the torrents; deleteLocalData also removes their
	// downloaded files.
	Remove(ctx context.Context, hashes []string, deleteLocalData bool) error
	// Stats returns daemon-wide statistics.
	Stats(ctx context.Context) (SessionStats, error)
}
