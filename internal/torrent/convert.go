package torrent

import (
	"time"

	"github.com/hekmon/transmissionrpc/v3"
)

// The RPC library reports every field as a pointer because the daemon
// only returns what was asked for. The helpers below collapse missing
// fields to zero values.

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func i64Val(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func f64Val(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func boolVal(p *bool) bool {
	if p == nil {
		return false
	}
	return *p
}

func timeVal(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return *p
}

func statusName(p *transmissionrpc.TorrentStatus) Status {
	if p == nil {
		return StatusUnknown
	}
	switch *p {
	case transmissionrpc.TorrentStatusStopped:
		return StatusStopped
	case transmissionrpc.TorrentStatusCheckWait:
		return StatusCheckWait
	case transmissionrpc.TorrentStatusCheck:
		return StatusChecking
	case transmissionrpc.TorrentStatusDownloadWait:
		return StatusDownloadWait
	case transmissionrpc.TorrentStatusDownload:
		return StatusDownloading
	case transmissionrpc.TorrentStatusSeedWait:
		return StatusSeedWait
	case transmissionrpc.TorrentStatusSeed:
		return StatusSeeding
	default:
		return StatusUnknown
	}
}

func fromRPC(t transmissionrpc.Torrent) Torrent {
	out := Torrent{
		ID:            i64Val(t.ID),
		Hash:          strVal(t.HashString),
		Name:          strVal(t.Name),
		DownloadDir:   strVal(t.DownloadDir),
		Status:        statusName(t.Status),
		PercentDone:   f64Val(t.PercentDone),
		EtaSeconds:    i64Val(t.ETA),
		AddedAt:       timeVal(t.AddedDate),
		QueuePosition: i64Val(t.QueuePosition),
		Finished:      boolVal(t.IsFinished),
		Stalled:       boolVal(t.IsStalled),
		Private:       boolVal(t.IsPrivate),
	}
	if t.TotalSize != nil {
		out.SizeBytes = int64(t.TotalSize.Byte())
	}
	return out
}

func peersFromRPC(t transmissionrpc.Torrent) Peers {
	return Peers{
		Connected:     i64Val(t.PeersConnected),
		GettingFromUs: i64Val(t.PeersGettingFromUs),
		SendingToUs:   i64Val(t.PeersSendingToUs),
		Webseeds:      i64Val(t.WebSeedsSendingToUs),
		Limit:         i64Val(t.PeerLimit),
	}
}

func detailsFromRPC(d transmissionrpc.SessionStatsDetails) StatsDetails {
	return StatsDetails{
		DownloadedBytes: d.DownloadedBytes,
		UploadedBytes:   d.UploadedBytes,
		FilesAdded:      d.FilesAdded,
		SessionCount:    d.SessionCount,
		ActiveSeconds:   d.SecondsActive,
	}
}

func statsFromRPC(s transmissionrpc.SessionStats) SessionStats {
	return SessionStats{
		ActiveTorrents: s.ActiveTorrentCount,
		PausedTorrents: s.PausedTorrentCount,
		TotalTorrents:  s.TorrentCount,
		DownloadSpeed:  s.DownloadSpeed,
		UploadSpeed:    s.UploadSpeed,
		Current:        detailsFromRPC(s.CurrentStats),
		Cumulative:     detailsFromRPC(s.CumulativeStats),
	}
}
