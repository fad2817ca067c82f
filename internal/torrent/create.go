package torrent

import (
	"fmt"
	"os"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
)

// Piece size used for generated torrents. 256 KiB keeps piece counts
// reasonable for the directory sizes this tool handles.
const createPieceLength = 256 << 10

// CreateTorrentFile builds a .torrent describing the contents of
// folder and writes it to out. trackerURL becomes the announce URL
// when non-empty.
func CreateTorrentFile(folder, out, trackerURL string) error {
	info := metainfo.Info{PieceLength: createPieceLength}
	if err := info.BuildFromFilePath(folder); err != nil {
		return &Error{Kind: KindFilesystem, Op: "create", Err: fmt.Errorf("hashing %q: %w", folder, err)}
	}

	mi := metainfo.MetaInfo{
		CreatedBy:    "driftfs",
		CreationDate: time.Now().Unix(),
	}
	var err error
	mi.InfoBytes, err = bencode.Marshal(info)
	if err != nil {
		return &Error{Kind: KindInvalidTorrent, Op: "create", Err: err}
	}
	if trackerURL != "" {
		mi.Announce = trackerURL
	}

	f, err := os.Create(out)
	if err != nil {
		return &Error{Kind: KindFilesystem, Op: "create", Err: err}
	}
	if err := mi.Write(f); err != nil {
		f.Close()
		return &Error{Kind: KindFilesystem, Op: "create", Err: fmt.Errorf("writing %q: %w", out, err)}
	}
	if err := f.Close(); err != nil {
		return &Error{Kind: KindFilesystem, Op: "create", Err: err}
	}
	return nil
}
