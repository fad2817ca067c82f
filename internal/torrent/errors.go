package torrent

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// Kind classifies controller failures so callers can distinguish a
// dead daemon from a bad torrent file without string matching.
type Kind string

const (
	KindNetwork        Kind = "network"
	KindUnauthorized   Kind = "unauthorized"
	KindServer         Kind = "server"
	KindInvalidTorrent Kind = "invalid_torrent"
	KindFilesystem     Kind = "filesystem"
	KindOther          Kind = "other"
)

// Error wraps a failure with its classification and the operation that
// produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("torrent %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, or KindOther when err does
// not carry one.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindOther
}

// classify folds an RPC or I/O failure into an Error. Transport
// failures rank as network, local file problems as filesystem, and
// daemon responses are inspected for the handful of messages worth
// distinguishing.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindOther

	var pathErr *os.PathError
	var netErr net.Error
	switch {
	case errors.As(err, &pathErr):
		kind = KindFilesystem
	case errors.Is(err, syscall.ECONNREFUSED), errors.As(err, &netErr):
		kind = KindNetwork
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized"):
			kind = KindUnauthorized
		case strings.Contains(msg, "invalid or corrupt"), strings.Contains(msg, "duplicate torrent"):
			kind = KindInvalidTorrent
		case strings.Contains(msg, "http error 5"), strings.Contains(msg, "internal server error"):
			kind = KindServer
		}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
