package link

import (
	"errors"
	"fmt"
	"net"
	"os"
)

func openUnixgram(raw map[string]any) (Link, error) {
	var opts socketOptions
	if err := decodeOptions(raw, &opts); err != nil {
		return nil, err
	}
	if opts.Local == "" {
		return nil, errors.New("unixgram link: local path is required")
	}
	// a stale socket file from a previous run blocks the bind
	if err := os.Remove(opts.Local); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("unixgram link: %w", err)
	}
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: opts.Local, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("unixgram link: %w", err)
	}
	if opts.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(opts.ReadBuffer); err != nil {
			conn.Close()
			return nil, fmt.Errorf("unixgram link: %w", err)
		}
	}
	l := &packetLink{conn: conn, onStop: func() { os.Remove(opts.Local) }}
	if opts.Remote != "" {
		l.remote = &net.UnixAddr{Name: opts.Remote, Net: "unixgram"}
	}
	return l, nil
}
