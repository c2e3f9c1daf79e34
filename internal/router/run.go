package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"firestige.xyz/vrouter/internal/core"
)

type inbound struct {
	iface int
	frame []byte
}

// receiveRetryDelay paces a link that keeps failing with a transient error.
const receiveRetryDelay = 100 * time.Millisecond

// Run starts one reader per link and processes frames and console lines
// until ctx is done. Each line from lines is passed to onLine on the
// processing goroutine. A closed lines channel stops console input only.
func (r *Router) Run(ctx context.Context, lines <-chan string, onLine func(string)) error {
	frames := make(chan inbound, 64)
	var wg sync.WaitGroup
	for i := range r.links {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			r.readLink(ctx, idx, frames)
		}(i)
	}
	defer wg.Wait()

	slog.Info("router started", "interfaces", len(r.ifaces), "routes", len(r.routes.Routes()))
	for {
		select {
		case <-ctx.Done():
			slog.Info("router stopped")
			return nil
		case in := <-frames:
			r.HandleFrame(in.iface, in.frame)
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if onLine != nil {
				onLine(line)
			}
		}
	}
}

func (r *Router) readLink(ctx context.Context, idx int, frames chan<- inbound) {
	l := r.links[idx]
	name := r.ifaces[idx].String()
	for {
		frame, err := l.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, core.ErrLinkClosed) {
				slog.Debug("link reader exiting", "interface", name, "error", err)
				return
			}
			slog.Warn("link receive failed", "interface", name, "error", err)
			select {
			case <-time.After(receiveRetryDelay):
				continue
			case <-ctx.Done():
				return
			}
		}
		select {
		case frames <- inbound{iface: idx, frame: frame}:
		case <-ctx.Done():
			return
		}
	}
}
