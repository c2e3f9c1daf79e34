package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

// LokiConfig contains configuration for the Loki writer.
type LokiConfig struct {
	Endpoint      string            // push endpoint URL
	Labels        map[string]string // stream labels
	BatchSize     int               // entries per push
	FlushInterval string            // e.g. "5s"

	// OnError receives push failures. Defaults to a line on stderr.
	OnError func(error)
}

// LokiWriter is an io.Writer that batches lines and pushes them to Grafana
// Loki. Pushes happen when the batch fills, on a timer, and on Close.
type LokiWriter struct {
	endpoint      string
	labels        map[string]string
	batchSize     int
	flushInterval time.Duration
	client        *http.Client
	onError       func(error)

	mu     sync.Mutex
	batch  [][2]string
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

type lokiPush struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

// NewLokiWriter creates a writer and starts its flush loop.
func NewLokiWriter(cfg LokiConfig) (*LokiWriter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("loki endpoint is required")
	}
	interval := 5 * time.Second
	if cfg.FlushInterval != "" {
		d, err := time.ParseDuration(cfg.FlushInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid flush interval: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("flush interval must be positive, got %s", d)
		}
		interval = d
	}
	size := cfg.BatchSize
	if size <= 0 {
		size = 100
	}

	labels := make(map[string]string, len(cfg.Labels)+1)
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	if _, ok := labels["job"]; !ok {
		labels["job"] = "vrouter"
	}

	onError := cfg.OnError
	if onError == nil {
		onError = func(err error) {
			fmt.Fprintf(os.Stderr, "loki push failed: %v\n", err)
		}
	}

	w := &LokiWriter{
		endpoint:      cfg.Endpoint,
		labels:        labels,
		batchSize:     size,
		flushInterval: interval,
		client:        &http.Client{Timeout: 10 * time.Second},
		onError:       onError,
		batch:         make([][2]string, 0, size),
		stop:          make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Write queues one log line. The slog handlers emit one record per call.
func (w *LokiWriter) Write(p []byte) (int, error) {
	line := string(bytes.TrimRight(p, "\n"))
	ts := strconv.FormatInt(time.Now().UnixNano(), 10)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0, fmt.Errorf("loki writer is closed")
	}
	w.batch = append(w.batch, [2]string{ts, line})
	var full [][2]string
	if len(w.batch) >= w.batchSize {
		full = w.take()
	}
	w.mu.Unlock()

	if full != nil {
		w.push(full)
	}
	return len(p), nil
}

// Flush pushes whatever is queued.
func (w *LokiWriter) Flush() {
	w.mu.Lock()
	entries := w.take()
	w.mu.Unlock()
	w.push(entries)
}

// Close stops the flush loop and pushes the remaining entries.
func (w *LokiWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stop)
	w.wg.Wait()
	w.Flush()
	return nil
}

func (w *LokiWriter) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.Flush()
		case <-w.stop:
			return
		}
	}
}

// take detaches the current batch. Caller holds mu.
func (w *LokiWriter) take() [][2]string {
	if len(w.batch) == 0 {
		return nil
	}
	out := w.batch
	w.batch = make([][2]string, 0, w.batchSize)
	return out
}

func (w *LokiWriter) push(entries [][2]string) {
	if len(entries) == 0 {
		return
	}
	body, err := json.Marshal(lokiPush{Streams: []lokiStream{{Stream: w.labels, Values: entries}}})
	if err != nil {
		w.onError(fmt.Errorf("marshal push request: %w", err))
		return
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
		}
		if lastErr = w.send(body); lastErr == nil {
			return
		}
	}
	w.onError(fmt.Errorf("dropped %d entries: %w", len(entries), lastErr))
}

func (w *LokiWriter) send(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("loki returned status %d", resp.StatusCode)
	}
	return nil
}
