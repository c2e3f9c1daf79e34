package console

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"firestige.xyz/vrouter/internal/core"
)

// MaxLineLength bounds one console line, excluding its terminator.
const MaxLineLength = 64 * 1024

// ReadLines reads r line by line onto the returned channel, which is closed
// at end of input. A trailing carriage return is stripped. Lines longer than
// MaxLineLength are discarded with a notice on out and reading continues.
func ReadLines(ctx context.Context, r io.Reader, out core.Printer) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		br := bufio.NewReader(r)
		for {
			line, err := readLine(br)
			switch {
			case len(line) > MaxLineLength:
				out.Printf("Input line longer than %d bytes discarded.", MaxLineLength)
			case err == nil || len(line) > 0:
				select {
				case lines <- string(line):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					slog.Warn("console input stopped", "error", err)
				}
				return
			}
		}
	}()
	return lines
}

// readLine returns the next line without its terminator. Once the line grows
// past MaxLineLength the rest of it is consumed but not kept.
func readLine(br *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := br.ReadSlice('\n')
		if len(line) <= MaxLineLength {
			line = append(line, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		line = bytes.TrimSuffix(line, []byte("\n"))
		line = bytes.TrimSuffix(line, []byte("\r"))
		return line, err
	}
}
