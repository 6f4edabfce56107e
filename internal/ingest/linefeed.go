package ingest

import (
	"bufio"
	"context"
	"io"

	"github.com/banshee-data/simstats/internal/monitoring"
)

// maxLine bounds one newline-delimited record.
const maxLine = 1 << 20

// LineFeed routes newline-delimited JSON records read from r (a file,
// stdin or a serial port) until EOF or ctx is done. Malformed lines are
// logged and skipped.
func LineFeed(ctx context.Context, r io.Reader, router *Router) error {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 64<<10), maxLine)

	lineChan := make(chan []byte)
	scanErrChan := make(chan error, 1)

	// The blocking Scan runs in its own goroutine so cancellation is not
	// held up by a quiet reader.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			line := append([]byte(nil), scan.Bytes()...)
			select {
			case lineChan <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	lineNo := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return err
				default:
					return nil
				}
			}
			lineNo++
			if err := router.Route(line); err != nil {
				monitoring.Logf("[ingest] line %d: %v", lineNo, err)
			}
		}
	}
}
