package push

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const tailPollInterval = 2 * time.Second

// TailLog streams the JSON-Lines in path as log_tail events until ctx is
// cancelled: the lines already present on the first poll, then every line
// appended after. If the file shrinks below the last-known offset, a
// rotation is assumed and the offset resets to zero.
func (c *Channel) TailLog(ctx context.Context, path string) {
	var offset int64

	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if info.Size() < offset {
				offset = 0
			}
			if info.Size() == offset {
				continue
			}

			f, err := os.Open(path)
			if err != nil {
				continue
			}
			newOffset := readDelta(f, offset, c)
			f.Close()
			offset = newOffset
		}
	}
}

func readDelta(f *os.File, offset int64, c *Channel) int64 {
	if _, err := f.Seek(offset, 0); err != nil {
		return offset
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var consumed int64 = offset
	for scanner.Scan() {
		line := scanner.Bytes()
		consumed += int64(len(line)) + 1

		var payload any
		if err := json.Unmarshal(line, &payload); err != nil {
			payload = map[string]any{"raw": string(line)}
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		c.Broadcast("log_tail", encoded)
	}
	return consumed
}

// OverviewUpdate encodes and broadcasts a dashboard snapshot.
func (c *Channel) OverviewUpdate(snapshot map[string]any) error {
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode overview snapshot: %w", err)
	}
	c.Broadcast("overview_update", encoded)
	return nil
}
