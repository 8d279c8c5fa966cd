package posestream

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"
)

// maxPaceDelay caps the gap honored between recorded frames, so a pause
// in the recording does not stall a replay for minutes.
const maxPaceDelay = time.Second

// ReplayConfig configures an NDJSON recording replay.
type ReplayConfig struct {
	// Path is the NDJSON file, one frame per line.
	Path string

	// Pace replays at the recorded timestamp intervals instead of as
	// fast as possible.
	Pace bool

	// Handler receives each decoded frame. Required.
	Handler Handler
}

// Replay feeds a recorded NDJSON pose stream to the handler. It returns
// when the file is exhausted or the context is cancelled.
func Replay(ctx context.Context, cfg ReplayConfig) error {
	if cfg.Handler == nil {
		return fmt.Errorf("pose replay needs a frame handler")
	}

	f, err := os.Open(cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	scan := bufio.NewScanner(f)
	scan.Buffer(make([]byte, 1<<20), 1<<20)

	var (
		frames       int
		decodeErrors int
		prev         time.Time
		start        = time.Now()
	)
	for scan.Scan() {
		line := scan.Bytes()
		if len(line) == 0 {
			continue
		}

		frame, err := DecodeFrame(line)
		if err != nil {
			decodeErrors++
			Diagf("skipping line %d: %v", frames+decodeErrors, err)
			continue
		}

		if cfg.Pace && !prev.IsZero() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(paceDelay(prev, frame.Timestamp)):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		prev = frame.Timestamp

		frames++
		cfg.Handler(frame)
	}
	if err := scan.Err(); err != nil {
		return fmt.Errorf("failed to read recording: %w", err)
	}
	if frames == 0 {
		return fmt.Errorf("no pose frames in %s", cfg.Path)
	}

	Opsf("replay of %s complete: %d frames, %d undecodable lines, %v elapsed",
		cfg.Path, frames, decodeErrors, time.Since(start).Round(time.Millisecond))
	return nil
}

// paceDelay converts the recorded gap between two frames into a sleep,
// clamped to [0, maxPaceDelay].
func paceDelay(prev, cur time.Time) time.Duration {
	d := cur.Sub(prev)
	if d < 0 {
		return 0
	}
	if d > maxPaceDelay {
		return maxPaceDelay
	}
	return d
}
