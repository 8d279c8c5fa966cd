package posestream

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PcapReplayConfig configures replay of a pcap capture of the pose stream.
type PcapReplayConfig struct {
	// Path is the pcap capture file.
	Path string

	// Port filters to UDP datagrams with this destination port. Zero
	// accepts every UDP datagram in the capture.
	Port int

	// Pace replays at the capture timestamp intervals instead of as
	// fast as possible.
	Pace bool

	// Handler receives each decoded frame. Required.
	Handler Handler
}

// ReplayPcap feeds pose frames recovered from a UDP packet capture to the
// handler. The reader is pure Go, so captures replay anywhere the binary
// runs.
func ReplayPcap(ctx context.Context, cfg PcapReplayConfig) error {
	if cfg.Handler == nil {
		return fmt.Errorf("pcap replay needs a frame handler")
	}

	f, err := os.Open(cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read capture %s: %w", cfg.Path, err)
	}

	packetSource := gopacket.NewPacketSource(r, r.LinkType())

	var (
		packets      int
		frames       int
		decodeErrors int
		prev         time.Time
		start        = time.Now()
	)
	for {
		select {
		case <-ctx.Done():
			Opsf("pcap replay stopping (processed %d packets)", packets)
			return ctx.Err()

		case packet := <-packetSource.Packets():
			if packet == nil {
				// End of capture
				if frames == 0 {
					return fmt.Errorf("no pose frames in %s", cfg.Path)
				}
				Opsf("pcap replay of %s complete: %d packets, %d frames, %d undecodable, %v elapsed",
					cfg.Path, packets, frames, decodeErrors, time.Since(start).Round(time.Millisecond))
				return nil
			}
			packets++

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok {
				continue
			}
			if cfg.Port != 0 && int(udp.DstPort) != cfg.Port {
				continue
			}
			if len(udp.Payload) == 0 {
				continue
			}

			frame, err := DecodeFrame(udp.Payload)
			if err != nil {
				decodeErrors++
				Diagf("skipping packet %d: %v", packets, err)
				continue
			}

			// When pacing, prefer capture timestamps over the frame's
			// own clock: they reflect actual arrival spacing.
			if cfg.Pace {
				ts := packet.Metadata().Timestamp
				if !prev.IsZero() {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(paceDelay(prev, ts)):
					}
				}
				prev = ts
			}

			frames++
			cfg.Handler(frame)
		}
	}
}
