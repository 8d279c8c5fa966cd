// Command pose-replay feeds a recorded pose stream to a running
// dlstream instance, or anything else listening for pose datagrams.
// It reads an NDJSON recording or a pcap capture and sends one UDP
// datagram per frame, paced like the original stream.
//
// Usage:
//
//	go run ./cmd/pose-replay -file session.ndjson -target 127.0.0.1:9999
//
// Flags:
//
//	-target     UDP address to send to (default: 127.0.0.1:9999)
//	-file       NDJSON pose recording to replay
//	-pcap       pcap capture to replay instead
//	-pcap-port  UDP destination port filter for -pcap (0 accepts all)
//	-pace       Replay at the recorded frame timing (default: true)
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"os/signal"
	"syscall"

	"github.com/clementpouget/DeepLabStream/internal/pose"
	"github.com/clementpouget/DeepLabStream/internal/posestream"
)

func main() {
	target := flag.String("target", "127.0.0.1:9999", "UDP address to send pose frames to")
	file := flag.String("file", "", "NDJSON pose recording to replay")
	pcapFile := flag.String("pcap", "", "pcap capture to replay instead of -file")
	pcapPort := flag.Int("pcap-port", 0, "UDP destination port filter for -pcap, 0 accepts all")
	pace := flag.Bool("pace", true, "Replay at the recorded frame timing")
	flag.Parse()

	if (*file == "") == (*pcapFile == "") {
		log.Fatal("exactly one of -file or -pcap is required")
	}

	addr, err := net.ResolveUDPAddr("udp", *target)
	if err != nil {
		log.Fatalf("bad target address: %v", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		log.Fatalf("failed to dial %s: %v", *target, err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sent, dropped int
	send := func(f pose.Frame) {
		data, err := posestream.EncodeFrame(f)
		if err != nil {
			dropped++
			return
		}
		if _, err := conn.Write(data); err != nil {
			dropped++
			return
		}
		sent++
	}

	log.Printf("replaying to %s", *target)
	if *file != "" {
		err = posestream.Replay(ctx, posestream.ReplayConfig{
			Path:    *file,
			Pace:    *pace,
			Handler: send,
		})
	} else {
		err = posestream.ReplayPcap(ctx, posestream.PcapReplayConfig{
			Path:    *pcapFile,
			Port:    *pcapPort,
			Pace:    *pace,
			Handler: send,
		})
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("replay failed: %v", err)
	}
	log.Printf("replayed %d frames (%d dropped)", sent, dropped)
}
