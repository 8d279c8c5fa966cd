// Package posestream ingests tracked pose frames from a UDP stream, an
// NDJSON recording, or a pcap capture of the UDP stream, and hands decoded
// frames to a single callback. One JSON object per datagram or line.
package posestream

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/clementpouget/DeepLabStream/internal/pose"
)

// wirePoint is a tracked coordinate on the wire. Untracked parts are
// null, since JSON has no NaN.
type wirePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type wireFrame struct {
	Seq       uint64                  `json:"frame"`
	Timestamp time.Time               `json:"timestamp"`
	Skeletons []map[string]*wirePoint `json:"skeletons"`
}

// DecodeFrame parses one pose datagram or NDJSON line.
func DecodeFrame(data []byte) (pose.Frame, error) {
	var wf wireFrame
	if err := json.Unmarshal(data, &wf); err != nil {
		return pose.Frame{}, fmt.Errorf("bad pose frame: %w", err)
	}

	frame := pose.Frame{
		Seq:       wf.Seq,
		Timestamp: wf.Timestamp,
		Skeletons: make([]pose.Skeleton, len(wf.Skeletons)),
	}
	for i, ws := range wf.Skeletons {
		skel := make(pose.Skeleton, len(ws))
		for part, pt := range ws {
			if pt == nil {
				skel[part] = pose.Point{X: math.NaN(), Y: math.NaN()}
				continue
			}
			skel[part] = pose.Point{X: pt.X, Y: pt.Y}
		}
		frame.Skeletons[i] = skel
	}
	return frame, nil
}

// EncodeFrame renders a frame for the wire. Untracked parts become null.
func EncodeFrame(frame pose.Frame) ([]byte, error) {
	wf := wireFrame{
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp,
		Skeletons: make([]map[string]*wirePoint, len(frame.Skeletons)),
	}
	for i, skel := range frame.Skeletons {
		ws := make(map[string]*wirePoint, len(skel))
		for part, pt := range skel {
			if !pt.Valid() {
				ws[part] = nil
				continue
			}
			ws[part] = &wirePoint{X: pt.X, Y: pt.Y}
		}
		wf.Skeletons[i] = ws
	}
	return json.Marshal(wf)
}
