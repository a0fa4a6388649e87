package motion

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/srtlab/acu_interface/acu"
	"github.com/srtlab/acu_interface/scan"
)

// PointSource produces batches of track points; Next returns false
// when the source is exhausted.  Both *scan.ConstantVelocityScan and
// *scan.FileScan implement it.
type PointSource interface {
	Next() ([]scan.TrackPoint, bool)
}

// StreamConfig tunes the upload protocol.  Zero values take the
// defaults.
type StreamConfig struct {
	// BatchSize is the preferred number of lines per upload command.
	BatchSize int

	// MinReserve is the stack headroom always left free; LoopMargin
	// covers the points the mount consumes during one poll cycle.
	MinReserve int
	LoopMargin int

	PollInterval time.Duration

	// SettleDelay is the pause before the exit clear-stack command.
	SettleDelay time.Duration

	// TimeOffset is added to point timestamps when rendering lines,
	// for generator-relative sources that should run at wall clock
	// plus a margin.
	TimeOffset float64
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.BatchSize == 0 {
		c.BatchSize = 500
	}
	if c.MinReserve == 0 {
		c.MinReserve = 100
	}
	if c.LoopMargin == 0 {
		c.LoopMargin = 100
	}
	if c.PollInterval == 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = time.Second
	}
	return c
}

type streamMode int

const (
	streamGo streamMode = iota
	streamStop
	streamAbort
)

// TrackStreamer uploads a point source to the mount's bounded
// ProgramTrack stack, observing free-position backpressure, group
// flags, fault bits, and mode changes.  The azimuth axis must already
// be in ProgramTrack mode.
type TrackStreamer struct {
	cfg      StreamConfig
	provider StatusProvider
	cmd      Commander
	source   PointSource

	queue         []scan.TrackPoint
	loggedFaults  map[string]bool
	sourceDrained bool
}

func NewTrackStreamer(source PointSource, cfg StreamConfig, provider StatusProvider, cmd Commander) *TrackStreamer {
	return &TrackStreamer{
		cfg:          cfg.withDefaults(),
		provider:     provider,
		cmd:          cmd,
		source:       source,
		loggedFaults: map[string]bool{},
	}
}

// Run streams until the source is exhausted and the stack has drained,
// or until an abort trigger fires.  On every exit the stack is
// cleared after a settling delay.
func (s *TrackStreamer) Run(ctx context.Context, abort <-chan struct{}) Outcome {
	mode := streamGo
	outcome := Outcome{Success: true, Message: "Track complete."}

	setAbort := func(aborted bool, message string) {
		if mode != streamAbort {
			log.Printf("track streamer: %s", message)
			mode = streamAbort
			outcome = Outcome{Success: false, Aborted: aborted, Message: message}
		}
	}

	margin := s.cfg.MinReserve + s.cfg.LoopMargin
	refill := acu.FullStack - max(margin, s.cfg.BatchSize)
	target := acu.FullStack - 2*margin

	ctxDone := ctx.Done()
	for {
		select {
		case <-ctxDone:
			setAbort(true, "Streaming canceled.")
			ctxDone, abort = nil, nil
		case <-abort:
			setAbort(true, "Stop requested.")
			ctxDone, abort = nil, nil
		case <-time.After(s.cfg.PollInterval):
		}
		if mode == streamAbort {
			break
		}

		status, ok := s.provider.Latest()
		if !ok {
			setAbort(false, "Telemetry lost.")
			break
		}
		s.watchFaults(status)
		if !status.RemoteMode {
			setAbort(false, "Remote mode lost.")
			break
		}
		if status.Azimuth.Mode != acu.ModeProgramTrack {
			setAbort(false, "Axis mode changed; streaming stopped.")
			break
		}

		if mode == streamGo {
			s.pull()
			if s.sourceDrained && len(s.queue) == 0 {
				mode = streamStop
			}
		}

		free := status.FreeUploadPositions
		if len(s.queue) > 0 && free >= refill {
			n := s.take(free, target)
			if n > 0 {
				lines := scan.RenderLines(s.queue[:n], s.cfg.TimeOffset)
				if err := s.cmd.UploadTrack(lines); err != nil {
					setAbort(false, "Upload failed: "+err.Error()+".")
					break
				}
				s.queue = s.queue[n:]
			}
		}

		if mode == streamStop && len(s.queue) == 0 && free >= acu.FullStack-s.cfg.MinReserve {
			break
		}
	}

	if mode == streamAbort {
		s.queue = nil
	}
	time.Sleep(s.cfg.SettleDelay)
	if err := s.cmd.ClearStack(); err != nil {
		log.Printf("track streamer: clearing stack: %v", err)
	}
	return outcome
}

// pull refills the local queue from the source until it can satisfy a
// full upload batch.
func (s *TrackStreamer) pull() {
	for !s.sourceDrained && len(s.queue) < s.cfg.BatchSize {
		pts, ok := s.source.Next()
		if !ok {
			s.sourceDrained = true
			return
		}
		s.queue = append(s.queue, pts...)
	}
}

// take decides how many queued points to upload: enough to bring the
// onboard stack to the target level, extended so a group-flagged run
// is never split, and never more than the free positions.
func (s *TrackStreamer) take(free, targetLevel int) int {
	occupied := acu.FullStack - free
	n := min(targetLevel-occupied, len(s.queue))
	if n <= 0 {
		return 0
	}
	for n < len(s.queue) && s.queue[n-1].Group {
		n++
	}
	if n > free {
		// The group run does not fit yet; wait for the stack to
		// drain rather than split it.
		return 0
	}
	return n
}

func (s *TrackStreamer) watchFaults(status acu.Status) {
	for _, f := range status.Faults() {
		if !s.loggedFaults[f] {
			s.loggedFaults[f] = true
			log.Printf("track streamer: fault raised: %s", f)
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// StreamStartOffset computes the TimeOffset for a generator-relative
// source so its first point lands slightly in the future.
func StreamStartOffset(first scan.TrackPoint, lead float64) float64 {
	return math.Round(float64(time.Now().UnixNano())/1e9) + lead - first.Timestamp
}
