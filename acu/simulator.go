package acu

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/srtlab/acu_interface/scan"
)

// Simulator implements the ACU protocol with simple axis dynamics:
// Preset slews toward the target at a fixed velocity, ProgramTrack
// consumes stack points as their timestamps come due.
type Simulator struct {
	// MaxVelocity is the Preset slew rate in degrees/second.
	MaxVelocity float64

	conn io.ReadWriteCloser

	mu     sync.Mutex
	axes   map[string]*simAxis
	stack  []trackEntry
	remote bool
	faults map[string]bool
	now    func() time.Time
}

type simAxis struct {
	mode   string
	pos    float64
	vel    float64
	target float64
}

type trackEntry struct {
	t            time.Time
	az, el       float64
	azVel, elVel float64
}

const simStep = 25 * time.Millisecond

// NewSimulator returns a simulator wired to one end of a pipe; speak
// the protocol on the returned conn.  Run must be started for the
// dynamics and the reader to operate.
func NewSimulator() (*Simulator, net.Conn) {
	a, b := net.Pipe()
	s := newSimulator()
	s.conn = a
	return s, b
}

func newSimulator() *Simulator {
	return &Simulator{
		MaxVelocity: 6,
		axes: map[string]*simAxis{
			AxisAzimuth:   {mode: ModeStop, pos: 90},
			AxisElevation: {mode: ModeStop, pos: 60},
			AxisBoresight: {mode: ModeStop},
		},
		remote: true,
		faults: map[string]bool{},
		now:    time.Now,
	}
}

// Run steps the dynamics and serves the pipe connection until the
// context ends.
func (s *Simulator) Run(ctx context.Context) error {
	defer s.conn.Close()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.stepLoop(ctx) })
	g.Go(func() error { return s.serveConn(s.conn) })
	return g.Wait()
}

// Serve steps the dynamics and accepts protocol connections on the
// listener; all connections share one simulated mount.
func Serve(ctx context.Context, lis net.Listener) error {
	s := newSimulator()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.stepLoop(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		return lis.Close()
	})
	g.Go(func() error {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return err
			}
			log.Printf("simulator: connection from %s", conn.RemoteAddr())
			go func() {
				defer conn.Close()
				if err := s.serveConn(conn); err != nil {
					log.Printf("simulator: %v", err)
				}
			}()
		}
	})
	return g.Wait()
}

func (s *Simulator) stepLoop(ctx context.Context) error {
	t := time.NewTicker(simStep)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		s.step()
	}
}

func (s *Simulator) step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	for _, ax := range s.axes {
		switch ax.mode {
		case ModePreset:
			delta := ax.target - ax.pos
			maxStep := s.MaxVelocity * simStep.Seconds()
			if math.Abs(delta) <= maxStep {
				ax.pos = ax.target
				ax.vel = 0
			} else {
				ax.vel = math.Copysign(s.MaxVelocity, delta)
				ax.pos += ax.vel * simStep.Seconds()
			}
		case ModeProgramTrack:
			// Handled below; the stack is shared between az and el.
		default:
			ax.vel = 0
		}
	}

	az, el := s.axes[AxisAzimuth], s.axes[AxisElevation]
	if az.mode != ModeProgramTrack && el.mode != ModeProgramTrack {
		return
	}
	due := -1
	for i, e := range s.stack {
		if e.t.After(now) {
			break
		}
		due = i
	}
	if due < 0 {
		return
	}
	e := s.stack[due]
	s.stack = s.stack[due+1:]
	if az.mode == ModeProgramTrack {
		az.pos, az.vel = e.az, e.azVel
	}
	if el.mode == ModeProgramTrack {
		el.pos, el.vel = e.el, e.elVel
	}
}

func (s *Simulator) serveConn(conn io.ReadWriteCloser) error {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		input := scanner.Text()
		resp := s.handle(input, scanner)
		if _, err := fmt.Fprintf(conn, "%s\r\n", resp); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading connection: %w", err)
	}
	return nil
}

const (
	ackExecuted = "OK, Command executed."
	ackSend     = "OK, Command send."
)

func (s *Simulator) handle(input string, scanner *bufio.Scanner) string {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return "Failed: empty command."
	}
	cmd := parts[0]

	if cmd == "STATUS" {
		return s.statusLine()
	}

	s.mu.Lock()
	remote := s.remote
	s.mu.Unlock()
	if !remote {
		// Track uploads still need their payload consumed.
		if cmd == "TRACK" && len(parts) == 2 {
			if n, err := strconv.Atoi(parts[1]); err == nil {
				s.readTrack(scanner, n)
			}
		}
		return "Failed: ACU not in remote mode."
	}

	switch cmd {
	case "MODE":
		if len(parts) != 3 {
			return "Failed: bad MODE command."
		}
		return s.setMode(parts[1], parts[2])
	case "GOTO":
		if len(parts) != 3 {
			return "Failed: bad GOTO command."
		}
		pos, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return "Failed: bad GOTO position."
		}
		return s.goTo(parts[1], pos)
	case "TRACK":
		if len(parts) != 2 {
			return "Failed: bad TRACK command."
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 0 {
			return "Failed: bad TRACK count."
		}
		entries, err := s.readTrack(scanner, n)
		if err != nil {
			return fmt.Sprintf("Failed: %v.", err)
		}
		return s.pushTrack(entries)
	case "CLEARSTACK":
		s.mu.Lock()
		s.stack = nil
		s.mu.Unlock()
		return ackExecuted
	case "CLEARFAULTS":
		s.mu.Lock()
		s.faults = map[string]bool{}
		s.mu.Unlock()
		return ackExecuted
	}
	return "Failed: unknown command."
}

func (s *Simulator) setMode(axis, mode string) string {
	switch mode {
	case ModeStop, ModePreset, ModeProgramTrack:
	default:
		return "Failed: unknown mode."
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if axis == AxisAll {
		for _, ax := range s.axes {
			ax.mode = mode
		}
		return ackExecuted
	}
	ax, ok := s.axes[axis]
	if !ok {
		return "Failed: unknown axis."
	}
	ax.mode = mode
	return ackExecuted
}

func (s *Simulator) goTo(axis string, pos float64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ax, ok := s.axes[axis]
	if !ok {
		return "Failed: unknown axis."
	}
	ax.target = pos
	return ackExecuted
}

func (s *Simulator) readTrack(scanner *bufio.Scanner, n int) ([]trackEntry, error) {
	entries := make([]trackEntry, 0, n)
	for i := 0; i < n; i++ {
		if !scanner.Scan() {
			return nil, fmt.Errorf("short track upload (%d of %d lines)", i, n)
		}
		e, err := parseTrackLine(scanner.Text(), s.now())
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Simulator) pushTrack(entries []trackEntry) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack)+len(entries) > FullStack {
		return "Failed: upload rejected, stack full."
	}
	s.stack = append(s.stack, entries...)
	sort.SliceStable(s.stack, func(i, j int) bool {
		return s.stack[i].t.Before(s.stack[j].t)
	})
	return ackSend
}

// parseTrackLine decodes one upload line back into a stack entry.
func parseTrackLine(line string, now time.Time) (trackEntry, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), ";")
	if len(fields) != 7 {
		return trackEntry{}, fmt.Errorf("bad track point (%d fields)", len(fields))
	}
	var doy, h, m, sec, us int
	if _, err := fmt.Sscanf(strings.TrimSpace(fields[0]), "%d, %d:%d:%d.%d", &doy, &h, &m, &sec, &us); err != nil {
		return trackEntry{}, fmt.Errorf("bad track timestamp %q", fields[0])
	}
	acutime := float64(doy) + (float64(h*3600+m*60+sec)+float64(us)/1e6)/scan.Day

	var e trackEntry
	e.t = time.Unix(0, int64(scan.Timecode(acutime, now)*1e9)).UTC()
	for i, dest := range []*float64{&e.az, &e.el, &e.azVel, &e.elVel} {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[1+i]), 64)
		if err != nil {
			return trackEntry{}, fmt.Errorf("bad track field %q", fields[1+i])
		}
		*dest = v
	}
	return e, nil
}

func (s *Simulator) statusLine() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	midnight := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	acutime := now.Sub(midnight).Seconds()/scan.Day + 1

	b01 := func(v bool) int {
		if v {
			return 1
		}
		return 0
	}
	var fields []string
	add := func(key string, format string, v interface{}) {
		fields = append(fields, fmt.Sprintf("%s="+format, key, v))
	}
	for _, name := range []string{AxisAzimuth, AxisElevation, AxisBoresight} {
		ax := s.axes[name]
		add(name+"_mode", "%s", ax.mode)
		add(name+"_current_position", "%.6f", ax.pos)
		add(name+"_current_velocity", "%.6f", ax.vel)
	}
	add("Time", "%.8f", acutime)
	add("Year", "%d", now.Year())
	add("Free_upload_positions", "%d", FullStack-len(s.stack))
	add("Remote_mode", "%d", b01(s.remote))
	add("Azimuth_position_failure", "%d", b01(s.faults["Azimuth_position_failure"]))
	add("Track_start_too_early", "%d", b01(s.faults["Track_start_too_early"]))
	add("Turnaround_accel_too_high", "%d", b01(s.faults["Turnaround_accel_too_high"]))
	add("Turnaround_time_too_short", "%d", b01(s.faults["Turnaround_time_too_short"]))
	return strings.Join(fields, "; ")
}

// SetRemote switches the simulated remote/local key.  Commands other
// than STATUS fail in local mode.
func (s *Simulator) SetRemote(remote bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = remote
}

// SetFault raises or clears a named fault bit.
func (s *Simulator) SetFault(name string, set bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[name] = set
}

// SetPosition teleports an axis; for tests.
func (s *Simulator) SetPosition(axis string, pos float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ax, ok := s.axes[axis]; ok {
		ax.pos = pos
	}
}

// Position reports an axis position; for tests.
func (s *Simulator) Position(axis string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ax, ok := s.axes[axis]; ok {
		return ax.pos
	}
	return math.NaN()
}

// StackDepth reports the number of pending track points.
func (s *Simulator) StackDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}
