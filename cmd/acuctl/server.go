package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/srtlab/acu_interface/acu"
	"github.com/srtlab/acu_interface/drivepower"
	"github.com/srtlab/acu_interface/motion"
)

// Status is the composite snapshot published to clients.
type Status struct {
	ACU    acu.Status         `json:"acu"`
	Drive  *drivepower.Status `json:"drive,omitempty"`
	Busy   string             `json:"busy,omitempty"`
	Result *motion.Outcome    `json:"result,omitempty"`
}

type Server struct {
	controller *Controller

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     Status
}

func NewServer(controller *Controller) *Server {
	s := &Server{controller: controller}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	return s
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(status)
	if err != nil {
		log.Print(err)
		return
	}
	w.Write(data)
}

// Command is one JSON message on the websocket.
type Command struct {
	Command   string      `json:"command"`
	Azimuth   float64     `json:"azimuth"`
	Elevation float64     `json:"elevation"`
	Scan      ScanRequest `json:"scan"`
	Filename  string      `json:"filename"`
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	// Read and process incoming messages
	go func() {
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				cancel()
				conn.Close()
				break
			}
			s.dispatch(ctx, msg)
		}
	}()

	send := func(status Status) bool {
		data, err := json.Marshal(status)
		if err != nil {
			log.Print(err)
			return false
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return false
		}
		return true
	}

	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	if !send(status) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.statusMu.RLock()
		s.statusCond.Wait()
		status := s.status
		s.statusMu.RUnlock()
		if !send(status) {
			return
		}
	}
}

// dispatch starts long-running commands in their own goroutine; the
// controller's group lock rejects overlapping requests.
func (s *Server) dispatch(ctx context.Context, msg Command) {
	run := func(name string, op func() (motion.Outcome, error)) {
		go func() {
			if _, err := op(); err != nil {
				log.Printf("%s: %v", name, err)
			}
			s.publish()
		}()
	}

	switch msg.Command {
	case "go_to":
		run("go_to", func() (motion.Outcome, error) {
			return s.controller.GoTo(ctx, msg.Azimuth, msg.Elevation)
		})
	case "scan":
		run("scan", func() (motion.Outcome, error) {
			return s.controller.Scan(ctx, msg.Scan)
		})
	case "track":
		run("track", func() (motion.Outcome, error) {
			return s.controller.TrackFile(ctx, msg.Filename)
		})
	case "escape":
		run("escape", func() (motion.Outcome, error) {
			return s.controller.Escape(ctx)
		})
	case "stop":
		if err := s.controller.Stop(); err != nil {
			log.Printf("stop: %v", err)
		}
	case "clear_faults":
		if err := s.controller.ClearFaults(); err != nil {
			log.Printf("clear_faults: %v", err)
		}
	default:
		log.Printf("unknown command %q", msg.Command)
	}
}

// publish rebuilds the composite status and wakes the websocket
// writers.
func (s *Server) publish() {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st, ok := s.controller.client.Latest(); ok {
		s.status.ACU = st
	}
	if s.controller.drive != nil {
		if st, ok := s.controller.drive.Latest(); ok {
			s.status.Drive = &st
		}
	}
	busy, last := s.controller.Op()
	s.status.Busy = busy
	if last != (motion.Outcome{}) {
		out := last
		s.status.Result = &out
	}
	s.statusCond.Broadcast()
}

func (s *Server) acuStatusCallback(status acu.Status) {
	s.statusMu.Lock()
	s.status.ACU = status
	// The controller is wired up after the client connects.
	if s.controller != nil {
		busy, last := s.controller.Op()
		s.status.Busy = busy
		if last != (motion.Outcome{}) {
			out := last
			s.status.Result = &out
		}
	}
	s.statusMu.Unlock()
	s.statusCond.Broadcast()
}

func (s *Server) driveStatusCallback(status drivepower.Status) {
	s.statusMu.Lock()
	s.status.Drive = &status
	s.statusMu.Unlock()
	s.statusCond.Broadcast()
}
