// acuctl is the antenna control daemon: it connects to the ACU (or an
// in-process simulator), gates motion behind the drive power interlock
// and the sun-safety planner, and serves status and commands over HTTP
// and websocket.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/srtlab/acu_interface/acu"
	"github.com/srtlab/acu_interface/drivepower"
	"github.com/srtlab/acu_interface/sunsafe"
)

var (
	acuAddr    = flag.String("acu", "localhost:8100", "ACU address (host:port)")
	serialPort = flag.String("serial", "", "serial port name (overrides -acu)")
	serialBaud = flag.Int("baud", 19200, "serial baud rate")
	listen     = flag.String("listen", "127.0.0.1:8502", "HTTP listen address")
	simulate   = flag.Bool("simulate", false, "run against an in-process ACU simulator")
	policyPath = flag.String("policy", "", "sun avoidance policy YAML")
	siteLat    = flag.Float64("site-lat", sunsafe.DefaultSite.Lat, "site latitude, degrees")
	siteLon    = flag.Float64("site-lon", sunsafe.DefaultSite.Lon, "site longitude, degrees east")
	drivePort  = flag.String("drive-serial", "", "drive power cabinet serial port")
	driveBaud  = flag.Int("drive-baud", 19200, "drive power cabinet baud rate")
)

func main() {
	flag.Parse()
	ctx := context.Background()

	policy := sunsafe.DefaultPolicy()
	if *policyPath != "" {
		var err error
		policy, err = sunsafe.LoadPolicy(*policyPath)
		if err != nil {
			log.Fatalf("loading policy: %v", err)
		}
	}
	site := sunsafe.Site{Lat: *siteLat, Lon: *siteLon}

	srv := NewServer(nil)

	addr := *acuAddr
	if *simulate {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			log.Fatal(err)
		}
		go func() {
			if err := acu.Serve(ctx, lis); err != nil {
				log.Fatalf("simulator: %v", err)
			}
		}()
		addr = lis.Addr().String()
		log.Printf("simulating ACU on %s", addr)
	}

	var client *acu.Client
	var err error
	if *serialPort != "" {
		client, err = acu.ConnectSerial(ctx, *serialPort, *serialBaud, srv.acuStatusCallback)
	} else {
		client, err = acu.Connect(ctx, addr, srv.acuStatusCallback)
	}
	if err != nil {
		log.Fatalf("connecting to ACU: %v", err)
	}

	var drive *drivepower.DrivePower
	if *drivePort != "" {
		drive, err = drivepower.Connect(ctx, *drivePort, *driveBaud, srv.driveStatusCallback)
		if err != nil {
			log.Fatalf("connecting to drive cabinet: %v", err)
		}
	}

	srv.controller = NewController(client, drive, policy, site)

	r := mux.NewRouter()
	r.HandleFunc("/api/status", srv.StatusHandler)
	r.HandleFunc("/api/ws", srv.StatusSocketHandler)
	httpSrv := &http.Server{
		Handler:           r,
		Addr:              *listen,
		ReadHeaderTimeout: 15 * time.Second,
	}
	log.Printf("listening on %s", *listen)
	log.Fatal(httpSrv.ListenAndServe())
}
