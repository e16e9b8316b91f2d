package livescope

import (
	"log"
	"os"
	"time"
)

// Portnumbers holds the TCP port numbers livescope publishes on.
type Portnumbers struct {
	Packets int // ZMQ PUB socket carrying dequeued packets
	Status  int // ZMQ PUB socket carrying status and rate updates
}

// Ports globally holds the TCP port numbers used by livescope.
var Ports Portnumbers

func setPortnumbers(base int) {
	Ports.Packets = base
	Ports.Status = base + 1
}

// BuildInfo can contain compile-time information about the build.
type BuildInfo struct {
	Version string
	Githash string
	Date    string
}

// Build is a global holding compile-time information about the build.
var Build = BuildInfo{
	Version: "0.1.0",
	Githash: "no git hash computed",
	Date:    "no build date computed",
}

// StartTime is a global holding the time init() was run.
var StartTime time.Time

// ProblemLogger logs warnings and rate reports. The livescope main program
// replaces it with a rotated file logger.
var ProblemLogger *log.Logger

func init() {
	setPortnumbers(6025)
	StartTime = time.Now()
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
}
