package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/datacq/livescope"
	"github.com/datacq/livescope/internal/acqdb"
)

var githash = "githash not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err2 := os.MkdirAll(dir, 0775); err2 != nil {
			return "", err2
		}
	}
	fullname := path.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find
// config files and the filename and suffix. Sets some defaults.
func setupViper() error {
	viper.SetDefault("Verbose", false)
	viper.SetDefault("QueueSize", 1)
	viper.SetDefault("PacingFactor", livescope.DefaultPacingFactor)
	viper.SetDefault("ReportInterval", time.Second)
	viper.SetDefault("MaxProcs", 0)

	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotDir := filepath.Join(home, ".livescope")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotDir, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/livescope"))
	viper.AddConfigPath(dotDir)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	probFile, err := os.OpenFile(pfname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		panic(fmt.Sprintf("Could not open log file '%s'", pfname))
	}
	probLogger := log.New(probFile, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return probLogger
}

// decodeChannels turns "12" into []int{1, 2}.
func decodeChannels(arg string) []int {
	var chans []int
	for ch := 1; ch <= 4; ch++ {
		if strings.ContainsRune(arg, rune('0'+ch)) {
			chans = append(chans, ch)
		}
	}
	return chans
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	livescope.Build.Date = buildDate
	livescope.Build.Githash = githash

	printVersion := flag.Bool("version", false, "print version and quit")
	chanArg := flag.String("C", "1", "instrument channels to acquire, e.g. \"12\"")
	host := flag.String("addr", "", "hostname or IP of the oscilloscope")
	port := flag.Int("port", livescope.DefaultSDSPort, "SCPI port the oscilloscope listens on")
	serialDev := flag.String("serial", "", "serial device of the oscilloscope (overrides -addr)")
	baud := flag.Int("baud", 0, "serial baud rate (0 = 115200)")
	simulate := flag.Bool("sim", false, "acquire a simulated FM sine instead of an instrument")
	fps := flag.Bool("fps", false, "report waveform updates per second")
	timestamp := flag.Bool("timestamp", false, "timestamp each packet at enqueue")
	rawMode := flag.Bool("raw", false, "fetch raw display codes without calibration")
	npyDir := flag.String("npy", "", "directory to save each waveform as a .npy file")
	publish := flag.Bool("publish", false, "publish packets on the ZMQ packet port")
	useDB := flag.Bool("db", false, "record the session in ClickHouse")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is livescope version %s\n", livescope.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		os.Exit(0)
	}

	if err := setupViper(); err != nil {
		panic(err)
	}
	if mp := viper.GetInt("MaxProcs"); mp > 0 {
		// Performance knob only; none of the pipeline contracts depend on it.
		runtime.GOMAXPROCS(mp)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	problemname, err := makeFileExist(filepath.Join(home, ".livescope", "logs"), "problems.log")
	if err != nil {
		panic(err)
	}
	livescope.ProblemLogger = startLogger(problemname)
	fmt.Printf("Logging problems to %s\n", problemname)

	channels := decodeChannels(*chanArg)
	reportInterval := time.Duration(0)
	if *fps {
		reportInterval = viper.GetDuration("ReportInterval")
	}

	var src livescope.DataSource
	var sourceName string
	switch {
	case *simulate:
		src = livescope.NewFMSineSource()
		sourceName = "fmsine"
	case *serialDev != "":
		client, err := livescope.NewSerialSCPIClient(*serialDev, *baud)
		if err != nil {
			log.Fatal(err)
		}
		sds := livescope.NewSDS(client, viper.GetFloat64("PacingFactor"))
		s, err := livescope.NewSDSSource(sds, channels)
		if err != nil {
			log.Fatal(err)
		}
		s.Raw = *rawMode
		src = s
		sourceName = "sds:" + *serialDev
	case *host != "":
		client := livescope.NewSCPIClient(*host, *port)
		sds := livescope.NewSDS(client, viper.GetFloat64("PacingFactor"))
		s, err := livescope.NewSDSSource(sds, channels)
		if err != nil {
			log.Fatal(err)
		}
		s.Raw = *rawMode
		src = s
		sourceName = fmt.Sprintf("sds:%s:%d", *host, *port)
	default:
		log.Fatal("need one of -addr, -serial or -sim")
	}

	abort := make(chan struct{})
	statusUpdates := make(chan livescope.StatusUpdate, 16)
	go livescope.RunStatusPublisher(statusUpdates, livescope.Ports.Status)

	db := acqdb.Dummy()
	var sessionID string
	statusSink := livescope.RateStatusSink(statusUpdates)
	loop, err := livescope.NewAcquisitionLoop(src, livescope.LoopConfig{
		Name:           sourceName,
		Capacity:       viper.GetInt("QueueSize"),
		AddTimestamp:   *timestamp,
		ReportInterval: reportInterval,
		RateSink: func(r livescope.Rate) {
			statusSink(r)
			db.RecordRate(&acqdb.RateMessage{
				SessionID: sessionID,
				Time:      time.Now(),
				Count:     r.Count,
				PerSecond: r.PerSecond,
			})
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	sessionID = loop.ID().String()

	if *useDB {
		hostname, _ := os.Hostname()
		db = acqdb.Start(&acqdb.SessionMessage{
			ID:         sessionID,
			Hostname:   hostname,
			Version:    livescope.Build.Version,
			SourceName: sourceName,
			Channels:   channels,
			Start:      time.Now(),
		}, abort)
	}

	var pubchan chan livescope.Packet
	if *publish {
		pubchan = make(chan livescope.Packet, 16)
		go func() {
			if err := livescope.PublishPackets(pubchan, abort, livescope.Ports.Packets); err != nil {
				livescope.ProblemLogger.Printf("packet publisher stopped: %v", err)
				// Keep draining so the consumer fanout below never wedges
				// on an unread channel.
				for range pubchan {
				}
			}
		}()
	}
	var npy *livescope.NPYWriter
	if *npyDir != "" {
		if npy, err = livescope.NewNPYWriter(*npyDir, loop.ID().String()); err != nil {
			log.Fatal(err)
		}
	}

	if err := loop.Start(); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Acquiring from %s (session %s). Ctrl-C to stop.\n", sourceName, loop.ID())

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		fmt.Println("\nStopping acquisition")
		loop.Stop()
	}()

	loop.Consume(func(pkt livescope.Packet) {
		if pubchan != nil {
			pubchan <- pkt
		}
		if npy != nil {
			if err := npy.WritePacket(pkt); err != nil {
				livescope.ProblemLogger.Printf("NPY write failed: %v", err)
			}
		}
	})

	close(abort)
	db.Wait()
	if err := loop.Err(); err != nil {
		log.Fatal(err)
	}
}
