package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/blindrelay/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   listen address (e.g., ":3000")
//	-d string   PostgreSQL DSN
//	-t int      authentication timeout, seconds
//	-r int      reaper interval, seconds
//	-l int      history fetch limit
//	-b int      abuse score threshold
//	-f bool     legacy history fallback (use -f=false to disable)
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgsWithBools, so the -c/-config flag stays with parseJson.
func parseFlags(config *Config) {
	args := flagx.FilterArgsWithBools(os.Args[1:],
		[]string{"-a", "-d", "-t", "-r", "-l", "-b", "-f"},
		[]string{"-f"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.ListenAddr, "a", config.ListenAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")

	authTimeout := fs.Int("t", int(config.AuthTimeout.Seconds()), "auth timeout (in seconds)")
	reaperInterval := fs.Int("r", int(config.ReaperInterval.Seconds()), "reaper interval (in seconds)")

	fs.IntVar(&config.HistoryLimit, "l", config.HistoryLimit, "history fetch limit")
	fs.IntVar(&config.AbuseThreshold, "b", config.AbuseThreshold, "abuse score ban threshold")
	fs.BoolVar(&config.LegacyHistoryFallback, "f", config.LegacyHistoryFallback, "replay receiver copy for legacy sent messages")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AuthTimeout = time.Duration(*authTimeout) * time.Second
	config.ReaperInterval = time.Duration(*reaperInterval) * time.Second
}
