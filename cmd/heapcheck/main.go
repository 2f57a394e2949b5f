// ABOUTME: Command-line driver for the heap verification toolkit
// ABOUTME: Loads heap images and runs verification, location and bridge passes

// The heapcheck CLI loads a heap image, replays it into a simulated heap
// and runs the collector's verification passes over it.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/prateek/heapcheck"
)

func newApp() *cli.App {
	app := &cli.App{
		Name:    "heapcheck",
		Usage:   "Verify collector heap invariants over heap images",
		Version: heapcheck.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "Set log level (panic, fatal, error, warn, info, debug, trace)", EnvVars: []string{"HEAPCHECK_LOG_LEVEL"}},
			&cli.BoolFlag{Name: "json-logs", Usage: "Emit logs as JSON", EnvVars: []string{"HEAPCHECK_JSON_LOGS"}},
		},
		Before: setupLogging,
	}

	app.Commands = []*cli.Command{
		{
			Name:      "verify",
			Usage:     "Run verification passes over a heap image",
			ArgsUsage: "IMAGE",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "checks", Value: allChecks, Usage: "Comma separated passes to run", EnvVars: []string{"HEAPCHECK_CHECKS"}},
				&cli.BoolFlag{Name: "allow-missing-pinned", Usage: "Tolerate missing remembered-set entries for pinned targets in the whole-heap pass", EnvVars: []string{"HEAPCHECK_ALLOW_MISSING_PINNED"}},
				&cli.BoolFlag{Name: "dump-nursery", Usage: "Log every nursery object and hole while checking canaries", EnvVars: []string{"HEAPCHECK_DUMP_NURSERY"}},
				&cli.BoolFlag{Name: "nursery-must-be-pinned", Usage: "Require every nursery object to be pinned in the marked-heap pass", EnvVars: []string{"HEAPCHECK_NURSERY_MUST_BE_PINNED"}},
				&cli.BoolFlag{Name: "events", Usage: "Record violations and keep going instead of stopping at the first failed pass", EnvVars: []string{"HEAPCHECK_EVENTS"}},
				&cli.StringFlag{Name: "metrics-file", TakesFile: true, Usage: "Write violation counters in Prometheus text format to this file; implies --events", EnvVars: []string{"HEAPCHECK_METRICS_FILE"}},
			},
			Action: runVerify,
		},
		{
			Name:      "locate",
			Usage:     "Find every location holding a reference to an object",
			ArgsUsage: "IMAGE",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "object", Required: true, Usage: "Object id, id+offset or address to search for"},
				&cli.BoolFlag{Name: "conservative", Usage: "Compare every object word instead of following descriptors"},
				&cli.IntFlag{Name: "paths", Value: 0, Usage: "Also print up to this many referrer chains to roots"},
			},
			Action: runLocate,
		},
		{
			Name:      "describe",
			Usage:     "Explain what an address points at",
			ArgsUsage: "IMAGE",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "addr", Required: true, Usage: "Object id, id+offset or address to describe"},
			},
			Action: runDescribe,
		},
		{
			Name:      "bridge",
			Usage:     "Compare two SCC algorithms over the heap graph",
			ArgsUsage: "IMAGE",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{Name: "objects", Usage: "Restrict the graph to these object ids"},
			},
			Action: runBridge,
		},
	}
	return app
}

func setupLogging(c *cli.Context) error {
	level, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	if c.Bool("json-logs") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
