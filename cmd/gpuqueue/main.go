// Command gpuqueue drives the submission core from several goroutines and
// reports what the pools did.
//
// Usage:
//
//	gpuqueue backends
//	gpuqueue -v stress --backend sim --producers 8 --frames 500 --latency 1ms
package main

import (
	"fmt"
	"os"

	_ "github.com/gogpu/wgpu/hal/allbackends"
	"github.com/urfave/cli"

	"github.com/gogpu/gpuqueue"
	_ "github.com/gogpu/gpuqueue/backend/wgpu"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "gpuqueue: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "gpuqueue"
	app.Usage = "exercise the GPU command submission core"
	app.Version = gpuqueue.Version
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "backends",
			Usage:  "list registered device backends",
			Action: listBackends,
		},
		{
			Name:  "stress",
			Usage: "record and submit frames from concurrent producers",
			Description: `
Frames are recorded in lockstep: for every frame each producer runs as a job
on a work-stealing pool. A producer begins a context, uploads a few bytes into its
own buffer, dispatches a compute pipeline when the backend can build one and
finishes the context. Odd producers use the async compute queue when the
device has one.

Completion tickets are fed to a timer that reports per-producer latency once
the device has finished each frame. Pool statistics are printed at the end.`,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:   "backend, b",
					Value:  "sim",
					Usage:  "device backend (see the backends command)",
					EnvVar: "GPUQUEUE_BACKEND",
				},
				cli.IntFlag{
					Name:  "producers, p",
					Value: 4,
					Usage: "number of recording goroutines",
				},
				cli.IntFlag{
					Name:  "frames, f",
					Value: 100,
					Usage: "frames per producer",
				},
				cli.DurationFlag{
					Name:  "latency",
					Usage: "simulated execution time per batch (sim backend only)",
				},
				cli.IntFlag{
					Name:  "workers, w",
					Usage: "recording goroutines; 0 uses GOMAXPROCS",
				},
				cli.IntFlag{
					Name:  "upload-page",
					Value: 2048,
					Usage: "upload page size in KiB",
				},
				cli.IntFlag{
					Name:  "heap-size",
					Value: 1024,
					Usage: "descriptors per shader-visible heap",
				},
				cli.BoolFlag{
					Name:  "strict",
					Usage: "panic instead of flushing when the barrier buffer fills",
				},
				cli.BoolFlag{
					Name:  "wait",
					Usage: "block on every frame's ticket before starting the next",
				},
			},
			Action: stress,
		},
	}
	return app
}
