package commands

import (
	"context"
	"fmt"
	"image/color"
	"math"
	"sync/atomic"
	"time"

	"github.com/gogpu/gg"
	"github.com/gogpu/gg/surface"
	"github.com/urfave/cli/v2"

	harness "github.com/Swind/embedder-harness"
	"github.com/Swind/embedder-harness/core"
	"github.com/Swind/embedder-harness/gpu"
	"github.com/Swind/embedder-harness/platformview"
	"github.com/Swind/embedder-harness/pointer"
	"github.com/Swind/embedder-harness/runners"
	"github.com/Swind/embedder-harness/trace"
	"github.com/Swind/embedder-harness/vsync"
)

func FramesCommand() *cli.Command {
	return &cli.Command{
		Name:    "frames",
		Aliases: []string{"f"},
		Usage:   "drive simulated vsync frames through a platform view",

		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Value:   3,
				Usage:   "number of frames",
			},
			&cli.StringFlag{
				Name:  "png",
				Usage: "write the last presented frame to this file (gl backend only)",
			},
		},

		Action: framesAction,
	}
}

type packetCounter struct {
	delivered atomic.Int64
}

func (p *packetCounter) DoDispatchPacket(*pointer.Packet, uint64) { p.delivered.Add(1) }

type frameObservers []gpu.FrameObserver

func (o frameObservers) OnFrame(r gpu.FrameResult) {
	for _, obs := range o {
		obs.OnFrame(r)
	}
}

func framesAction(c *cli.Context) error {
	// 1. Get flags
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	count := c.Int("count")

	// 2. Validate (format only)
	if count <= 0 {
		return cli.Exit("count must be positive", 1)
	}

	// 3. Drive frames
	logger := newLogger(cfg)
	tel, err := startTelemetry(cfg, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	defer tel.close()

	fixture := harness.NewFixture(cfg, harness.WithLogger(logger), harness.WithRunnerConfig(tel.runnerConfig()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fixture.Close(ctx); err != nil {
			logger.Warn("fixture close failed", core.F("error", err))
		}
	}()

	taskRunners, err := fixture.CreateTaskRunners(cfg.Label+"-frames", runners.UIThread|runners.RasterThread)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	var observers frameObservers
	if tel.exporter != nil {
		observers = append(observers, tel.exporter.FrameObserver(cfg.Surface.Backend))
	}
	if tel.store != nil {
		observers = append(observers, trace.FrameObserver(tel.store, cfg.Surface.Backend))
	}
	embedder := platformview.NewRecordingEmbedder()
	view, err := fixture.NewPlatformView(taskRunners, func(pc *platformview.Config) {
		pc.Embedder = embedder
		if len(observers) > 0 {
			pc.FrameObserver = observers
		}
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	if tel.poller != nil {
		tel.poller.AddHost(cfg.Label, fixture)
		tel.startPoller()
	}

	glView, _ := view.(*platformview.GLView)
	size := gpu.FrameInfo{Width: cfg.Surface.Width, Height: cfg.Surface.Height}
	if glView != nil {
		size = glView.Offscreen().Size()
	}
	delegate := &packetCounter{}
	driver := platformview.NewFrameDriver(view, size, func(fbo int64, timings vsync.FrameTimings) bool {
		if glView == nil {
			return true
		}
		return drawFrame(glView.Offscreen().Framebuffer(fbo), size, timings.Frame)
	}, delegate)

	ctx, cancel := context.WithTimeout(c.Context, cfg.Isolate.RunTimeout)
	defer cancel()
	for i := 1; i <= count; i++ {
		driver.Dispatcher().DispatchPacket(&pointer.Packet{Data: []pointer.Data{{
			Change: pointer.Move,
			X:      float64(i * 10),
			Y:      float64(i * 10),
		}}}, uint64(i))
		driver.RequestFrame()
		view.SimulateVSync()
		tel.exporter.RecordVsync()
		if err := driver.WaitFrames(ctx, i); err != nil {
			return cli.Exit(fmt.Sprintf("Failed: frame %d: %v", i, err), 1)
		}
	}

	// 4. Format output
	for i, r := range driver.Results() {
		status := "dropped"
		if r.Presented {
			status = "presented"
		}
		fmt.Fprintf(c.App.Writer, "frame %d: %dx%d fbo=%d %s\n", i+1, r.Frame.Width, r.Frame.Height, r.FBO, status)
	}
	stats := driver.Surface().Stats()
	fmt.Fprintf(c.App.Writer, "surface: acquired=%d presented=%d failed=%d\n", stats.Acquired, stats.Presented, stats.Failed)
	fmt.Fprintf(c.App.Writer, "embedder frames begun: %d\n", embedder.BegunFrames())
	fmt.Fprintf(c.App.Writer, "pointer packets delivered: %d\n", delegate.delivered.Load())

	if path := c.String("png"); path != "" {
		if glView == nil {
			return cli.Exit("--png needs the gl backend", 1)
		}
		img := glView.Offscreen().LastPresented()
		if img == nil {
			return cli.Exit("no frame was presented", 1)
		}
		if err := gg.FromImage(img).SavePNG(path); err != nil {
			return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
		}
		fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
	}
	return nil
}

// drawFrame paints a square that moves one step per frame.
func drawFrame(fb surface.Surface, size gpu.FrameInfo, frame int64) bool {
	if fb == nil {
		return false
	}
	fb.Clear(color.RGBA{R: 24, G: 24, B: 32, A: 255})
	side := float64(min(size.Width, size.Height)) / 4
	travel := float64(size.Width) - side
	x := 0.0
	if travel > 0 {
		x = math.Mod(float64(frame)*side/2, travel)
	}
	p := surface.NewPath()
	p.Rectangle(x, (float64(size.Height)-side)/2, side, side)
	fb.Fill(p, surface.FillStyle{Color: color.RGBA{R: 80, G: 160, B: 255, A: 255}, Rule: surface.FillRuleNonZero})
	return true
}
