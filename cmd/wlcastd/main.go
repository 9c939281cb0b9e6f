// wlcastd is the composition root wiring a portal session through
// the capture manager, frame dispatcher, and frame processor: it
// negotiates screen capture, starts one PipeWire-backed stream per
// granted monitor, and logs the resulting BitmapUpdate stream.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lamco-desktop/wlcast/pkg/bitrate"
	"github.com/lamco-desktop/wlcast/pkg/capture"
	"github.com/lamco-desktop/wlcast/pkg/clipboard"
	"github.com/lamco-desktop/wlcast/pkg/damage"
	"github.com/lamco-desktop/wlcast/pkg/dispatcher"
	"github.com/lamco-desktop/wlcast/pkg/portal"
	"github.com/lamco-desktop/wlcast/pkg/processor"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, log); err != nil {
		log.Fatal().Err(err).Msg("wlcastd exited with error")
	}
}

func run(ctx context.Context, log zerolog.Logger) error {
	portalCfg := portal.DefaultConfig()
	portalCfg.WantClipboard = envBool("WLCAST_ENABLE_CLIPBOARD", false)

	log.Info().Msg("negotiating portal session")
	session, err := portal.Open(ctx, portalCfg, log)
	if err != nil {
		return err
	}
	defer session.Close()

	captureCfg := capture.New(
		capture.WithEnableCursor(envBool("WLCAST_ENABLE_CURSOR", false)),
		capture.WithEnableDamageTracking(envBool("WLCAST_ENABLE_DAMAGE_TRACKING", false)),
	)

	manager, err := capture.NewManager(captureCfg, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("manager shutdown reported an error")
		}
	}()

	if err := manager.Connect(ctx, session.PipewireFD()); err != nil {
		return err
	}

	disp := dispatcher.New(dispatcher.DefaultConfig(), log)

	for _, info := range session.Streams() {
		handle, err := manager.CreateStream(ctx, info)
		if err != nil {
			return err
		}

		receiver, err := manager.FrameReceiver(handle.ID)
		if err != nil {
			return err
		}
		disp.RegisterInput(handle.ID, dispatcher.PriorityNormal, receiver)
		log.Info().Uint32("stream_id", handle.ID).Uint32("width", handle.Size[0]).Uint32("height", handle.Size[1]).Msg("stream created")
	}

	bitrateCtrl := bitrate.New(bitrate.DefaultConfig())
	proc := processor.New(processor.DefaultConfig(), damage.New(), bitrateCtrl, log)

	if session.ClipboardActive() {
		bridge := clipboard.New(session, log)
		if err := bridge.StartTransferListener(ctx); err != nil {
			log.Warn().Err(err).Msg("clipboard transfer listener failed to start")
		} else {
			defer bridge.Stop()
		}
	}

	go disp.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return nil
		case frame, ok := <-disp.Output():
			if !ok {
				return nil
			}
			accepted, err := proc.Process(frame)
			if err != nil {
				log.Warn().Err(err).Uint32("stream_id", frame.StreamID).Msg("frame processing failed")
				continue
			}
			if !accepted {
				continue
			}
			update := <-proc.Output()
			log.Debug().
				Uint64("sequence", update.Sequence).
				Int("rectangles", len(update.Rectangles)).
				Msg("bitmap update")
		}
	}
}

func envBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
