package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mickeygo/edgepipe/internal/util"
	"github.com/mickeygo/edgepipe/pipe"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print frames the device pushes without a request",
	Long: `Arm active push on the selected pipe and print every frame as hex until
interrupted or --duration elapses. The profile must be persistent.`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	listenCmd.Flags().Duration("duration", 0, "stop after this long, 0 waits for an interrupt")
}

func runListen(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if d := viper.GetDuration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	frames := make(chan []byte, 64)

	s, err := openSession(ctx, pipe.WithPushHandler(func(frame []byte) {
		select {
		case frames <- frame:
		default:
		}
	}))
	if err != nil {
		return err
	}
	defer s.close(out)

	// nothing is requested, so every frame is unsolicited
	if err := s.pipe.ArmActivePush(s.factory, func([]byte) bool { return false }); err != nil {
		return err
	}
	defer s.pipe.DisarmActivePush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-frames:
			fmt.Fprintf(out, "%s %s\n", time.Now().Format(time.RFC3339Nano), util.HexString(frame, 0))
		}
	}
}
