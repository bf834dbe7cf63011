package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mickeygo/edgepipe/internal/pool"
	"github.com/mickeygo/edgepipe/internal/util"
	"github.com/mickeygo/edgepipe/pipe"
)

var transactCmd = &cobra.Command{
	Use:   "transact",
	Short: "Send a request and print the response",
	Long: `Send the --hex request over the selected pipe and print the matched
response as hex. With --count the exchange is repeated every --interval.`,
	Example: `  pipectl transact --profile press --hex "03 00 00 16 11 e0"`,
	Args:    cobra.NoArgs,
	RunE:    runTransact,
}

func init() {
	flags := transactCmd.Flags()
	flags.String("hex", "", "request bytes as hex")
	flags.Bool("no-response", false, "send without waiting for a response")
	flags.Int("count", 1, "number of exchanges")
	flags.Duration("interval", time.Second, "pause between exchanges")
	_ = transactCmd.MarkFlagRequired("hex")
}

func runTransact(cmd *cobra.Command, _ []string) error {
	request, err := util.ParseHex(viper.GetString("hex"))
	if err != nil {
		return fmt.Errorf("invalid --hex: %w", err)
	}
	if len(request) == 0 {
		return errors.New("--hex must not be empty")
	}

	count := viper.GetInt("count")
	if count < 1 {
		return fmt.Errorf("--count must be positive, got %d", count)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close(cmd.OutOrStdout())

	out := cmd.OutOrStdout()
	expect := !viper.GetBool("no-response")

	var failed error
	for i := 0; i < count; i++ {
		if i > 0 {
			if err := pool.Sleep(ctx, viper.GetDuration("interval")); err != nil {
				break
			}
		}

		start := time.Now()
		resp, err := s.pipe.Transact(ctx, s.factory(), request, expect)
		elapsed := time.Since(start).Round(time.Microsecond)

		if err != nil {
			failed = err
			fmt.Fprintf(out, "#%d error after %v (code %d): %v\n", i+1, elapsed, pipe.ErrorCode(err), err)
			continue
		}

		if !expect {
			fmt.Fprintf(out, "#%d sent %d bytes\n", i+1, len(request))
			continue
		}
		fmt.Fprintf(out, "#%d %v %s\n", i+1, elapsed, util.HexString(resp, 0))
	}

	return failed
}
