package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mickeygo/edgepipe/config"
	"github.com/mickeygo/edgepipe/logger"
	"github.com/mickeygo/edgepipe/message"
	"github.com/mickeygo/edgepipe/pipe"
)

// Version is the pipectl release.
const Version = "0.1.0"

var (
	rootCmd = &cobra.Command{
		Use:   "pipectl",
		Short: "exercise edgepipe profiles against a device",
		Long: fmt.Sprintf(`pipectl (v%s)

Loads a TOML pipe profile file, opens the selected pipe and exchanges
frames with the device. Flags can be set through PIPECTL_* environment
variables or a .env file.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of pipectl",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pipectl v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.AddCommand(transactCmd, listenCmd, versionCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "pipes.toml", "path of the pipe profile file")
	flags.String("profile", "", "profile to use; may be omitted when the file has one profile")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Duration("timeout", 0, "receive timeout overriding the profile, 0 keeps it")
	flags.Bool("metrics", false, "print the pipe metrics in Prometheus text format on exit")
}

func initEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("pipectl")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	level, err := logger.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	return nil
}

// session is an opened pipe built from the selected profile.
type session struct {
	pipe    *pipe.Pipe
	factory message.Factory
	set     *metrics.Set
}

func openSession(ctx context.Context, opts ...pipe.Option) (*session, error) {
	f, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}

	name := viper.GetString("profile")
	if name == "" {
		names := f.Names()
		if len(names) != 1 {
			return nil, fmt.Errorf("--profile required, file defines %s", strings.Join(names, ", "))
		}
		name = names[0]
	}

	prof, err := f.Profile(name)
	if err != nil {
		return nil, err
	}

	if d := viper.GetDuration("timeout"); d != 0 {
		opts = append(opts, pipe.WithReceiveTimeout(d))
	}

	p, err := prof.Build(logger.GetLogger(), opts...)
	if err != nil {
		return nil, err
	}

	s := &session{pipe: p, factory: prof.Descriptor(), set: metrics.NewSet()}
	pipe.RegisterMetrics(s.set, p)

	if p.Config().Persistent() {
		if _, err := p.Open(ctx); err != nil {
			_ = p.Dispose()
			return nil, err
		}
	}

	return s, nil
}

func (s *session) close(w io.Writer) {
	if viper.GetBool("metrics") {
		s.set.WritePrometheus(w)
	}

	if err := s.pipe.Dispose(); err != nil && !errors.Is(err, pipe.ErrDisposed) {
		logger.Warn("dispose failed", "pipe", s.pipe.Name(), "error", err)
	}
}
