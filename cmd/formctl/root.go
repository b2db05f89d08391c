package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ashureev/formtrack/internal/estimator"
	"github.com/ashureev/formtrack/internal/feedback"
)

var (
	version = "dev"
	commit  = "unknown"
)

// app carries what every subcommand shares.
type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
	logger  *slog.Logger
	catalog *feedback.Catalog

	// newRemote builds the pose service client. Tests replace it.
	newRemote func(a *app) (estimator.Estimator, func(), error)
}

var configDefaults = map[string]any{
	"pose.addr":            "",
	"pose.path_prefix":     "",
	"pose.host_dir":        "",
	"pose.connect_timeout": "5s",
	"language":             "en",
	"stride":               1,
}

func newApp() *app {
	return &app{v: viper.New(), newRemote: dialPoseService}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "formctl",
		Short: "Count exercise reps and check form",
		Long: `Count exercise repetitions and check form from pose landmarks.

Landmark files (.json, .json.gz, .json.zst) are read directly. Videos and
cameras need the pose service (--pose-addr or FORMCTL_POSE_ADDR).

Quick Start:
  formctl types                                   # List exercises
  formctl count -e squats -i workout.json -n 10   # Count a recording
  formctl live -e curls --camera 0                # Follow a camera`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default ./formctl.yaml or ~/.config/formctl/formctl.yaml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.String("pose-addr", "", "pose service gRPC address")
	flags.String("lang", "", "language for feedback text")
	_ = a.v.BindPFlag("pose.addr", flags.Lookup("pose-addr"))
	_ = a.v.BindPFlag("language", flags.Lookup("lang"))

	root.AddCommand(newTypesCmd(a), newCountCmd(a), newLiveCmd(a))
	return root
}

// setup loads configuration and builds shared services.
func (a *app) setup(cmd *cobra.Command) error {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	if err := loadConfig(a.v, a.cfgFile); err != nil {
		return err
	}
	a.logger.Debug("Configuration loaded", "file", a.v.ConfigFileUsed(), "pose_addr", a.v.GetString("pose.addr"))

	catalog, err := feedback.NewCatalog(a.v.GetString("language"))
	if err != nil {
		return fmt.Errorf("load feedback catalog: %w", err)
	}
	a.catalog = catalog
	return nil
}

// loadConfig reads defaults, an optional config file and FORMCTL_*
// environment variables into v. A missing config file is not an error.
func loadConfig(v *viper.Viper, path string) error {
	for k, val := range configDefaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("FORMCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("formctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/formctl")
	}

	if err := v.ReadInConfig(); err != nil {
		if errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// estimatorFor returns an estimator for landmark files, adding the pose
// service when one is configured. The returned func releases it.
func (a *app) estimatorFor(needRemote bool) (estimator.Estimator, func(), error) {
	if a.v.GetString("pose.addr") == "" {
		if needRemote {
			return nil, nil, fmt.Errorf("%w: set --pose-addr or FORMCTL_POSE_ADDR", estimator.ErrUnavailable)
		}
		return estimator.NewRouter(nil, nil), func() {}, nil
	}
	remote, release, err := a.newRemote(a)
	if err != nil {
		return nil, nil, err
	}
	return estimator.NewRouter(nil, remote), release, nil
}

func dialPoseService(a *app) (estimator.Estimator, func(), error) {
	client, err := estimator.NewGrpcClient(estimator.GrpcClientConfig{
		Address:        a.v.GetString("pose.addr"),
		ConnectTimeout: a.v.GetDuration("pose.connect_timeout"),
		Options:        estimator.DefaultOptions(),
		Paths: estimator.PathMapper{
			HostDir:    a.v.GetString("pose.host_dir"),
			SidecarDir: a.v.GetString("pose.path_prefix"),
		},
	}, a.logger)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

func (a *app) languages() []string {
	return []string{a.v.GetString("language")}
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
