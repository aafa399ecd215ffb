package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/boardlink/internal/config"
	"github.com/bft-labs/boardlink/pkg/log"
)

const helpDescription = `
Link a doorbell's controller board and its camera board.

The controller (hub) keeps the camera board in the mode it wants, pulls
frames over the frame link, turns face recognitions into backend uploads
and streams camera frames to the backend. The vision role simulates the
camera board for bench testing.
`

var exampleUsage = strings.TrimSpace(`
  boardlink vision --addr :7070 --frame-dir ./frames --simulate-faces 5s
  boardlink hub --addr 192.168.4.2:7070 --backend-url https://api.example.com --mode recognition
  boardlink frametest --addr 127.0.0.1:7070 --count 200
  boardlink faces --postgres-dsn postgres://localhost/doorbell --limit 10
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// settings is the configuration shared by every subcommand.
type settings struct {
	cfg     config.Config
	cfgPath string

	// filled by load
	base    config.Config
	changed map[string]bool
	file    string
	logger  *log.ZerologAdapter
}

// load applies the config file and environment under the changed flags,
// validates, and sets up logging.
func (s *settings) load(cmd *cobra.Command) error {
	s.base = s.cfg
	s.changed = map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { s.changed[f.Name] = true })

	s.file = s.cfgPath
	if s.file == "" {
		s.file = config.DefaultConfigPath()
	}
	if s.file != "" && config.FileExists(s.file) {
		fc, err := config.LoadFileConfig(s.file)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := config.ApplyFileConfig(&s.cfg, fc, s.changed); err != nil {
			return err
		}
	} else {
		s.file = ""
	}
	if err := config.ApplyEnvConfig(&s.cfg, s.changed); err != nil {
		return err
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	level, _ := log.ParseLevel(s.cfg.LogLevel)
	s.logger = log.NewZerologAdapter(log.LevelDebug)
	log.SetGlobalLevel(level)

	masked := s.cfg
	if masked.AuthKey != "" {
		masked.AuthKey = "*****"
	}
	if masked.PostgresDSN != "" {
		masked.PostgresDSN = "*****"
	}
	s.logger.Info("configuration", log.Any("config", masked), log.String("file", s.file))
	return nil
}

func main() {
	s := &settings{cfg: config.DefaultConfig()}
	cfg := &s.cfg

	root := &cobra.Command{
		Use:           "boardlink",
		Short:         "Inter-board link for a doorbell controller and its camera board",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&s.cfgPath, "config", "", "path to config file (default: $HOME/.boardlink/config.toml)")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	pf.StringVar(&cfg.Transport, "transport", cfg.Transport, "board link transport: tcp or quic")
	pf.StringVar(&cfg.Addr, "addr", cfg.Addr, "board link address (hub dials, vision listens)")

	root.AddCommand(newHubCommand(s), newVisionCommand(s), newFrameTestCommand(s), newFacesCommand(s))

	if err := root.Execute(); err != nil {
		log.NewZerologAdapter(log.LevelError).Error("boardlink", log.Err(err))
		os.Exit(1)
	}
}
