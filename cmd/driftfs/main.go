// Command driftfs mounts an S3-compatible object store as a FUSE
// filesystem and offers a companion torrent-control client.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/driftfs/driftfs/internal/config"
	"github.com/driftfs/driftfs/internal/fuse"
	"github.com/driftfs/driftfs/internal/lifecycle"
	"github.com/driftfs/driftfs/internal/metrics"
	"github.com/driftfs/driftfs/internal/storage"
	"github.com/driftfs/driftfs/internal/storage/memory"
	"github.com/driftfs/driftfs/internal/storage/s3"
)

func main() {
	// A .env next to the binary is a convenience for development;
	// absence is not an error.
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "driftfs:", err)
		os.Exit(1)
	}
}

type mountFlags struct {
	configPath  string
	socketPath  string
	metricsAddr string
	logLevel    string
	uid         int64
	gid         int64
	inMemory    bool

	readOnly           bool
	allowOther         bool
	allowRoot          bool
	defaultPermissions bool
	nonEmpty           bool
	writeBackCache     bool
	fsName             string
	extraOptions       string
}

func newRootCommand() *cobra.Command {
	flags := &mountFlags{}

	root := &cobra.Command{
		Use:   "driftfs <mount-dir>",
		Short: "Mount an S3-compatible object store as a filesystem",
		Long: `driftfs mounts an S3-compatible object store as a FUSE filesystem.
The process stays in the foreground until it receives SIGINT or
SIGTERM, or until the filesystem is unmounted externally. While the
mount is live a unix socket advertises readiness; it is removed before
the mount itself goes away.

Backend credentials come from the DRIFTFS_S3_* environment variables
or a YAML config file.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMount(cmd, args, flags)
		},
	}

	root.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to YAML config file")
	root.Flags().StringVar(&flags.socketPath, "socket", "", "readiness socket path (default "+config.DefaultSocketPath+")")
	root.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "address for Prometheus metrics (disabled when empty)")
	root.Flags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.Flags().Int64Var(&flags.uid, "uid", -1, "file owner uid (default: current user)")
	root.Flags().Int64Var(&flags.gid, "gid", -1, "file owner gid (default: current group)")
	root.Flags().BoolVar(&flags.inMemory, "in-memory", false, "use an in-memory backend instead of S3")

	root.Flags().BoolVar(&flags.readOnly, "read-only", false, "mount read-only")
	root.Flags().BoolVar(&flags.allowOther, "allow-other", false, "allow other users to access the mount")
	root.Flags().BoolVar(&flags.allowRoot, "allow-root", false, "allow root to access the mount")
	root.Flags().BoolVar(&flags.defaultPermissions, "default-permissions", false, "enable kernel permission checks")
	root.Flags().BoolVar(&flags.nonEmpty, "nonempty", false, "allow mounting over a non-empty directory")
	root.Flags().BoolVar(&flags.writeBackCache, "write-back-cache", false, "enable write-back caching")
	root.Flags().StringVar(&flags.fsName, "fs-name", "", "filesystem name shown in mount tables")
	root.Flags().StringVar(&flags.extraOptions, "options", "", "extra mount options, comma separated")

	root.AddCommand(newTorrentCommand())
	return root
}

func runMount(cmd *cobra.Command, args []string, flags *mountFlags) error {
	fileCfg := &config.File{}
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return err
		}
		fileCfg = loaded
	}

	mountCfg, err := resolveMountConfig(fileCfg, flags, args)
	if err != nil {
		return err
	}

	logLevel := flags.logLevel
	if logLevel == "" {
		logLevel = fileCfg.LogLevel
	}
	logger := newLogger(logLevel)

	backend, err := buildBackend(cmd, fileCfg, flags, logger)
	if err != nil {
		return err
	}

	socketPath := flags.socketPath
	if socketPath == "" {
		socketPath = fileCfg.SocketPath
	}
	if socketPath == "" {
		socketPath = config.DefaultSocketPath
	}

	collector := metrics.NewCollector()
	metricsAddr := flags.metricsAddr
	if metricsAddr == "" {
		metricsAddr = fileCfg.MetricsAddr
	}
	if metricsAddr != "" {
		collector.Serve(cmd.Context(), metricsAddr, logger)
	}

	session := fuse.NewSession(mountCfg, backend, logger)
	start := lifecycle.StarterFunc(func(ctx context.Context) (lifecycle.Handle, error) {
		return session.Start(ctx)
	})

	coord := lifecycle.NewCoordinator(start, socketPath, collector, logger)
	return coord.Run(cmd.Context())
}

// resolveMountConfig merges the config file with command-line flags;
// flags win.
func resolveMountConfig(fileCfg *config.File, flags *mountFlags, args []string) (config.MountConfig, error) {
	cfg := fileCfg.Mount

	if len(args) > 0 {
		cfg.MountDir = args[0]
	}
	if cfg.MountDir == "" {
		return config.MountConfig{}, fmt.Errorf("mount directory required (argument or config file)")
	}

	cfg.UID = resolveIdentity(flags.uid, fileCfg.UID)
	cfg.GID = resolveIdentity(flags.gid, fileCfg.GID)

	if flags.readOnly {
		cfg.Options.ReadOnly = true
	}
	if flags.allowOther {
		cfg.Options.AllowOther = true
	}
	if flags.allowRoot {
		cfg.Options.AllowRoot = true
	}
	if flags.defaultPermissions {
		cfg.Options.DefaultPermissions = true
	}
	if flags.nonEmpty {
		cfg.Options.NonEmpty = true
	}
	if flags.writeBackCache {
		cfg.Options.WriteBackCache = true
	}
	if flags.fsName != "" {
		cfg.Options.FSName = flags.fsName
	}
	if flags.extraOptions != "" {
		cfg.Options.ExtraOptions = flags.extraOptions
	}
	return cfg, nil
}

// resolveIdentity picks the explicit identity from the flag, then the
// config file, then falls back to inheriting from the process.
func resolveIdentity(flag int64, file *uint32) config.Identity {
	if flag >= 0 {
		return config.ExplicitIdentity(uint32(flag))
	}
	if file != nil {
		return config.ExplicitIdentity(*file)
	}
	return config.InheritIdentity()
}

func buildBackend(cmd *cobra.Command, fileCfg *config.File, flags *mountFlags, logger *slog.Logger) (storage.Backend, error) {
	if flags.inMemory {
		logger.Info("using in-memory backend")
		return memory.New(), nil
	}

	cfg := mergeS3Config(fileCfg.S3, s3.FromEnv())
	return s3.New(cmd.Context(), cfg, logger)
}

// mergeS3Config overlays environment values on the config file; the
// environment wins field by field.
func mergeS3Config(file, env s3.Config) s3.Config {
	out := file
	if env.Root != "" {
		out.Root = env.Root
	}
	if env.Bucket != "" {
		out.Bucket = env.Bucket
	}
	if env.Region != "" {
		out.Region = env.Region
	}
	if env.Endpoint != "" {
		out.Endpoint = env.Endpoint
	}
	if env.AccessKey != "" {
		out.AccessKey = env.AccessKey
	}
	if env.SecretKey != "" {
		out.SecretKey = env.SecretKey
	}
	return out
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
