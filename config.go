package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/NightMachinery/talespin/internal/logging"
)

// extraImageDirsCSV is the raw --extra-image-dirs flag value, newline- or
// comma-separated; split lazily so a single string flag can carry a list
// the way TALESPIN_EXTRA_IMAGE_DIRS does as an environment variable.
var extraImageDirsCSV string

func splitDirList(raw string) []string {
	raw = strings.ReplaceAll(raw, "\n", ",")
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

type Config struct {
	bind    string
	port    int
	prefix  string
	profile bool
	tlsCert string
	tlsKey  string
	verbose bool
	version bool

	// Card catalog.
	cardsDir             string
	extraImageDirs       []string
	disableBuiltinImages bool
	cacheDir             string
	cacheSize            int

	// Room defaults.
	defaultWinPoints   uint16
	defaultMaxMembers  int
	roomIdleTimeout    time.Duration
	gcInterval         time.Duration
	maintenanceInterval time.Duration

	// Create-room rate limit, e.g. "5-M" (5 per minute).
	createRateLimit string

	// baseURL *url.URL
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TALESPIN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "talespin...",
		Short:         "A real-time multiplayer room server for a Dixit-like card storytelling game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.extraImageDirs = splitDirList(extraImageDirsCSV)
			if err := cfg.validate(); err != nil {
				return err
			}
			if err := logging.Initialize(cfg.verbose); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TALESPIN_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: TALESPIN_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: TALESPIN_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: TALESPIN_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: TALESPIN_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: TALESPIN_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TALESPIN_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: TALESPIN_VERSION)")

	fs.StringVar(&cfg.cardsDir, "cards-dir", "cards", "directory of builtin, pre-normalized card images (env: TALESPIN_CARDS_DIR)")
	fs.StringVar(&extraImageDirsCSV, "extra-image-dirs", "", "newline- or comma-separated additional card image directories (env: TALESPIN_EXTRA_IMAGE_DIRS)")
	fs.BoolVar(&cfg.disableBuiltinImages, "disable-builtin-images", false, "serve only extra-image-dirs, skipping cards-dir (env: TALESPIN_DISABLE_BUILTIN_IMAGES)")
	fs.StringVar(&cfg.cacheDir, "cache-dir", "", "directory the card catalog content-addresses images into (env: TALESPIN_CACHE_DIR)")
	fs.IntVar(&cfg.cacheSize, "cache-size", 256, "number of card images kept in the in-memory byte cache (env: TALESPIN_CACHE_SIZE)")

	fs.Uint16Var(&cfg.defaultWinPoints, "default-win-points", 10, "target points used when a created room omits win_condition (env: TALESPIN_DEFAULT_WIN_POINTS)")
	fs.IntVar(&cfg.defaultMaxMembers, "default-max-members", 20, "default max_members for a created room when the request omits it (env: TALESPIN_DEFAULT_MAX_MEMBERS)")
	fs.DurationVar(&cfg.roomIdleTimeout, "room-idle-timeout", 3600*time.Second, "time a room with no connected sessions is kept before garbage collection (env: TALESPIN_ROOM_IDLE_TIMEOUT)")
	fs.DurationVar(&cfg.gcInterval, "gc-interval", 20*time.Minute, "how often the registry sweeps for idle rooms (env: TALESPIN_GC_INTERVAL)")
	fs.DurationVar(&cfg.maintenanceInterval, "maintenance-interval", 30*time.Second, "how often each room's moderator-absence timer is checked (env: TALESPIN_MAINTENANCE_INTERVAL)")

	fs.StringVar(&cfg.createRateLimit, "create-rate-limit", "10-M", "rate limit applied to POST /create, keyed by remote IP (env: TALESPIN_CREATE_RATE_LIMIT)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("talespin v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
