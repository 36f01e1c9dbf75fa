// Package config loads vibetunneld's runtime configuration from
// cobra flags with environment-variable fallback.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Config is the full set of knobs the daemon reads at startup. The
// forwarding client (`vt`) does not use it; it binds its own flags.
type Config struct {
	Port        int
	BindAddr    string
	ControlPath string
	StaticPath  string
	Password    string

	CleanupOnStart bool
	DefaultCols    int
	DefaultRows    int

	HQMode     bool
	HQURL      string
	HQUsername string
	HQPassword string

	RemoteName        string
	RemoteBearerToken string
	IsRemote          bool
}

// envOr returns the environment variable's value, or fallback when unset.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultControlPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".vibetunnel", "control")
	}
	return filepath.Join(home, ".vibetunnel", "control")
}

// BindFlags registers every config flag on cmd, with defaults drawn
// from the environment so a bare invocation still honors
// VT_PORT/VT_CONTROL_PATH/etc. set by the caller's shell.
func BindFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Int("port", atoiOr(os.Getenv("VT_PORT"), 4020), "HTTP listen port")
	flags.String("bind", envOr("VT_BIND_ADDR", "0.0.0.0"), "HTTP bind address")
	flags.String("control-path", envOr("VT_CONTROL_PATH", defaultControlPath()), "session control root")
	flags.String("static-path", envOr("VT_STATIC_PATH", ""), "static web UI assets directory, empty disables serving one")
	flags.String("password", os.Getenv("VT_PASSWORD"), "bearer token required on the HTTP API, empty disables auth")
	flags.Bool("cleanup", boolOr(os.Getenv("VT_CLEANUP_ON_START"), false), "remove exited sessions on startup")
	flags.Int("default-cols", atoiOr(os.Getenv("VT_DEFAULT_COLS"), 80), "default terminal width for new sessions")
	flags.Int("default-rows", atoiOr(os.Getenv("VT_DEFAULT_ROWS"), 24), "default terminal height for new sessions")

	flags.Bool("hq", boolOr(os.Getenv("VT_HQ_MODE"), false), "run as an HQ aggregating remote vibetunneld instances")
	flags.String("hq-url", os.Getenv("VT_HQ_URL"), "HQ base URL this instance registers with as a remote")
	flags.String("hq-username", os.Getenv("VT_HQ_USERNAME"), "basic-auth username presented to the HQ")
	flags.String("hq-password", os.Getenv("VT_HQ_PASSWORD"), "basic-auth password presented to the HQ")

	flags.String("remote-name", envOr("VT_REMOTE_NAME", hostnameOr("local")), "this instance's name when registered with an HQ")
	flags.String("remote-bearer-token", os.Getenv("VT_REMOTE_BEARER_TOKEN"), "bearer token the HQ must present when calling back into this instance")
}

// Load reads every bound flag into a Config.
func Load(cmd *cobra.Command) (*Config, error) {
	flags := cmd.Flags()
	cfg := &Config{}
	var err error

	if cfg.Port, err = flags.GetInt("port"); err != nil {
		return nil, err
	}
	if cfg.BindAddr, err = flags.GetString("bind"); err != nil {
		return nil, err
	}
	if cfg.ControlPath, err = flags.GetString("control-path"); err != nil {
		return nil, err
	}
	if cfg.StaticPath, err = flags.GetString("static-path"); err != nil {
		return nil, err
	}
	if cfg.Password, err = flags.GetString("password"); err != nil {
		return nil, err
	}
	if cfg.CleanupOnStart, err = flags.GetBool("cleanup"); err != nil {
		return nil, err
	}
	if cfg.DefaultCols, err = flags.GetInt("default-cols"); err != nil {
		return nil, err
	}
	if cfg.DefaultRows, err = flags.GetInt("default-rows"); err != nil {
		return nil, err
	}
	if cfg.HQMode, err = flags.GetBool("hq"); err != nil {
		return nil, err
	}
	if cfg.HQURL, err = flags.GetString("hq-url"); err != nil {
		return nil, err
	}
	if cfg.HQUsername, err = flags.GetString("hq-username"); err != nil {
		return nil, err
	}
	if cfg.HQPassword, err = flags.GetString("hq-password"); err != nil {
		return nil, err
	}
	if cfg.RemoteName, err = flags.GetString("remote-name"); err != nil {
		return nil, err
	}
	if cfg.RemoteBearerToken, err = flags.GetString("remote-bearer-token"); err != nil {
		return nil, err
	}
	cfg.IsRemote = cfg.HQURL != ""
	return cfg, nil
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func boolOr(s string, fallback bool) bool {
	switch s {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}

func hostnameOr(fallback string) string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return fallback
	}
	return h
}
