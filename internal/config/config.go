// Package config handles application configuration and command-line argument parsing.
//
// Values are layered: built-in defaults, then the YAML settings file, then
// environment variables (optionally from a .env file), then flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/joe/netmedia/pkg/filesystem"
)

// Exported constants.
const (
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
	DefaultStagingMaxSize = 512 << 20
	DefaultCredentialDB   = "netmedia.db"
	DefaultPageLimit      = 50
	DefaultMaxCount       = 1000
	DefaultIOWorkers      = 8
	DefaultExifBytes      = 64 << 10
	DefaultGifBytes       = 5 << 20
	DefaultMediaBytes     = 1 << 20
	DefaultExtendedBytes  = 5 << 20
	EnvPrefix             = "NETMEDIA_"
)

// Exported variables.
var (
	// ErrHelp is returned after help or version text has been written.
	ErrHelp = errors.New("help requested")
	// ErrNoCommand is returned when no subcommand was given.
	ErrNoCommand = errors.New("a subcommand is required")
)

// ScanArgs are the arguments shared by the scan-like subcommands.
type ScanArgs struct {
	Path      string   `arg:"positional,required" help:"folder to scan (smb://, sftp://, ftp:// URL or local path)"`
	Types     []string `arg:"-t,--type,separate" help:"media types to include: image|video|audio|gif|text|pdf|epub (default: all)"`
	Recursive bool     `arg:"-r,--recursive" help:"descend into subfolders"`
	CredID    string   `arg:"--cred" help:"credential id to use instead of automatic lookup"`
	MinImage  int64    `arg:"--min-image" help:"minimum image size in bytes (0 = unbounded)"`
	MaxImage  int64    `arg:"--max-image" help:"maximum image size in bytes (0 = unbounded)"`
	MinVideo  int64    `arg:"--min-video" help:"minimum video size in bytes (0 = unbounded)"`
	MaxVideo  int64    `arg:"--max-video" help:"maximum video size in bytes (0 = unbounded)"`
	MinAudio  int64    `arg:"--min-audio" help:"minimum audio size in bytes (0 = unbounded)"`
	MaxAudio  int64    `arg:"--max-audio" help:"maximum audio size in bytes (0 = unbounded)"`
	Exclude   []string `arg:"--exclude,separate" help:"glob of paths to skip, relative to the folder"`
}

// ScanCmd lists matching media files.
type ScanCmd struct {
	ScanArgs

	Limit int `arg:"--limit" help:"stop after this many files (0 = no limit)"`
}

// CountCmd counts matching media files.
type CountCmd struct {
	ScanArgs

	Max int `arg:"--max" help:"stop counting at this value"`
}

// PageCmd lists one page of matching media files.
type PageCmd struct {
	ScanArgs

	Offset int `arg:"--offset" help:"matches to skip"`
	Limit  int `arg:"--limit" help:"page size"`
}

// TransferCmd copies or moves files.
type TransferCmd struct {
	Sources   []string `arg:"positional,required" help:"files to transfer"`
	Dest      string   `arg:"-d,--dest,required" help:"destination folder"`
	Overwrite bool     `arg:"--overwrite" help:"replace existing destination files"`
	Names     []string `arg:"--name,separate" help:"display name for each content:// or cloud:// source, in order"`
}

// DeleteCmd deletes files.
type DeleteCmd struct {
	Paths []string `arg:"positional,required" help:"files to delete"`
	Trash bool     `arg:"--trash" help:"move files into a .trash_ folder instead of deleting them"`
}

// ProbeCmd downloads the head of a file for metadata probing.
type ProbeCmd struct {
	Path     string `arg:"positional,required" help:"remote file"`
	Kind     string `arg:"-k,--kind" default:"exif" help:"probe kind: exif|gif|video|audio"`
	Extended bool   `arg:"--extended" help:"use the extended cap for video and audio"`
	CredID   string `arg:"--cred" help:"credential id"`
}

// CredsAddCmd stores a credential.
type CredsAddCmd struct {
	ID         string `arg:"--id" help:"credential id (generated when empty)"`
	URL        string `arg:"positional,required" help:"server URL, e.g. smb://nas/Media or sftp://nas:2222"`
	Username   string `arg:"-u,--user" help:"user name"`
	Password   string `arg:"-p,--password,env:NETMEDIA_PASSWORD" help:"password"`
	KeyFile    string `arg:"--key-file" help:"PEM private key file (SFTP)"`
	Passphrase string `arg:"--passphrase,env:NETMEDIA_PASSPHRASE" help:"private key passphrase"`
	Domain     string `arg:"--domain" help:"SMB domain"`
}

// CredsListCmd lists stored credentials.
type CredsListCmd struct{}

// CredsCmd manages stored credentials.
type CredsCmd struct {
	Add  *CredsAddCmd  `arg:"subcommand:add" help:"store a credential"`
	List *CredsListCmd `arg:"subcommand:list" help:"list stored credentials"`
}

// Args are the command-line arguments.
type Args struct {
	ConfigFile   string `arg:"-c,--config,env:NETMEDIA_CONFIG" help:"YAML settings file"`
	LogLevel     string `arg:"--log-level,env:NETMEDIA_LOG_LEVEL" help:"debug|info|warn|error"`
	LogFormat    string `arg:"--log-format,env:NETMEDIA_LOG_FORMAT" help:"console|json"`
	MetricsAddr  string `arg:"--metrics-addr,env:NETMEDIA_METRICS_ADDR" help:"serve Prometheus metrics on this address"`
	StagingDir   string `arg:"--staging-dir,env:NETMEDIA_STAGING_DIR" help:"local staging cache directory"`
	CredentialDB string `arg:"--cred-db,env:NETMEDIA_CRED_DB" help:"credential database path"`
	Plain        bool   `arg:"--plain" help:"print plain lines instead of the live progress view"`

	Scan   *ScanCmd     `arg:"subcommand:scan" help:"list media files in a folder"`
	Count  *CountCmd    `arg:"subcommand:count" help:"count media files in a folder"`
	Page   *PageCmd     `arg:"subcommand:page" help:"list one page of media files"`
	Copy   *TransferCmd `arg:"subcommand:copy" help:"copy files between any two locations"`
	Move   *TransferCmd `arg:"subcommand:move" help:"move files between any two locations"`
	Delete *DeleteCmd   `arg:"subcommand:delete" help:"delete files"`
	Probe  *ProbeCmd    `arg:"subcommand:probe" help:"download the head of a file for metadata"`
	Creds  *CredsCmd    `arg:"subcommand:creds" help:"manage stored credentials"`
}

// Description returns the program description for go-arg
func (Args) Description() string {
	return "Scan and transfer media across SMB, SFTP, FTP and local storage"
}

// Version returns the version string for go-arg
func (Args) Version() string {
	return "netmedia 1.0.0"
}

// Settings is the YAML settings file.
type Settings struct {
	Throttle    ThrottleSettings   `yaml:"throttle"`
	Timeouts    TimeoutSettings    `yaml:"timeouts"`
	Scan        ScanSettings       `yaml:"scan"`
	Probe       ProbeSettings      `yaml:"probe"`
	Staging     StagingSettings    `yaml:"staging"`
	Credentials CredentialSettings `yaml:"credentials"`
	Logging     LogSettings        `yaml:"logging"`
	Metrics     MetricsSettings    `yaml:"metrics"`
}

// ThrottleSettings holds per-protocol connection limits keyed by protocol name.
type ThrottleSettings struct {
	Limits map[string]int `yaml:"limits"`
}

// TimeoutSettings bounds network operations.
type TimeoutSettings struct {
	Connect time.Duration `yaml:"connect"`
	IO      time.Duration `yaml:"io"`
}

// ScanSettings tunes directory scans.
type ScanSettings struct {
	IOWorkers   int      `yaml:"io_workers"`
	MaxCount    int      `yaml:"max_count"`
	PageLimit   int      `yaml:"page_limit"`
	Excludes    []string `yaml:"excludes"`
	ProbeWrites bool     `yaml:"probe_writes"`
}

// ProbeSettings holds metadata download caps in bytes.
type ProbeSettings struct {
	ExifBytes     int64 `yaml:"exif_bytes"`
	GifBytes      int64 `yaml:"gif_bytes"`
	MediaBytes    int64 `yaml:"media_bytes"`
	ExtendedBytes int64 `yaml:"extended_bytes"`
}

// StagingSettings configures the local staging cache.
type StagingSettings struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// CredentialSettings locates the credential store.
type CredentialSettings struct {
	DBPath string `yaml:"db_path"`
}

// LogSettings configures logging.
type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsSettings configures the metrics endpoint.
type MetricsSettings struct {
	Addr string `yaml:"addr"`
}

// Config holds the application configuration
type Config struct {
	Args
	Settings
}

// DefaultSettings returns settings with sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		Throttle: ThrottleSettings{Limits: map[string]int{}},
		Timeouts: TimeoutSettings{
			Connect: filesystem.DefaultConnectTimeout,
			IO:      filesystem.DefaultIOTimeout,
		},
		Scan: ScanSettings{
			IOWorkers: DefaultIOWorkers,
			MaxCount:  DefaultMaxCount,
			PageLimit: DefaultPageLimit,
		},
		Probe: ProbeSettings{
			ExifBytes:     DefaultExifBytes,
			GifBytes:      DefaultGifBytes,
			MediaBytes:    DefaultMediaBytes,
			ExtendedBytes: DefaultExtendedBytes,
		},
		Staging: StagingSettings{
			Dir:      defaultStagingDir(),
			MaxBytes: DefaultStagingMaxSize,
		},
		Credentials: CredentialSettings{DBPath: DefaultCredentialDB},
		Logging:     LogSettings{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}
}

// LoadEnv loads .env files into the process environment. Missing files are
// ignored and variables already set are kept.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}

	return nil
}

// LoadSettings reads a YAML settings file on top of the defaults.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()

	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("parsing config file: %w", err)
	}

	return settings, nil
}

// Parse parses command-line flags and returns configuration. Help and
// version requests are written to out and reported as ErrHelp.
func Parse(argv []string, out io.Writer) (*Config, error) {
	var args Args

	parser, err := arg.NewParser(arg.Config{Program: "netmedia"}, &args)
	if err != nil {
		return nil, fmt.Errorf("building argument parser: %w", err)
	}

	err = parser.Parse(argv)

	switch {
	case errors.Is(err, arg.ErrHelp):
		_ = parser.WriteHelpForSubcommand(out, parser.SubcommandNames()...)
		return nil, ErrHelp
	case errors.Is(err, arg.ErrVersion):
		_, _ = fmt.Fprintln(out, args.Version())
		return nil, ErrHelp
	case err != nil:
		return nil, err
	}

	settings, err := LoadSettings(args.ConfigFile)
	if err != nil {
		return nil, err
	}

	return PostProcessConfig(&Config{Args: args, Settings: settings})
}

// Load reads .env, then parses argv.
func Load(argv []string, out io.Writer) (*Config, error) {
	if err := LoadEnv(); err != nil {
		return nil, err
	}

	return Parse(argv, out)
}

// PostProcessConfig lets flags override the settings file and validates the result.
func PostProcessConfig(cfg *Config) (*Config, error) {
	overrideString(&cfg.Logging.Level, cfg.LogLevel)
	overrideString(&cfg.Logging.Format, cfg.LogFormat)
	overrideString(&cfg.Metrics.Addr, cfg.MetricsAddr)
	overrideString(&cfg.Staging.Dir, cfg.StagingDir)
	overrideString(&cfg.Credentials.DBPath, cfg.CredentialDB)

	if cfg.Command() == "" {
		return nil, ErrNoCommand
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Command names the selected subcommand, e.g. "copy" or "creds add".
func (cfg *Config) Command() string {
	switch {
	case cfg.Args.Scan != nil:
		return "scan"
	case cfg.Count != nil:
		return "count"
	case cfg.Page != nil:
		return "page"
	case cfg.Copy != nil:
		return "copy"
	case cfg.Move != nil:
		return "move"
	case cfg.Delete != nil:
		return "delete"
	case cfg.Args.Probe != nil:
		return "probe"
	case cfg.Creds != nil && cfg.Creds.Add != nil:
		return "creds add"
	case cfg.Creds != nil && cfg.Creds.List != nil:
		return "creds list"
	}

	return ""
}

// Validate checks paths and limits for the selected subcommand.
func (cfg *Config) Validate() error {
	for name, limit := range cfg.Throttle.Limits {
		if _, err := ParseProtocol(name); err != nil {
			return err
		}

		if limit < 1 {
			return fmt.Errorf("throttle limit for %s must be at least 1, got %d", name, limit)
		}
	}

	if cfg.Staging.Dir == "" {
		return errors.New("staging directory is required")
	}

	switch {
	case cfg.Args.Scan != nil:
		return validatePaths(cfg.Args.Scan.Path)
	case cfg.Count != nil:
		return validatePaths(cfg.Count.Path)
	case cfg.Page != nil:
		if cfg.Page.Offset < 0 || cfg.Page.Limit < 0 {
			return errors.New("offset and limit must not be negative")
		}

		return validatePaths(cfg.Page.Path)
	case cfg.Copy != nil:
		return cfg.Copy.validate()
	case cfg.Move != nil:
		return cfg.Move.validate()
	case cfg.Delete != nil:
		return validatePaths(cfg.Delete.Paths...)
	case cfg.Args.Probe != nil:
		return validatePaths(cfg.Args.Probe.Path)
	case cfg.Creds != nil && cfg.Creds.Add != nil:
		return validateServerURL(cfg.Creds.Add.URL)
	}

	return nil
}

// ThrottleLimits converts the configured limits into protocol keys.
func (cfg *Config) ThrottleLimits() map[filesystem.Protocol]int {
	limits := make(map[filesystem.Protocol]int, len(cfg.Throttle.Limits))

	for name, limit := range cfg.Throttle.Limits {
		if protocol, err := ParseProtocol(name); err == nil {
			limits[protocol] = limit
		}
	}

	return limits
}

// ParseProtocol parses a protocol name such as "smb" or "SFTP".
func ParseProtocol(name string) (filesystem.Protocol, error) {
	protocol := filesystem.Protocol(strings.ToLower(strings.TrimSpace(name)))

	switch protocol {
	case filesystem.ProtocolSMB, filesystem.ProtocolSFTP, filesystem.ProtocolFTP,
		filesystem.ProtocolLocal, filesystem.ProtocolCloud:
		return protocol, nil
	}

	return "", fmt.Errorf("invalid protocol: %s (valid: smb, sftp, ftp, local, cloud)", name)
}

func (t *TransferCmd) validate() error {
	if err := validatePaths(t.Sources...); err != nil {
		return err
	}

	if t.Dest == "" {
		return errors.New("destination path is required")
	}

	if len(t.Names) > len(t.Sources) {
		return fmt.Errorf("%d display names given for %d sources", len(t.Names), len(t.Sources))
	}

	return validatePaths(t.Dest)
}

func validatePaths(paths ...string) error {
	if len(paths) == 0 {
		return errors.New("at least one path is required")
	}

	for _, p := range paths {
		if p == "" {
			return errors.New("path must not be empty")
		}

		if strings.HasPrefix(strings.ToLower(p), "content://") {
			continue
		}

		if _, err := filesystem.ParsePath(p); err != nil {
			return fmt.Errorf("invalid path %q: %w", p, err)
		}
	}

	return nil
}

// validateServerURL checks that a credential URL names a remote server.
func validateServerURL(raw string) error {
	parsed, err := filesystem.ParsePath(raw)
	if err != nil {
		return fmt.Errorf("invalid server URL %q: %w", raw, err)
	}

	if !parsed.IsRemote() {
		return fmt.Errorf("server URL must use smb://, sftp:// or ftp://: %s", raw)
	}

	return nil
}

func overrideString(dst *string, flag string) {
	if flag != "" {
		*dst = flag
	}
}

func defaultStagingDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + string(os.PathSeparator) + "netmedia"
	}

	return os.TempDir() + string(os.PathSeparator) + "netmedia"
}
