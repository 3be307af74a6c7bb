package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/okdaichi/moqtransport/moqt"
	"gopkg.in/yaml.v3"
)

// peerConfig is the YAML configuration of a peer. Flags override it.
type peerConfig struct {
	Transport string   `yaml:"transport"`
	Addr      string   `yaml:"addr"`
	Path      string   `yaml:"path"`
	Namespace []string `yaml:"namespace"`
	Track     string   `yaml:"track"`
	LogLevel  string   `yaml:"log_level"`

	Session   sessionConfig   `yaml:"session"`
	Publish   publishConfig   `yaml:"publish"`
	Subscribe subscribeConfig `yaml:"subscribe"`
}

type sessionConfig struct {
	SetupTimeout        time.Duration `yaml:"setup_timeout"`
	MaxRequests         uint64        `yaml:"max_requests"`
	GroupReorderTimeout time.Duration `yaml:"group_reorder_timeout"`
	MaxConcurrentWrites int           `yaml:"max_concurrent_writes"`
	GoAwayTimeout       time.Duration `yaml:"goaway_timeout"`
}

type publishConfig struct {
	// Groups is the number of groups before the track ends. Zero publishes forever.
	Groups          uint64        `yaml:"groups"`
	ObjectsPerGroup uint64        `yaml:"objects_per_group"`
	ObjectSize      int           `yaml:"object_size"`
	Interval        time.Duration `yaml:"interval"`
	Datagrams       bool          `yaml:"datagrams"`
	CacheGroups     int           `yaml:"cache_groups"`
	Priority        uint8         `yaml:"priority"`
	// QueueDepth is the number of objects buffered per session. A session
	// that falls further behind loses the rest of the group.
	QueueDepth      int           `yaml:"queue_depth"`
}

type subscribeConfig struct {
	Policy   string `yaml:"policy"`
	CertHash string `yaml:"cert_hash"`
	Insecure bool   `yaml:"insecure"`
	Priority uint8  `yaml:"priority"`
	// JoiningGroups fetches this many groups before the subscription start.
	JoiningGroups  uint64        `yaml:"joining_groups"`
	SampleInterval time.Duration `yaml:"sample_interval"`
}

func defaultConfig() peerConfig {
	return peerConfig{
		Transport: "quic",
		Addr:      "127.0.0.1:4443",
		Path:      "/moq",
		Namespace: []string{"moqtpeer", "demo"},
		Track:     "clock",
		LogLevel:  "info",
		Publish: publishConfig{
			ObjectsPerGroup: 30,
			ObjectSize:      1200,
			Interval:        33 * time.Millisecond,
			CacheGroups:     10,
			QueueDepth:      8,
		},
		Subscribe: subscribeConfig{
			Policy:         "in-order",
			SampleInterval: time.Second,
		},
	}
}

// loadConfig reads path over the defaults. An empty path keeps the defaults.
func loadConfig(path string) (peerConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c peerConfig) validate() error {
	var errs []error
	switch c.Transport {
	case "quic", "webtransport":
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if len(c.Namespace) == 0 || c.Track == "" {
		errs = append(errs, errors.New("namespace and track are required"))
	}
	if _, err := parsePolicy(c.Subscribe.Policy); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Publish.ObjectsPerGroup == 0 {
		errs = append(errs, errors.New("publish.objects_per_group must be positive"))
	}
	return errors.Join(errs...)
}

func (c peerConfig) track() moqt.Track {
	return moqt.Track{Namespace: moqt.NewTrackNamespace(c.Namespace...), Name: c.Track}
}

func (c peerConfig) sessionConfig(role moqt.Role, logger *slog.Logger) *moqt.Config {
	cfg := &moqt.Config{
		Role:                role,
		MaxRequests:         c.Session.MaxRequests,
		SetupTimeout:        c.Session.SetupTimeout,
		GroupReorderTimeout: c.Session.GroupReorderTimeout,
		MaxConcurrentWrites: c.Session.MaxConcurrentWrites,
		GoAwayTimeout:       c.Session.GoAwayTimeout,
		Logger:              logger,
	}
	// PATH is a raw QUIC setup parameter. WebTransport carries it in the URL.
	if c.Transport == "quic" {
		cfg.Path = c.Path
	}
	return cfg
}

// bindFlags registers the flags that override the file configuration.
func bindFlags(fs *flag.FlagSet) *flagOverrides {
	o := &flagOverrides{fs: fs}
	fs.StringVar(&o.config, "config", "", "path to a YAML configuration file")
	fs.StringVar(&o.transport, "transport", "", "transport: quic or webtransport")
	fs.StringVar(&o.addr, "addr", "", "listen or dial address")
	fs.StringVar(&o.namespace, "namespace", "", "track namespace, segments separated by /")
	fs.StringVar(&o.track, "track", "", "track name")
	fs.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.StringVar(&o.policy, "policy", "", "delivery policy: in-order, latest-group or independent")
	fs.StringVar(&o.certHash, "cert-hash", "", "hex SHA-256 of the server certificate")
	fs.Uint64Var(&o.groups, "groups", 0, "number of groups to publish, 0 for unlimited")
	fs.BoolVar(&o.datagrams, "datagrams", false, "publish objects as datagrams")
	return o
}

type flagOverrides struct {
	fs *flag.FlagSet

	config    string
	transport string
	addr      string
	namespace string
	track     string
	logLevel  string
	policy    string
	certHash  string
	groups    uint64
	datagrams bool
}

// load reads the configuration file and applies the flags that were set.
func (o *flagOverrides) load() (peerConfig, error) {
	cfg, err := loadConfig(o.config)
	if err != nil {
		return cfg, err
	}
	o.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "transport":
			cfg.Transport = o.transport
		case "addr":
			cfg.Addr = o.addr
		case "namespace":
			cfg.Namespace = strings.Split(strings.Trim(o.namespace, "/"), "/")
		case "track":
			cfg.Track = o.track
		case "log-level":
			cfg.LogLevel = o.logLevel
		case "policy":
			cfg.Subscribe.Policy = o.policy
		case "cert-hash":
			cfg.Subscribe.CertHash = o.certHash
		case "groups":
			cfg.Publish.Groups = o.groups
		case "datagrams":
			cfg.Publish.Datagrams = o.datagrams
		}
	})
	return cfg, cfg.validate()
}

func parsePolicy(s string) (moqt.DeliveryPolicy, error) {
	switch s {
	case "", "in-order":
		return moqt.DeliverInOrder, nil
	case "latest-group":
		return moqt.DeliverLatestGroup, nil
	case "independent":
		return moqt.DeliverIndependent, nil
	default:
		return 0, fmt.Errorf("unknown delivery policy %q", s)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
