package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/drone/envsubst"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/grafana/dskit/flagext"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v2"

	"github.com/grafana/kafka-cartographer/clusterobserver"
	"github.com/grafana/kafka-cartographer/internal/statusserver"
)

const (
	configFileOption      = "config.file"
	configExpandEnvOption = "config.expand-env"
)

// Config is the top-level process configuration: one HTTP listen
// address and a named set of per-cluster observer configs, following
// the same RegisterFlagsAndApplyDefaults/YAML-overlay convention as
// the teacher's cmd/tempo.App.Config.
type Config struct {
	HTTPListenAddr string                               `yaml:"http_listen_addr"`
	Clusters       map[string]clusterobserver.Config `yaml:"clusters"`
}

func (c *Config) RegisterFlagsAndApplyDefaults(f *flag.FlagSet) {
	f.StringVar(&c.HTTPListenAddr, "http.listen-addr", ":8080", "HTTP listen address for the status/ready endpoints.")
}

func main() {
	var (
		configFile      string
		configExpandEnv bool
	)

	// Pre-parse config.file/config.expand-env from a throwaway flagset
	// before the real flags are registered on flag.CommandLine, mirroring
	// the teacher's cmd/tempo/main.go loadConfig: flag.Parse stops at the
	// first unrecognised flag, so the real flag set can't see these two
	// until after RegisterFlagsAndApplyDefaults has run.
	args := os.Args[1:]
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&configFile, configFileOption, "", "")
	fs.BoolVar(&configExpandEnv, configExpandEnvOption, false, "")
	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	cfg := &Config{}
	cfg.RegisterFlagsAndApplyDefaults(flag.CommandLine)

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	// overlay defaults with the config file, if any, before the final CLI
	// parse so that explicit flags still win over file-supplied values.
	if configFile != "" {
		if err := loadConfigFile(configFile, configExpandEnv, cfg); err != nil {
			level.Error(logger).Log("msg", "failed to load config", "err", err)
			os.Exit(1)
		}
	}

	// overlay with cli, now that the config file (if any) has been loaded
	flagext.IgnoredFlag(flag.CommandLine, configFileOption, "Path to a YAML config file listing ZooKeeper-mirrored clusters.")
	flagext.IgnoredFlag(flag.CommandLine, configExpandEnvOption, "Expand environment variables in the config file.")
	flag.Parse()

	if len(cfg.Clusters) == 0 {
		level.Error(logger).Log("msg", "no clusters configured")
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	observers := make(map[string]*clusterobserver.Observer, len(cfg.Clusters))

	for name, clusterCfg := range cfg.Clusters {
		clusterCfg.ClusterName = name
		o, err := clusterobserver.New(clusterCfg, logger, reg)
		if err != nil {
			level.Error(logger).Log("msg", "failed to construct observer", "cluster", name, "err", err)
			os.Exit(1)
		}
		if err := services.StartAndAwaitRunning(context.Background(), o); err != nil {
			level.Error(logger).Log("msg", "failed to start observer", "cluster", name, "err", err)
			os.Exit(1)
		}
		observers[name] = o
	}

	router := mux.NewRouter()
	statusserver.New(logger, router, observers)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	level.Info(logger).Log("msg", "kafka-cartographer listening", "addr", cfg.HTTPListenAddr)
	if err := http.ListenAndServe(cfg.HTTPListenAddr, router); err != nil {
		level.Error(logger).Log("msg", "http server exited", "err", err)
		os.Exit(1)
	}
}

func loadConfigFile(path string, expandEnv bool, cfg *Config) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if expandEnv {
		s, err := envsubst.EvalEnv(string(buf))
		if err != nil {
			return fmt.Errorf("expanding env vars in %s: %w", path, err)
		}
		buf = []byte(s)
	}
	if err := yaml.UnmarshalStrict(buf, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}
