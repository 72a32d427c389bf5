package config

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
	"sigs.k8s.io/controller-runtime/pkg/certwatcher"
)

type Config struct {
	GRPCServer *GRPCServer    `yaml:"grpc-server,omitempty" json:"grpc-server,omitempty"`
	Prometheus *PromConfig    `yaml:"prometheus,omitempty" json:"prometheus,omitempty"`
	Pools      []*PoolConfig  `yaml:"pools,omitempty" json:"pools,omitempty"`
	Logging    *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`
}

type TLS struct {
	CA         string `yaml:"ca,omitempty" json:"ca,omitempty"`
	Cert       string `yaml:"cert,omitempty" json:"cert,omitempty"`
	Key        string `yaml:"key,omitempty" json:"key,omitempty"`
	SkipVerify bool   `yaml:"skip-verify,omitempty" json:"skip-verify,omitempty"`
}

func New(file string) (*Config, error) {
	c := new(Config)
	if file != "" {
		p, err := expandPath(file)
		if err != nil {
			return nil, err
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}

		err = yaml.Unmarshal(b, c)
		if err != nil {
			return nil, err
		}
	}
	err := c.validateSetDefaults()
	return c, err
}

func (c *Config) validateSetDefaults() error {
	if c.GRPCServer == nil {
		c.GRPCServer = &GRPCServer{}
	}
	err := c.GRPCServer.validateSetDefaults()
	if err != nil {
		return err
	}
	if c.Prometheus == nil {
		c.Prometheus = &PromConfig{}
	}
	if err = c.Prometheus.validateSetDefaults(); err != nil {
		return err
	}
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if err = c.Logging.validateSetDefaults(); err != nil {
		return err
	}
	// a daemon without pools still gets one
	if len(c.Pools) == 0 {
		c.Pools = []*PoolConfig{{Name: defaultPoolName}}
	}
	names := make(map[string]struct{}, len(c.Pools))
	for _, p := range c.Pools {
		if p == nil {
			return errors.New("empty pool definition")
		}
		if err = p.validateSetDefaults(); err != nil {
			return err
		}
		if _, ok := names[p.Name]; ok {
			return fmt.Errorf("duplicate pool name %q", p.Name)
		}
		names[p.Name] = struct{}{}
	}
	return nil
}

type GRPCServer struct {
	Address        string        `yaml:"address,omitempty" json:"address,omitempty"`
	TLS            *TLS          `yaml:"tls,omitempty" json:"tls,omitempty"`
	MaxRecvMsgSize int           `yaml:"max-recv-msg-size,omitempty" json:"max-recv-msg-size,omitempty"`
	RPCTimeout     time.Duration `yaml:"rpc-timeout,omitempty" json:"rpc-timeout,omitempty"`
}

func (g *GRPCServer) validateSetDefaults() error {
	if g.Address == "" {
		g.Address = defaultGRPCAddress
	}
	if g.MaxRecvMsgSize <= 0 {
		g.MaxRecvMsgSize = defaultMaxRecvMsgSize
	}
	if g.RPCTimeout <= 0 {
		g.RPCTimeout = defaultRPCTimeout
	}
	if g.TLS != nil {
		var err error
		for _, f := range []*string{&g.TLS.CA, &g.TLS.Cert, &g.TLS.Key} {
			if *f == "" {
				continue
			}
			if *f, err = expandPath(*f); err != nil {
				return err
			}
		}
		if (g.TLS.Cert == "") != (g.TLS.Key == "") {
			return errors.New("grpc-server tls: cert and key must be set together")
		}
	}
	return nil
}

type PromConfig struct {
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
}

func (p *PromConfig) validateSetDefaults() error {
	if p.Address == "" {
		p.Address = defaultPromAddress
	}
	return nil
}

type PoolConfig struct {
	Name    string `yaml:"name,omitempty" json:"name,omitempty"`
	Workers int    `yaml:"workers,omitempty" json:"workers,omitempty"`
	// Start controls whether the daemon starts the pool's workers at boot.
	Start *bool `yaml:"start,omitempty" json:"start,omitempty"`
	// Metrics controls whether the pool reports to the prometheus registry.
	Metrics *bool `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

func (p *PoolConfig) validateSetDefaults() error {
	if p.Name == "" {
		return errors.New("missing pool name")
	}
	if p.Workers < 0 {
		return fmt.Errorf("pool %q: negative worker count %d", p.Name, p.Workers)
	}
	if p.Workers == 0 {
		p.Workers = defaultPoolWorkers
	}
	if p.Start == nil {
		p.Start = pointer.ToBool(true)
	}
	if p.Metrics == nil {
		p.Metrics = pointer.ToBool(true)
	}
	return nil
}

type LoggingConfig struct {
	// Format is either "text" or "json".
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

func (l *LoggingConfig) validateSetDefaults() error {
	switch l.Format {
	case "":
		l.Format = defaultLogFormat
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("unknown logging format %q", l.Format)
	}
	return nil
}

// Formatter returns the logrus formatter matching the configured format.
func (l *LoggingConfig) Formatter() log.Formatter {
	if l != nil && l.Format == LogFormatJSON {
		return &log.JSONFormatter{}
	}
	return &log.TextFormatter{FullTimestamp: true}
}

func (t *TLS) NewConfig(ctx context.Context) (*tls.Config, error) {
	tlsCfg := &tls.Config{InsecureSkipVerify: t.SkipVerify}
	if t.CA != "" {
		ca, err := os.ReadFile(t.CA)
		if err != nil {
			return nil, fmt.Errorf("failed to read client CA cert: %w", err)
		}
		if len(ca) != 0 {
			caCertPool := x509.NewCertPool()
			caCertPool.AppendCertsFromPEM(ca)
			tlsCfg.ClientCAs = caCertPool
			tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}

	if t.Cert != "" && t.Key != "" {
		certWatcher, err := certwatcher.New(t.Cert, t.Key)
		if err != nil {
			return nil, err
		}

		go func() {
			if err := certWatcher.Start(ctx); err != nil {
				log.Errorf("certificate watcher error: %v", err)
			}
		}()
		tlsCfg.GetCertificate = certWatcher.GetCertificate
	}
	return tlsCfg, nil
}

func expandPath(p string) (string, error) {
	np, err := homedir.Expand(p)
	if err != nil {
		return "", fmt.Errorf("path %q: %v", p, err)
	}
	if !filepath.IsAbs(np) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("path %q: %v", p, err)
		}
		np = filepath.Join(cwd, np)
	}
	return np, nil
}
