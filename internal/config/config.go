package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"cdpaudit/pkg/model"
)

// ErrConfigNotFound 配置文件不存在
var ErrConfigNotFound = errors.New("configuration file not found")

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Chrome struct {
		Host           string `yaml:"host" envconfig:"CHROME_HOST"`
		Port           int    `yaml:"port" envconfig:"CHROME_PORT"`
		Mode           string `yaml:"mode" ignored:"true"`
		TimeoutSeconds int    `yaml:"timeoutSeconds" ignored:"true"`
	} `yaml:"chrome"`

	Crawl struct {
		Domains           []string                 `yaml:"domains"`
		Violations        []model.ViolationSetting `yaml:"violations"`
		Attribution       string                   `yaml:"attribution"`
		CertThresholdDays float64                  `yaml:"certThresholdDays"`
		UnregisterWorkers bool                     `yaml:"unregisterWorkers"`
	} `yaml:"crawl"`

	Inject struct {
		Enabled               bool   `yaml:"enabled"`
		Permission            string `yaml:"permission"`
		WrapRequestPermission bool   `yaml:"wrapRequestPermission"`
	} `yaml:"inject"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Chrome.Host = "localhost"
	c.Chrome.Port = 9222
	c.Chrome.Mode = string(model.TargetIsolated)
	c.Chrome.TimeoutSeconds = 45

	for _, d := range model.DefaultDomains() {
		c.Crawl.Domains = append(c.Crawl.Domains, string(d))
	}
	c.Crawl.Violations = model.DefaultViolationSettings()
	c.Crawl.Attribution = string(model.AttributeDrop)
	c.Crawl.CertThresholdDays = 30

	c.Inject.Enabled = true
	c.Inject.Permission = "default"
	c.Inject.WrapRequestPermission = true

	c.Sqlite.Prefix = "cdpaudit_"

	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	return c
}

// Load 读取 YAML 文件并覆盖到默认配置之上
func Load(path string) (*Config, error) {
	c := NewConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// ApplyEnv 使用环境变量覆盖会话地址（CHROME_HOST / CHROME_PORT）
func (c *Config) ApplyEnv() error {
	return envconfig.Process("", &c.Chrome)
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if c.Chrome.Host == "" {
		return errors.New("chrome.host is empty")
	}
	if c.Chrome.Port <= 0 || c.Chrome.Port > 65535 {
		return fmt.Errorf("chrome.port %d out of range", c.Chrome.Port)
	}
	switch model.TargetMode(c.Chrome.Mode) {
	case model.TargetShared, model.TargetIsolated:
	default:
		return fmt.Errorf("chrome.mode %q: want shared or isolated", c.Chrome.Mode)
	}
	if c.Chrome.TimeoutSeconds <= 0 {
		return fmt.Errorf("chrome.timeoutSeconds must be positive, got %d", c.Chrome.TimeoutSeconds)
	}
	switch model.AttributionPolicy(c.Crawl.Attribution) {
	case model.AttributeDrop, model.AttributePrevious, model.AttributeEmpty:
	default:
		return fmt.Errorf("crawl.attribution %q: want drop, previous or empty", c.Crawl.Attribution)
	}
	if c.Crawl.CertThresholdDays < 0 {
		return fmt.Errorf("crawl.certThresholdDays must not be negative, got %v", c.Crawl.CertThresholdDays)
	}
	seen := make(map[string]bool, len(c.Crawl.Domains))
	for _, d := range c.Crawl.Domains {
		if d == "" {
			return errors.New("crawl.domains: empty name")
		}
		if seen[d] {
			return fmt.Errorf("crawl.domains: %s listed twice", d)
		}
		seen[d] = true
	}
	for _, v := range c.Crawl.Violations {
		if v.Name == "" {
			return errors.New("crawl.violations: empty name")
		}
		if v.Threshold < 0 && v.Threshold != -1 {
			return fmt.Errorf("crawl.violations %s: threshold %v", v.Name, v.Threshold)
		}
	}
	return nil
}

// DevToolsURL 远程调试 HTTP 端点
func (c *Config) DevToolsURL() string {
	return "http://" + net.JoinHostPort(c.Chrome.Host, strconv.Itoa(c.Chrome.Port))
}

// Timeout 单个 URL 的导航超时
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Chrome.TimeoutSeconds) * time.Second
}

// Domains 配置中的插桩域
func (c *Config) Domains() []model.Domain {
	out := make([]model.Domain, 0, len(c.Crawl.Domains))
	for _, d := range c.Crawl.Domains {
		out = append(out, model.Domain(d))
	}
	return out
}
