package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPageSize       = 50
	DefaultConcurrency    = 8
	DefaultResolvedStatus = "Resolved"
	FileName              = "sprintreport.yml"
)

var (
	ErrNoSearches     = errors.New("no searches configured")
	ErrUnknownSearch  = errors.New("unknown search")
	ErrEmptySearchArg = errors.New("search name not specified")
)

// Config models sprintreport.yml.
type Config struct {
	Jira     JiraConfig   `yaml:"jira"`
	Searches []Search     `yaml:"searches"`
	Report   ReportConfig `yaml:"report"`
	Server   ServerConfig `yaml:"server"`
	Export   ExportConfig `yaml:"export"`
	Log      LogConfig    `yaml:"log"`
}

type JiraConfig struct {
	Protocol   string        `yaml:"protocol"`
	Host       string        `yaml:"host"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	APIVersion string        `yaml:"api_version"`
	StrictSSL  *bool         `yaml:"strict_ssl"`
	Timeout    time.Duration `yaml:"timeout"`
}

// BaseURL is protocol://host without a trailing slash.
func (j JiraConfig) BaseURL() string {
	return fmt.Sprintf("%s://%s", j.Protocol, strings.TrimRight(j.Host, "/"))
}

// VerifyTLS reports whether certificates must be verified; defaults to true.
func (j JiraConfig) VerifyTLS() bool {
	return j.StrictSSL == nil || *j.StrictSSL
}

type Search struct {
	Name     string    `yaml:"name" json:"name"`
	JQL      string    `yaml:"jql" json:"jql"`
	Schedule *Schedule `yaml:"schedule,omitempty" json:"schedule,omitempty"`
}

// Schedule is a weekly recurrence: run on the listed days at hour:minute.
// Days use 0=Sunday..6=Saturday.
type Schedule struct {
	DaysOfWeek []int `yaml:"days_of_week" json:"days_of_week"`
	Hour       int   `yaml:"hour" json:"hour"`
	Minute     int   `yaml:"minute" json:"minute"`
}

// CronSpec renders the schedule as a five-field cron expression.
func (s Schedule) CronSpec() string {
	dow := "*"
	if len(s.DaysOfWeek) > 0 {
		days := append([]int(nil), s.DaysOfWeek...)
		sort.Ints(days)
		parts := make([]string, 0, len(days))
		for _, d := range days {
			parts = append(parts, fmt.Sprint(d))
		}
		dow = strings.Join(parts, ",")
	}
	return fmt.Sprintf("%d %d * * %s", s.Minute, s.Hour, dow)
}

type ReportConfig struct {
	PageSize       int          `yaml:"page_size"`
	Concurrency    int          `yaml:"concurrency"`
	ResolvedStatus string       `yaml:"resolved_status"`
	MoSCoW         MoSCoWConfig `yaml:"moscow"`
}

type MoSCoWConfig struct {
	Field  string   `yaml:"field"`
	Labels []string `yaml:"labels"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	BasePath  string `yaml:"base_path"`
	JWTSecret string `yaml:"jwt_secret"`
}

type ExportConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and validates config from path. An empty path means ./sprintreport.yml.
func Load(path string) (*Config, error) {
	if path == "" {
		path = FileName
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sr config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses config bytes, applies defaults and validates.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Jira.Protocol == "" {
		c.Jira.Protocol = "https"
	}
	if c.Jira.APIVersion == "" {
		c.Jira.APIVersion = "2"
	}
	if c.Jira.Timeout == 0 {
		c.Jira.Timeout = 30 * time.Second
	}
	if c.Report.PageSize == 0 {
		c.Report.PageSize = DefaultPageSize
	}
	if c.Report.Concurrency == 0 {
		c.Report.Concurrency = DefaultConcurrency
	}
	if c.Report.ResolvedStatus == "" {
		c.Report.ResolvedStatus = DefaultResolvedStatus
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v0"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Jira.Protocol != "http" && c.Jira.Protocol != "https" {
		return fmt.Errorf("config.jira.protocol must be http or https, got %q", c.Jira.Protocol)
	}
	if strings.TrimSpace(c.Jira.Host) == "" {
		return fmt.Errorf("config.jira.host is required")
	}
	if c.Jira.APIVersion != "2" && c.Jira.APIVersion != "3" {
		return fmt.Errorf("config.jira.api_version must be 2 or 3")
	}
	if len(c.Searches) == 0 {
		return fmt.Errorf("config.searches: %w", ErrNoSearches)
	}
	seen := map[string]bool{}
	for i, s := range c.Searches {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("search #%d has empty name", i+1)
		}
		if seen[s.Name] {
			return fmt.Errorf("search %s defined more than once", s.Name)
		}
		seen[s.Name] = true
		if strings.TrimSpace(s.JQL) == "" {
			return fmt.Errorf("search %s has empty jql", s.Name)
		}
		if s.Schedule != nil {
			if err := s.Schedule.validate(); err != nil {
				return fmt.Errorf("search %s schedule: %w", s.Name, err)
			}
		}
	}
	if c.Report.PageSize < 1 || c.Report.PageSize > 1000 {
		return fmt.Errorf("config.report.page_size must be between 1 and 1000")
	}
	if c.Report.Concurrency < 1 {
		return fmt.Errorf("config.report.concurrency must be positive")
	}
	if len(c.Report.MoSCoW.Labels) > 0 && c.Report.MoSCoW.Field == "" {
		return fmt.Errorf("config.report.moscow.field is required when labels are set")
	}
	for _, l := range c.Report.MoSCoW.Labels {
		if strings.TrimSpace(l) == "" {
			return fmt.Errorf("config.report.moscow.labels contains an empty label")
		}
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config.log.level: %w", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("config.log.format must be console or json")
	}
	return nil
}

func (s Schedule) validate() error {
	if s.Hour < 0 || s.Hour > 23 {
		return fmt.Errorf("hour %d out of range", s.Hour)
	}
	if s.Minute < 0 || s.Minute > 59 {
		return fmt.Errorf("minute %d out of range", s.Minute)
	}
	for _, d := range s.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("day of week %d out of range", d)
		}
	}
	return nil
}

// FindSearch returns the configured search with the given name.
func (c *Config) FindSearch(name string) (Search, error) {
	if strings.TrimSpace(name) == "" {
		return Search{}, ErrEmptySearchArg
	}
	if len(c.Searches) == 0 {
		return Search{}, ErrNoSearches
	}
	for _, s := range c.Searches {
		if s.Name == name {
			return s, nil
		}
	}
	return Search{}, fmt.Errorf("%w %q; configured searches: %s", ErrUnknownSearch, name, strings.Join(c.SearchNames(), ", "))
}

func (c *Config) SearchNames() []string {
	names := make([]string, 0, len(c.Searches))
	for _, s := range c.Searches {
		names = append(names, s.Name)
	}
	return names
}

// Path returns the config file path inside dir.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, FileName)
}

// GenerateDefault returns a starter config for the given Jira host.
func GenerateDefault(host string) string {
	return fmt.Sprintf(defaultTemplate, host)
}

// Default returns the parsed starter config.
func Default(host string) *Config {
	cfg, err := FromYAML([]byte(GenerateDefault(host)))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

const defaultTemplate = `jira:
  protocol: https
  host: %s
  username: ""
  password: ""
  api_version: "2"
  strict_ssl: true
  timeout: 30s

searches:
  - name: current
    jql: sprint in openSprints() OR sprint in futureSprints() ORDER BY Rank
    schedule:
      days_of_week: [1, 2, 3, 4, 5]
      hour: 9
      minute: 0

report:
  page_size: 50
  concurrency: 8
  resolved_status: Resolved
  moscow:
    field: ""
    labels: []

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret: ""

export:
  sqlite_path: ""

log:
  level: info
  format: console
`
