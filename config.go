package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"gopkg.in/yaml.v2"
)

const (
	DefaultDirectoryPageSize = 1000
	DefaultXIQPageSize       = 100
	DefaultXIQBaseURL        = "https://api.extremecloudiq.com"
	DefaultXIQTimeout        = 60 * time.Second
	DefaultSMTPPort          = 25
	DefaultEmailSubject      = "XIQ AD PPSK Sync Report"
	DefaultLogFile           = "ppsksync.log"

	BindModeNTLM   = "ntlm"
	BindModeSimple = "simple"
)

// userAccountControl values of deactivated accounts.
var DefaultDisabledCodes = []string{"514", "546", "642", "66050", "66178", "66082"}

type Config struct {
	Directory     DirectoryConfig `yaml:"directory"`
	XIQ           XIQConfig       `yaml:"xiq"`
	GroupRoles    []GroupRole     `yaml:"group_roles"`
	PCG           PCGConfig       `yaml:"pcg"`
	DisabledCodes []string        `yaml:"disabled_codes"`
	SMTP          SMTPConfig      `yaml:"smtp"`
	LogFile       string          `yaml:"log_file"`
}

type DirectoryConfig struct {
	Server     string `yaml:"server"`
	Domain     string `yaml:"domain"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	BaseDN     string `yaml:"base_dn"`
	BindMode   string `yaml:"bind_mode"`
	UseTLS     bool   `yaml:"use_tls"`
	PageSize   uint32 `yaml:"page_size"`
	UserFilter string `yaml:"user_filter"`
}

type XIQConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Token    string        `yaml:"token"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	PageSize int           `yaml:"page_size"`
	Timeout  time.Duration `yaml:"timeout"`
}

type PCGConfig struct {
	Enabled bool                    `yaml:"enabled"`
	Mapping map[int64]PolicyMapping `yaml:"mapping"`
}

type SMTPConfig struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port"`
	StartTLS bool     `yaml:"starttls"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	Subject  string   `yaml:"subject"`
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg, err := ParseConfig(data, os.LookupEnv)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

// ParseConfig decodes YAML, applies environment secrets and defaults, then
// validates. lookupEnv is os.LookupEnv outside of tests.
func ParseConfig(data []byte, lookupEnv func(string) (string, bool)) (Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyEnv(lookupEnv)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) {
	if lookupEnv == nil {
		return
	}

	overrides := []struct {
		key string
		dst *string
	}{
		{"LDAP_SERVER", &c.Directory.Server},
		{"LDAP_USERNAME", &c.Directory.Username},
		{"LDAP_PASSWORD", &c.Directory.Password},
		{"XIQ_TOKEN", &c.XIQ.Token},
		{"XIQ_USERNAME", &c.XIQ.Username},
		{"XIQ_PASSWORD", &c.XIQ.Password},
	}

	for _, o := range overrides {
		if v, ok := lookupEnv(o.key); ok && v != "" {
			*o.dst = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Directory.PageSize == 0 {
		c.Directory.PageSize = DefaultDirectoryPageSize
	}

	if c.Directory.BindMode == "" {
		c.Directory.BindMode = BindModeNTLM
	}

	c.Directory.BindMode = strings.ToLower(c.Directory.BindMode)

	if c.XIQ.BaseURL == "" {
		c.XIQ.BaseURL = DefaultXIQBaseURL
	}

	c.XIQ.BaseURL = strings.TrimRight(c.XIQ.BaseURL, "/")

	if c.XIQ.PageSize <= 0 {
		c.XIQ.PageSize = DefaultXIQPageSize
	}

	if c.XIQ.Timeout <= 0 {
		c.XIQ.Timeout = DefaultXIQTimeout
	}

	if len(c.DisabledCodes) == 0 {
		c.DisabledCodes = append([]string(nil), DefaultDisabledCodes...)
	}

	if c.SMTP.Port == 0 {
		c.SMTP.Port = DefaultSMTPPort
	}

	if c.SMTP.Subject == "" {
		c.SMTP.Subject = DefaultEmailSubject
	}

	if c.LogFile == "" {
		c.LogFile = DefaultLogFile
	}
}

func (c Config) Validate() error {
	var errs []error

	d := c.Directory
	if d.Server == "" {
		errs = append(errs, errors.New("directory.server is required"))
	}

	if d.Domain == "" && d.BaseDN == "" {
		errs = append(errs, errors.New("directory.domain or directory.base_dn is required"))
	}

	if d.Username == "" {
		errs = append(errs, errors.New("directory.username is required"))
	}

	if d.BindMode != BindModeNTLM && d.BindMode != BindModeSimple {
		errs = append(errs, fmt.Errorf("directory.bind_mode %q: want %s or %s", d.BindMode, BindModeNTLM, BindModeSimple))
	}

	if d.BindMode == BindModeNTLM && d.Domain == "" {
		errs = append(errs, errors.New("directory.domain is required for ntlm bind"))
	}

	if d.UserFilter != "" {
		if _, err := ldap.CompileFilter(d.UserFilter); err != nil {
			errs = append(errs, fmt.Errorf("directory.user_filter: %w", err))
		}
	}

	if c.XIQ.Token == "" && (c.XIQ.Username == "" || c.XIQ.Password == "") {
		errs = append(errs, errors.New("xiq.token or xiq.username and xiq.password are required"))
	}

	if len(c.GroupRoles) == 0 {
		errs = append(errs, errors.New("group_roles must not be empty"))
	}

	for i, role := range c.GroupRoles {
		if strings.TrimSpace(role.DirectoryGroup) == "" {
			errs = append(errs, fmt.Errorf("group_roles[%d].directory_group is required", i))
		}

		if role.XIQGroupID <= 0 {
			errs = append(errs, fmt.Errorf("group_roles[%d].xiq_group_id must be positive", i))
		}
	}

	if c.PCG.Enabled {
		for groupID, m := range c.PCG.Mapping {
			if m.PolicyID <= 0 {
				errs = append(errs, fmt.Errorf("pcg.mapping[%d].policy_id must be positive", groupID))
			}

			if m.UserGroupName == "" {
				errs = append(errs, fmt.Errorf("pcg.mapping[%d].user_group_name is required", groupID))
			}
		}
	}

	if c.SMTP.Server != "" {
		if c.SMTP.From == "" {
			errs = append(errs, errors.New("smtp.from is required when smtp.server is set"))
		}

		if len(c.SMTP.To) == 0 {
			errs = append(errs, errors.New("smtp.to is required when smtp.server is set"))
		}
	}

	return errors.Join(errs...)
}

func (c Config) DisabledCodeSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.DisabledCodes))
	for _, code := range c.DisabledCodes {
		set[strings.TrimSpace(code)] = struct{}{}
	}

	return set
}

// PCGPolicy returns the PCG mapping of a remote group. ok is false when the
// cascade is disabled or the group is not mapped.
func (c Config) PCGPolicy(groupID int64) (PolicyMapping, bool) {
	if !c.PCG.Enabled {
		return PolicyMapping{}, false
	}

	m, ok := c.PCG.Mapping[groupID]

	return m, ok
}

// SearchBase is base_dn when set, otherwise the DC components of the domain.
func (d DirectoryConfig) SearchBase() string {
	if d.BaseDN != "" {
		return d.BaseDN
	}

	labels := strings.Split(strings.Trim(d.Domain, "."), ".")
	parts := make([]string, 0, len(labels))

	for _, label := range labels {
		if label != "" {
			parts = append(parts, "DC="+label)
		}
	}

	return strings.Join(parts, ",")
}
