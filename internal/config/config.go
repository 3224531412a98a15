package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "DYNACRUD"

type Auth struct {
	Secret string `mapstructure:"secret"`
	// token lifetime in minutes
	Expiry int `mapstructure:"expiry"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" | "json"
}

type Config struct {
	Port        int    `mapstructure:"port"`
	BaseURL     string `mapstructure:"baseUrl"`
	AdminPath   string `mapstructure:"adminPath"`
	MappingDir  string `mapstructure:"mappingDir"`
	DBURL       string `mapstructure:"dbUrl"` // empty = in-memory
	AutoMigrate bool   `mapstructure:"autoMigrate"`
	Debug       bool   `mapstructure:"debug"`
	Auth        Auth   `mapstructure:"auth"`
	Log         Log    `mapstructure:"log"`
}

// Addr is the listen address for Port.
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// SetDefaults installs the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("baseUrl", "/api/v1")
	v.SetDefault("adminPath", "/admin")
	v.SetDefault("mappingDir", ".dynacrud/models")
	v.SetDefault("dbUrl", "")
	v.SetDefault("autoMigrate", false)
	v.SetDefault("debug", false)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.expiry", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// New returns a viper instance with defaults and DYNACRUD_ environment
// lookup: DYNACRUD_DB_URL style names are accepted next to DYNACRUD_DBURL.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range snakeEnv {
		_ = v.BindEnv(key, EnvPrefix+"_"+env, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
	return v
}

var snakeEnv = map[string]string{
	"baseUrl":     "BASE_URL",
	"adminPath":   "ADMIN_PATH",
	"mappingDir":  "MAPPING_DIR",
	"dbUrl":       "DB_URL",
	"autoMigrate": "AUTO_MIGRATE",
	"auth.secret": "AUTH_SECRET",
	"log.level":   "LOG_LEVEL",
	"log.format":  "LOG_FORMAT",
}

// Load reads the optional config file at path (yaml or json by extension;
// "" looks for dynacrud.yaml in the working directory) and unmarshals v.
// A missing default file is not an error; a missing explicit file is.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dynacrud")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &nf) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.BaseURL = cleanPrefix(c.BaseURL)
	c.AdminPath = cleanPrefix(c.AdminPath)
	c.MappingDir = strings.TrimSpace(c.MappingDir)
	c.DBURL = strings.TrimSpace(c.DBURL)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

func cleanPrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}
