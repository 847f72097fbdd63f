package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/3-lines-studio/ingot"
	"github.com/spf13/viper"
)

const (
	configName = "ingot"
	envPrefix  = "INGOT"
)

// Config is the project configuration shared by the ingot binaries.
type Config struct {
	Root        string        `mapstructure:"root"`
	Out         string        `mapstructure:"out"`
	Minify      bool          `mapstructure:"minify"`
	SSR         bool          `mapstructure:"ssr"`
	Dev         bool          `mapstructure:"dev"`
	Addr        string        `mapstructure:"addr"`
	EvalTimeout time.Duration `mapstructure:"eval_timeout"`
	PoolSize    int           `mapstructure:"pool_size"`
	Metrics     bool          `mapstructure:"metrics"`
	PostCSS     bool          `mapstructure:"postcss"`
	Pages       []PageConfig  `mapstructure:"pages"`
	Meta        MetaConfig    `mapstructure:"meta"`
}

// PageConfig declares one page explicitly. When no pages are declared the
// apps/ tree is discovered instead.
type PageConfig struct {
	Path string `mapstructure:"path"`
	App  bool   `mapstructure:"app"`
	SSR  bool   `mapstructure:"ssr"`
}

type MetaConfig struct {
	Title         string `mapstructure:"title"`
	TitleTemplate string `mapstructure:"title_template"`
	Description   string `mapstructure:"description"`
	URL           string `mapstructure:"url"`
	Image         string `mapstructure:"image"`
	Base          string `mapstructure:"base"`
	Robots        string `mapstructure:"robots"`
	TwitterCard   string `mapstructure:"twitter_card"`
}

// New returns a viper instance with the ingot defaults and environment
// bindings; INGOT_DEV=1 maps to dev = true.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", ".")
	v.SetDefault("out", ingot.DefaultOutputDir)
	v.SetDefault("ssr", false)
	v.SetDefault("dev", false)
	v.SetDefault("addr", ":8080")
	v.SetDefault("eval_timeout", "2s")
	v.SetDefault("pool_size", 0)
	v.SetDefault("metrics", true)
	v.SetDefault("postcss", false)
}

// Load reads file, or ingot.{toml,yaml,json} from the working directory
// when file is empty. A missing default file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if v == nil {
		v = New()
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// minify has no default: it follows dev unless set explicitly.
	if v.IsSet("minify") {
		cfg.Minify = v.GetBool("minify")
	} else {
		cfg.Minify = !cfg.Dev
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Out) == "" {
		return errors.New("out must not be empty")
	}
	if filepath.Clean(c.Out) == "." {
		return errors.New("out must not be the project root")
	}
	if c.PoolSize < 0 {
		return errors.New("pool_size must not be negative")
	}
	if c.EvalTimeout < 0 {
		return errors.New("eval_timeout must not be negative")
	}
	for i, page := range c.Pages {
		if strings.TrimSpace(page.Path) == "" {
			return fmt.Errorf("pages[%d]: path is required", i)
		}
	}
	return nil
}

// PageList returns the declared pages, or the discovered app pages when
// none are declared.
func (c *Config) PageList() ([]ingot.Page, error) {
	if len(c.Pages) == 0 {
		return ingot.DiscoverPages(c.Root, c.SSR)
	}

	pages := make([]ingot.Page, 0, len(c.Pages))
	for _, page := range c.Pages {
		pages = append(pages, ingot.NewPage(page.Path, page.App, page.SSR))
	}
	return pages, nil
}

// OutputDir resolves Out against Root.
func (c *Config) OutputDir() string {
	if filepath.IsAbs(c.Out) {
		return c.Out
	}
	return filepath.Join(c.Root, c.Out)
}

func (c *Config) Metadata() ingot.Metadata {
	return ingot.Metadata{
		Title:         c.Meta.Title,
		TitleTemplate: c.Meta.TitleTemplate,
		Description:   c.Meta.Description,
		URL:           c.Meta.URL,
		Image:         c.Meta.Image,
		MetadataBase:  c.Meta.Base,
		Robots:        c.Meta.Robots,
		TwitterCard:   c.Meta.TwitterCard,
	}
}
