// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Solver   SolverConfig   `mapstructure:"solver" yaml:"solver"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Target   TargetConfig   `mapstructure:"target" yaml:"target"`
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`

	// File output with rotation. Empty LogFile disables file logging.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig controls the chromedp driver adapter.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	WaitTimeout       time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	// ArtifactDir is where captured proof screenshots are written.
	// Supports ~ expansion.
	ArtifactDir string `mapstructure:"artifact_dir" yaml:"artifact_dir"`
}

// SolverConfig controls the external challenge solver client.
type SolverConfig struct {
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxPollAttempts   int           `mapstructure:"max_poll_attempts" yaml:"max_poll_attempts"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// SessionConfig controls session lifecycle enforcement.
type SessionConfig struct {
	// Timeout is the inactivity window after which a session is expired.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// SweepInterval is how often the registry scans for expired sessions.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	// InputBuffer is the per-session queued input capacity.
	InputBuffer int `mapstructure:"input_buffer" yaml:"input_buffer"`
}

// Selectors names the page elements the flow and executor interact with.
// These are target-site specific and fully configurable.
type Selectors struct {
	LoginButton     string `mapstructure:"login_button" yaml:"login_button"`
	EmailField      string `mapstructure:"email_field" yaml:"email_field"`
	SubmitButton    string `mapstructure:"submit_button" yaml:"submit_button"`
	OTPPrompt       string `mapstructure:"otp_prompt" yaml:"otp_prompt"`
	OTPField        string `mapstructure:"otp_field" yaml:"otp_field"`
	OTPSubmit       string `mapstructure:"otp_submit" yaml:"otp_submit"`
	TwoFactorPrompt string `mapstructure:"twofactor_prompt" yaml:"twofactor_prompt"`
	TwoFactorField  string `mapstructure:"twofactor_field" yaml:"twofactor_field"`
	TwoFactorSubmit string `mapstructure:"twofactor_submit" yaml:"twofactor_submit"`
	LoggedIn        string `mapstructure:"logged_in" yaml:"logged_in"`
	InvalidCode     string `mapstructure:"invalid_code" yaml:"invalid_code"`
	RecaptchaSite   string `mapstructure:"recaptcha_site" yaml:"recaptcha_site"`
	ActionButton    string `mapstructure:"action_button" yaml:"action_button"`
	ConfirmButton   string `mapstructure:"confirm_button" yaml:"confirm_button"`
}

// TargetConfig describes the remote web application under automation.
type TargetConfig struct {
	URL       string    `mapstructure:"url" yaml:"url"`
	ActionURL string    `mapstructure:"action_url" yaml:"action_url"`
	Selectors Selectors `mapstructure:"selectors" yaml:"selectors"`

	// ManagedParamsScript is the page expression yielding the managed-JS
	// challenge parameter object (or null when the challenge is absent).
	ManagedParamsScript string `mapstructure:"managed_params_script" yaml:"managed_params_script"`
	// ManagedCookieName is the cookie a solved managed challenge token is
	// written to.
	ManagedCookieName string `mapstructure:"managed_cookie_name" yaml:"managed_cookie_name"`
	// CookieDomain is the domain solved tokens are scoped to. Derived from
	// URL when empty.
	CookieDomain string `mapstructure:"cookie_domain" yaml:"cookie_domain"`
}

// TelegramConfig controls the front-end adapter.
type TelegramConfig struct {
	Token string `mapstructure:"token" yaml:"token"`
	Debug bool   `mapstructure:"debug" yaml:"debug"`
}

// StoreConfig controls the optional outcome store. An empty DSN disables
// persistence entirely.
type StoreConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// SetDefaults registers the default values on the given viper instance.
// Call before ReadInConfig so explicit settings win.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "vouch-cli")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.navigation_timeout", 60*time.Second)
	v.SetDefault("browser.wait_timeout", 30*time.Second)
	v.SetDefault("browser.artifact_dir", "~/.vouch/artifacts")

	v.SetDefault("solver.base_url", "https://2captcha.com")
	v.SetDefault("solver.request_timeout", 30*time.Second)
	v.SetDefault("solver.poll_interval", 5*time.Second)
	v.SetDefault("solver.max_poll_attempts", 24)
	v.SetDefault("solver.requests_per_second", 1.0)

	v.SetDefault("session.timeout", 15*time.Minute)
	v.SetDefault("session.sweep_interval", 30*time.Second)
	v.SetDefault("session.input_buffer", 8)

	v.SetDefault("target.selectors.login_button", "a[href*='login'], button.login")
	v.SetDefault("target.selectors.email_field", "input[name='email']")
	v.SetDefault("target.selectors.submit_button", "button[type='submit']")
	v.SetDefault("target.selectors.otp_prompt", "input[type='tel'], input[name*='code']")
	v.SetDefault("target.selectors.otp_field", "input[name*='code']")
	v.SetDefault("target.selectors.otp_submit", "button[type='submit']")
	v.SetDefault("target.selectors.twofactor_prompt", "input[name*='totp']")
	v.SetDefault("target.selectors.twofactor_field", "input[name*='totp']")
	v.SetDefault("target.selectors.twofactor_submit", "button[type='submit']")
	v.SetDefault("target.selectors.logged_in", "[data-logged-in], .account-menu")
	v.SetDefault("target.selectors.invalid_code", ".error-message, [data-error]")
	v.SetDefault("target.selectors.recaptcha_site", "[data-sitekey]")
	v.SetDefault("target.managed_params_script", "window.wafParams || null")
	v.SetDefault("target.managed_cookie_name", "aws-waf-token")
}

// Validate checks cross-field consistency and normalizes derived values.
func (c *Config) Validate() error {
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be positive, got %s", c.Session.Timeout)
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session.sweep_interval must be positive, got %s", c.Session.SweepInterval)
	}
	if c.Session.InputBuffer <= 0 {
		c.Session.InputBuffer = 8
	}
	if c.Solver.PollInterval <= 0 {
		return fmt.Errorf("solver.poll_interval must be positive, got %s", c.Solver.PollInterval)
	}
	if c.Solver.MaxPollAttempts <= 0 {
		return fmt.Errorf("solver.max_poll_attempts must be positive, got %d", c.Solver.MaxPollAttempts)
	}
	if c.Target.URL == "" {
		return fmt.Errorf("target.url is required")
	}
	if _, err := url.ParseRequestURI(c.Target.URL); err != nil {
		return fmt.Errorf("target.url is not a valid URL: %w", err)
	}
	if c.Target.ActionURL == "" {
		c.Target.ActionURL = c.Target.URL
	}
	if c.Target.CookieDomain == "" {
		u, err := url.Parse(c.Target.URL)
		if err != nil {
			return fmt.Errorf("cannot derive cookie domain from target.url: %w", err)
		}
		c.Target.CookieDomain = u.Hostname()
	}

	dir, err := homedir.Expand(c.Browser.ArtifactDir)
	if err != nil {
		return fmt.Errorf("failed to expand browser.artifact_dir: %w", err)
	}
	c.Browser.ArtifactDir = dir

	return nil
}
