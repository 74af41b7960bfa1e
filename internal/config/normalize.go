package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeProvider()
	c.normalizeAutomation()
	c.normalizeStages()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.ProfilesDir, err = expandPath(c.Paths.ProfilesDir); err != nil {
		return fmt.Errorf("paths.profiles_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeProvider() {
	c.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(c.Provider.BaseURL), "/")
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = defaultProviderBaseURL
	}
	c.Provider.LoginURL = strings.TrimSpace(c.Provider.LoginURL)
	if c.Provider.LoginURL == "" {
		c.Provider.LoginURL = defaultProviderLoginURL
	}
	names := make([]string, 0, len(c.Provider.SessionCookieNames))
	for _, name := range c.Provider.SessionCookieNames {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	c.Provider.SessionCookieNames = names
	if c.Provider.RequestTimeout <= 0 {
		c.Provider.RequestTimeout = defaultProviderRequestTimeout
	}
	if c.Provider.ItemsPerPrompt <= 0 {
		c.Provider.ItemsPerPrompt = defaultItemsPerPrompt
	}
	if strings.TrimSpace(c.Provider.ImageModel) == "" {
		c.Provider.ImageModel = defaultImageModel
	}
	if strings.TrimSpace(c.Provider.AspectRatio) == "" {
		c.Provider.AspectRatio = defaultAspectRatio
	}
}

func (c *Config) normalizeAutomation() {
	c.Automation.BrowserPath = strings.TrimSpace(c.Automation.BrowserPath)
	if c.Automation.BrowserPath == "" {
		if value, ok := os.LookupEnv("LOOM_BROWSER_PATH"); ok {
			c.Automation.BrowserPath = strings.TrimSpace(value)
		}
	}
	if c.Automation.BrowserPath == "" {
		c.Automation.BrowserPath = defaultBrowserPath
	}
	if c.Automation.LoginWaitTimeout <= 0 {
		c.Automation.LoginWaitTimeout = defaultLoginWaitTimeout
	}
	if c.Automation.NavigateTimeout <= 0 {
		c.Automation.NavigateTimeout = defaultNavigateTimeout
	}
}

func (c *Config) normalizeStages() {
	for _, stage := range []*Stage{
		&c.Stages.ProvisionProfile,
		&c.Stages.InteractiveLogin,
		&c.Stages.ExtractSession,
		&c.Stages.CreateRemoteProject,
		&c.Stages.GenerateContent,
	} {
		if stage.Concurrency <= 0 {
			stage.Concurrency = 1
		}
		if stage.MaxRetries < 0 {
			stage.MaxRetries = 0
		}
		if stage.BackoffBaseMs <= 0 {
			stage.BackoffBaseMs = defaultBackoffBaseMs
		}
		if stage.BackoffCapMs < stage.BackoffBaseMs {
			stage.BackoffCapMs = defaultBackoffCapMs
		}
		if stage.ConflictWaitMs <= 0 {
			stage.ConflictWaitMs = defaultConflictWaitMs
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
