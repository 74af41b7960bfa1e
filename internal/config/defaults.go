package config

const (
	defaultDataDir     = "~/.local/share/loom"
	defaultProfilesDir = "~/.local/share/loom/profiles"
	defaultOutputDir   = "~/.local/share/loom/output"
	defaultLogDir      = "~/.local/share/loom/logs"
	defaultAPIBind     = "127.0.0.1:7319"

	defaultProviderBaseURL        = "https://aisandbox-pa.googleapis.com/v1"
	defaultProviderLoginURL       = "https://labs.google/fx/tools/whisk"
	defaultProviderRequestTimeout = 120
	defaultImageModel             = "IMAGEN_3_5"
	defaultAspectRatio            = "IMAGE_ASPECT_RATIO_LANDSCAPE"
	defaultItemsPerPrompt         = 1

	defaultBrowserPath      = "/usr/bin/google-chrome"
	defaultLoginWaitTimeout = 1800
	defaultNavigateTimeout  = 60

	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultStaleRequestGrace  = 30
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultJobRetentionHours  = 24

	defaultMaxRetries     = 3
	defaultBackoffBaseMs  = 5000
	defaultBackoffCapMs   = 300000
	defaultConflictWaitMs = 2000

	defaultNotifyRequestTimeout = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

func defaultStage(concurrency int) Stage {
	return Stage{
		Concurrency:    concurrency,
		MaxRetries:     defaultMaxRetries,
		BackoffBaseMs:  defaultBackoffBaseMs,
		BackoffCapMs:   defaultBackoffCapMs,
		ConflictWaitMs: defaultConflictWaitMs,
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			ProfilesDir: defaultProfilesDir,
			OutputDir:   defaultOutputDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Provider: Provider{
			BaseURL:  defaultProviderBaseURL,
			LoginURL: defaultProviderLoginURL,
			SessionCookieNames: []string{
				"__Secure-next-auth.session-token",
				"__Secure-1PSID",
				"__Secure-3PSID",
			},
			RequestTimeout: defaultProviderRequestTimeout,
			ImageModel:     defaultImageModel,
			AspectRatio:    defaultAspectRatio,
			ItemsPerPrompt: defaultItemsPerPrompt,
		},
		Automation: Automation{
			BrowserPath:      defaultBrowserPath,
			LoginWaitTimeout: defaultLoginWaitTimeout,
			NavigateTimeout:  defaultNavigateTimeout,
			Headless:         true,
		},
		Stages: Stages{
			ProvisionProfile: defaultStage(2),
			// Interactive login and session extraction hold the on-disk
			// browser profile exclusively; concurrency above 1 is rejected
			// by Validate.
			InteractiveLogin:    defaultStage(1),
			ExtractSession:      defaultStage(1),
			CreateRemoteProject: defaultStage(2),
			GenerateContent:     defaultStage(4),
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			StaleRequestGrace:  defaultStaleRequestGrace,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			JobRetentionHours:  defaultJobRetentionHours,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			LoginRequired:  true,
			Blocked:        true,
			Generation:     true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
