package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Chrome   ChromeConfig
	Jimeng   JimengConfig
	Studio   StudioConfig
	Assets   AssetsConfig
	Cron     CronConfig
	Auth     AuthConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Mode         string
	ReadTimeout  int
	WriteTimeout int
}

type DatabaseConfig struct {
	Driver      string // sqlite or mysql
	Path        string // sqlite file
	Host        string
	Port        string
	Username    string
	Password    string
	Database    string
	Charset     string
	AutoMigrate bool
}

type ChromeConfig struct {
	Path           string
	RemoteURL      string
	UserDataDir    string
	HeadlessMode   bool
	Viewport       string // WIDTHxHEIGHT, headless only
	DebugPort      int
	StartupTimeout time.Duration
	IdleTimeout    time.Duration
}

type JimengConfig struct {
	URL               string
	NavigateTimeout   time.Duration
	SubmitTimeout     time.Duration
	UploadTimeout     time.Duration
	AssetListCount    int
	AssetListTimeout  time.Duration
	GenerateAPIMatch  string
	AssetListAPIMatch string
	Selectors         JimengSelectors
}

// JimengSelectors are the DOM hooks of the video page. The site ships new
// markup without notice, so every selector can be overridden by config.
type JimengSelectors struct {
	ModeValue      string
	ModeTrigger    string
	ModeOption     string
	TargetMode     string
	SelectTriggers string
	PopupOption    string
	FrameModeTab   string
	FileInput      string
	UploadError    string
	PromptInput    string
	SubmitButton   string
}

type StudioConfig struct {
	URL             string
	NavigateTimeout time.Duration
	BuildTimeout    time.Duration
	DeployDir       string
	Selectors       StudioSelectors
}

type StudioSelectors struct {
	PromptInput    string
	RunButton      string
	DownloadButton string
	ErrorContainer string
	ErrorTitle     string
}

type AssetsConfig struct {
	RootDir         string
	Concurrency     int
	DownloadTimeout time.Duration
	MaxRedirects    int
}

type CronConfig struct {
	AssetSync   string
	BrowserReap string
}

// AuthConfig guards the relay. Both empty disables auth.
type AuthConfig struct {
	ServiceToken string
	JWTSecret    string
}

func (a AuthConfig) Enabled() bool { return a.ServiceToken != "" || a.JWTSecret != "" }

type LogConfig struct {
	Level string
	JSON  bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "1234")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 300)

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.path", "../see-video-server/database/deployments.db")
	v.SetDefault("db.host", "127.0.0.1")
	v.SetDefault("db.port", "3306")
	v.SetDefault("db.username", "root")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "see_video")
	v.SetDefault("db.charset", "utf8mb4")
	v.SetDefault("db.auto_migrate", true)

	v.SetDefault("chrome.path", "")
	v.SetDefault("chrome.remote_url", "")
	v.SetDefault("chrome.user_data_dir", "./chrome-profile")
	v.SetDefault("chrome.headless", false)
	v.SetDefault("chrome.viewport", "1920x1080")
	v.SetDefault("chrome.debug_port", 9222)
	v.SetDefault("chrome.startup_timeout", "15s")
	v.SetDefault("chrome.idle_timeout", "5m")

	v.SetDefault("jimeng.url", "https://jimeng.jianying.com/ai-tool/home")
	v.SetDefault("jimeng.navigate_timeout", "60s")
	v.SetDefault("jimeng.submit_timeout", "30s")
	v.SetDefault("jimeng.upload_timeout", "60s")
	v.SetDefault("jimeng.asset_list_count", 500)
	v.SetDefault("jimeng.asset_list_timeout", "45s")
	v.SetDefault("jimeng.generate_api_match", "/aigc_draft/generate")
	v.SetDefault("jimeng.asset_list_api_match", "/get_asset_list")
	v.SetDefault("jimeng.selectors.mode_value", ".lv-select-view-value")
	v.SetDefault("jimeng.selectors.mode_trigger", ".lv-select-view")
	v.SetDefault("jimeng.selectors.mode_option", "/html/body/div[5]/span/div/div[2]/div/div/li[3]")
	v.SetDefault("jimeng.selectors.target_mode", "视频生成")
	v.SetDefault("jimeng.selectors.select_triggers", ".lv-select-view")
	v.SetDefault("jimeng.selectors.popup_option", ".lv-select-popup li")
	v.SetDefault("jimeng.selectors.frame_mode_tab", "[class*='frame-mode'] [role='tab'], [class*='frame-mode'] button")
	v.SetDefault("jimeng.selectors.file_input", "input[type='file']")
	v.SetDefault("jimeng.selectors.upload_error", ".lv-message-error")
	v.SetDefault("jimeng.selectors.prompt_input", "textarea")
	v.SetDefault("jimeng.selectors.submit_button", "button[class*='submit-button']")

	v.SetDefault("studio.url", "https://aistudio.google.com/apps")
	v.SetDefault("studio.navigate_timeout", "60s")
	v.SetDefault("studio.build_timeout", "10m")
	v.SetDefault("studio.deploy_dir", "../see-video-server/deployments")
	v.SetDefault("studio.selectors.prompt_input", "textarea")
	v.SetDefault("studio.selectors.run_button", "button[aria-label='Run']")
	v.SetDefault("studio.selectors.download_button", "button[aria-label='Download app']")
	v.SetDefault("studio.selectors.error_container", ".error-container")
	v.SetDefault("studio.selectors.error_title", ".error-title")

	v.SetDefault("assets.root_dir", "../see-video-server/.tmp")
	v.SetDefault("assets.concurrency", 3)
	v.SetDefault("assets.download_timeout", "60s")
	v.SetDefault("assets.max_redirects", 5)

	v.SetDefault("cron.asset_sync", "")
	v.SetDefault("cron.browser_reap", "@every 1m")

	v.SetDefault("auth.service_token", "")
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// envAliases keeps the flat variable names used by the deployment scripts.
var envAliases = map[string]string{
	"server.port":          "SERVER_PORT",
	"server.host":          "SERVER_HOST",
	"server.mode":          "SERVER_MODE",
	"db.driver":            "DB_DRIVER",
	"db.path":              "DB_PATH",
	"db.host":              "DB_HOST",
	"db.port":              "DB_PORT",
	"db.username":          "DB_USERNAME",
	"db.password":          "DB_PASSWORD",
	"db.name":              "DB_NAME",
	"chrome.path":          "CHROME_PATH",
	"chrome.remote_url":    "CHROME_REMOTE_URL",
	"chrome.user_data_dir": "CHROME_USER_DATA_DIR",
	"chrome.headless":      "CHROME_HEADLESS",
	"chrome.debug_port":    "CHROME_DEBUG_PORT",
	"chrome.viewport":      "CHROME_VIEWPORT",
	"jimeng.url":           "JIMENG_VIDEO_URL",
	"studio.url":           "AI_STUDIO_URL",
	"assets.root_dir":      "ASSETS_ROOT_DIR",
	"auth.service_token":   "AUTH_SERVICE_TOKEN",
	"auth.jwt_secret":      "AUTH_JWT_SECRET",
	"log.level":            "LOG_LEVEL",
}

// LoadConfig reads defaults, an optional config file and the environment,
// in increasing order of precedence.
func LoadConfig(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if file == "" {
		file = v.GetString("config_file")
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:         v.GetString("server.port"),
			Host:         v.GetString("server.host"),
			Mode:         v.GetString("server.mode"),
			ReadTimeout:  v.GetInt("server.read_timeout"),
			WriteTimeout: v.GetInt("server.write_timeout"),
		},
		Database: DatabaseConfig{
			Driver:      strings.ToLower(v.GetString("db.driver")),
			Path:        v.GetString("db.path"),
			Host:        v.GetString("db.host"),
			Port:        v.GetString("db.port"),
			Username:    v.GetString("db.username"),
			Password:    v.GetString("db.password"),
			Database:    v.GetString("db.name"),
			Charset:     v.GetString("db.charset"),
			AutoMigrate: v.GetBool("db.auto_migrate"),
		},
		Chrome: ChromeConfig{
			Path:           v.GetString("chrome.path"),
			RemoteURL:      v.GetString("chrome.remote_url"),
			UserDataDir:    v.GetString("chrome.user_data_dir"),
			HeadlessMode:   v.GetBool("chrome.headless"),
			Viewport:       v.GetString("chrome.viewport"),
			DebugPort:      v.GetInt("chrome.debug_port"),
			StartupTimeout: v.GetDuration("chrome.startup_timeout"),
			IdleTimeout:    v.GetDuration("chrome.idle_timeout"),
		},
		Jimeng: JimengConfig{
			URL:               v.GetString("jimeng.url"),
			NavigateTimeout:   v.GetDuration("jimeng.navigate_timeout"),
			SubmitTimeout:     v.GetDuration("jimeng.submit_timeout"),
			UploadTimeout:     v.GetDuration("jimeng.upload_timeout"),
			AssetListCount:    v.GetInt("jimeng.asset_list_count"),
			AssetListTimeout:  v.GetDuration("jimeng.asset_list_timeout"),
			GenerateAPIMatch:  v.GetString("jimeng.generate_api_match"),
			AssetListAPIMatch: v.GetString("jimeng.asset_list_api_match"),
			Selectors: JimengSelectors{
				ModeValue:      v.GetString("jimeng.selectors.mode_value"),
				ModeTrigger:    v.GetString("jimeng.selectors.mode_trigger"),
				ModeOption:     v.GetString("jimeng.selectors.mode_option"),
				TargetMode:     v.GetString("jimeng.selectors.target_mode"),
				SelectTriggers: v.GetString("jimeng.selectors.select_triggers"),
				PopupOption:    v.GetString("jimeng.selectors.popup_option"),
				FrameModeTab:   v.GetString("jimeng.selectors.frame_mode_tab"),
				FileInput:      v.GetString("jimeng.selectors.file_input"),
				UploadError:    v.GetString("jimeng.selectors.upload_error"),
				PromptInput:    v.GetString("jimeng.selectors.prompt_input"),
				SubmitButton:   v.GetString("jimeng.selectors.submit_button"),
			},
		},
		Studio: StudioConfig{
			URL:             v.GetString("studio.url"),
			NavigateTimeout: v.GetDuration("studio.navigate_timeout"),
			BuildTimeout:    v.GetDuration("studio.build_timeout"),
			DeployDir:       v.GetString("studio.deploy_dir"),
			Selectors: StudioSelectors{
				PromptInput:    v.GetString("studio.selectors.prompt_input"),
				RunButton:      v.GetString("studio.selectors.run_button"),
				DownloadButton: v.GetString("studio.selectors.download_button"),
				ErrorContainer: v.GetString("studio.selectors.error_container"),
				ErrorTitle:     v.GetString("studio.selectors.error_title"),
			},
		},
		Assets: AssetsConfig{
			RootDir:         v.GetString("assets.root_dir"),
			Concurrency:     v.GetInt("assets.concurrency"),
			DownloadTimeout: v.GetDuration("assets.download_timeout"),
			MaxRedirects:    v.GetInt("assets.max_redirects"),
		},
		Cron: CronConfig{
			AssetSync:   v.GetString("cron.asset_sync"),
			BrowserReap: v.GetString("cron.browser_reap"),
		},
		Auth: AuthConfig{
			ServiceToken: v.GetString("auth.service_token"),
			JWTSecret:    v.GetString("auth.jwt_secret"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
			JSON:  v.GetBool("log.json"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Assets.Concurrency <= 0 {
		c.Assets.Concurrency = 3
	}
	if c.Jimeng.AssetListCount <= 0 {
		c.Jimeng.AssetListCount = 500
	}
	return nil
}

func (c *Config) GetDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.Path
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=Local",
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.Charset,
	)
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}
