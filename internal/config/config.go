package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Session  SessionConfig  `mapstructure:"session"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Export   ExportConfig   `mapstructure:"export"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig Redis配置（Host 为空表示不使用Redis，会话退化为进程内存储）
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// TelegramConfig Telegram机器人配置
type TelegramConfig struct {
	// BotToken 机器人令牌；为空表示禁用机器人与投递通知
	BotToken string `mapstructure:"bot_token"`
	// APIBaseURL Bot API 基础地址（测试时可指向本地模拟服务）
	APIBaseURL string `mapstructure:"api_base_url"`
	// PollTimeout getUpdates 长轮询超时（秒）
	PollTimeout int `mapstructure:"poll_timeout"`
	// RequestTimeout 单次HTTP请求超时
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SessionConfig 会话存储配置（选中设备与管理员令牌）
type SessionConfig struct {
	// TTL 会话条目的过期时间
	TTL time.Duration `mapstructure:"ttl"`
	// AdminTTL 管理员登录令牌的过期时间
	AdminTTL time.Duration `mapstructure:"admin_ttl"`
}

// AdminConfig 管理端配置
type AdminConfig struct {
	// PasswordHash 管理员口令的bcrypt哈希；为空表示管理接口不设防（仅限开发）
	PasswordHash string `mapstructure:"password_hash"`
}

// ExportConfig 历史导出配置
type ExportConfig struct {
	// Backend 导出归档后端：none | minio
	Backend string      `mapstructure:"backend"`
	Minio   MinioConfig `mapstructure:"minio"`
}

// MinioConfig 对象存储配置（CSV归档）
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
	// Prefix 对象键的顶层前缀
	Prefix string `mapstructure:"prefix"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

var globalConfig *Config

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	// 设置默认值
	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		// 默认配置文件路径
		viper.SetConfigName("config")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("../configs")
		viper.AddConfigPath("../../configs")
	}

	// 设置环境变量前缀
	viper.SetEnvPrefix("RELAY_DISPATCH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 机器人令牌支持 ${ENV} 形式，避免把令牌写进配置文件
	config.Telegram.BotToken = expandEnv(config.Telegram.BotToken)
	config.Export.Minio.AccessKey = expandEnv(config.Export.Minio.AccessKey)
	config.Export.Minio.SecretKey = expandEnv(config.Export.Minio.SecretKey)

	globalConfig = &config
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Second)

	viper.SetDefault("database.sqlite.path", "./data/commands.db")
	viper.SetDefault("database.sqlite.max_idle_conns", 1)
	viper.SetDefault("database.sqlite.max_open_conns", 1)
	viper.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	// 会话默认10分钟过期，与机器人对话节奏匹配；管理员令牌12小时
	viper.SetDefault("session.ttl", 10*time.Minute)
	viper.SetDefault("session.admin_ttl", 12*time.Hour)

	viper.SetDefault("telegram.api_base_url", "https://api.telegram.org")
	viper.SetDefault("telegram.poll_timeout", 25)
	viper.SetDefault("telegram.request_timeout", 35*time.Second)

	viper.SetDefault("export.backend", "none")
	viper.SetDefault("export.minio.prefix", "command-exports")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "console")
}

// Get 获取全局配置
func Get() *Config {
	return globalConfig
}

// expandEnv 替换 ${VAR} 形式的环境变量引用
func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		envVar := strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}")
		if v := os.Getenv(envVar); v != "" {
			return v
		}
		return ""
	}
	return value
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
