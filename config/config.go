package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Environment string

const (
	CI          Environment = "ci"
	Testing     Environment = "test"
	Development Environment = "dev"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

func GetEnv() Environment {
	env := os.Getenv("ENV")
	switch env {
	case "ci":
		return CI
	case "test":
		return Testing
	case "dev":
		return Development
	case "staging":
		return Staging
	case "production":
		return Production
	case "":
		panic("Environment not set")
	default:
		panic(fmt.Sprintf("Invalid environment: %s", env))
	}
}

type Config struct {
	DSN                string `mapstructure:"dsn"`
	HTTPAddr           string `mapstructure:"http_addr"`
	GithubAPIURL       string `mapstructure:"github_api_url"`
	GithubToken        string `mapstructure:"github_token"`
	TelegramToken      string `mapstructure:"telegram_token"`
	SlackWebhookURL    string `mapstructure:"slack_webhook_url"`
	SweepIntervalHours int    `mapstructure:"sweep_interval_hours"`
	Timezone           string `mapstructure:"timezone"`
}

func InitConfig(env Environment) *Config {
	var c Config

	viper.SetConfigName(string(env))
	viper.SetConfigType("yaml")
	viper.AddConfigPath(fmt.Sprintf("./env/%s", env))
	viper.AddConfigPath(fmt.Sprintf("../env/%s", env))
	viper.AddConfigPath(fmt.Sprintf("../../env/%s", env))

	viper.SetDefault("http_addr", ":8880")
	viper.SetDefault("github_api_url", "https://api.github.com")
	viper.SetDefault("sweep_interval_hours", 24)
	viper.SetDefault("timezone", "Europe/Moscow")

	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to read config file: %v\n", err))
	}

	err = viper.Unmarshal(&c)
	if err != nil {
		panic(fmt.Sprintf("unable to decode into struct, %v", err))
	}

	return &c
}
