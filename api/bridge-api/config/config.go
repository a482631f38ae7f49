// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package config

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/relayvoice/pkg/configs"
)

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`

	// Secret signs observer tokens; empty disables verification.
	Secret string `mapstructure:"secret"`

	RecordingRoot string `mapstructure:"recording_root" validate:"required"`

	PostgresConfig configs.PostgresConfig `mapstructure:"postgres" validate:"required"`
	OpenAIConfig   configs.OpenAIConfig   `mapstructure:"openai" validate:"required"`
	TwilioConfig   configs.TwilioConfig   `mapstructure:"twilio"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env varaibles.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// setting all default values
	// keeping watch on https://github.com/spf13/viper/issues/188

	v.SetDefault("SERVICE_NAME", "bridge-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("SECRET", "")

	v.SetDefault("RECORDING_ROOT", "recordings")

	v.SetDefault("OPENAI__API_KEY", "")
	v.SetDefault("OPENAI__URL", "wss://api.openai.com/v1/realtime")
	v.SetDefault("OPENAI__MODEL", "gpt-realtime")

	v.SetDefault("TWILIO__ACCOUNT_SID", "")
	v.SetDefault("TWILIO__AUTH_TOKEN", "")
	v.SetDefault("TWILIO__FROM_NUMBER", "")
	v.SetDefault("TWILIO__STREAM_URL", "")

	v.SetDefault("POSTGRES__HOST", "localhost")
	v.SetDefault("POSTGRES__PORT", 5432)
	v.SetDefault("POSTGRES__DB_NAME", "relayvoice")
	v.SetDefault("POSTGRES__AUTH__USER", "relayvoice")
	v.SetDefault("POSTGRES__AUTH__PASSWORD", "relayvoice")
	v.SetDefault("POSTGRES__MAX_OPEN_CONNECTION", 10)
	v.SetDefault("POSTGRES__MAX_IDEAL_CONNECTION", 10)
	v.SetDefault("POSTGRES__SSL_MODE", "disable")
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
