// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package configs

import "fmt"

// PostgresAuth carries database credentials.
type PostgresAuth struct {
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
}

// PostgresConfig is the connection configuration for the persistence store.
type PostgresConfig struct {
	Host               string       `mapstructure:"host" validate:"required"`
	Port               int          `mapstructure:"port" validate:"required"`
	DbName             string       `mapstructure:"db_name" validate:"required"`
	Auth               PostgresAuth `mapstructure:"auth" validate:"required"`
	SslMode            string       `mapstructure:"ssl_mode"`
	MaxOpenConnection  int          `mapstructure:"max_open_connection"`
	MaxIdealConnection int          `mapstructure:"max_ideal_connection"`
}

// OpenAIConfig points at the realtime speech endpoint.
type OpenAIConfig struct {
	ApiKey string `mapstructure:"api_key" validate:"required"`
	Url    string `mapstructure:"url" validate:"required"`
	Model  string `mapstructure:"model" validate:"required"`
}

// TwilioConfig carries provider call-control credentials. Optional; without
// it the bridge only accepts inbound streams.
type TwilioConfig struct {
	AccountSid string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	FromNumber string `mapstructure:"from_number"`
	// StreamUrl is the public wss:// media stream endpoint handed to the
	// provider when placing outbound calls.
	StreamUrl string `mapstructure:"stream_url"`
}

// Enabled reports whether call control is configured.
func (c TwilioConfig) Enabled() bool {
	return c.AccountSid != "" && c.AuthToken != ""
}

// DSN renders the gorm/pgx connection string.
func (c PostgresConfig) DSN() string {
	sslMode := c.SslMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Auth.User, c.Auth.Password, c.DbName, sslMode,
	)
}
