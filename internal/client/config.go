package client

import (
	"strings"
	"time"

	"github.com/missileglobe/globe-client/internal/ballistics"
	"github.com/missileglobe/globe-client/internal/config"
	"github.com/missileglobe/globe-client/internal/store"
)

// Config gathers every setting the client needs.
type Config struct {
	Server           config.ServerConfig
	Reconnect        config.ReconnectConfig
	Physics          ballistics.Config
	Retention        store.Config
	Automation       config.AutomationConfig
	Persist          config.PersistConfig
	Influx           config.InfluxConfig
	Control          config.ControlConfig
	CredentialsPath  string
	Nation           string
	HandshakeTimeout time.Duration
}

// ConfigFromViper reads the loaded configuration.
func ConfigFromViper() Config {
	return Config{
		Server:           config.GetServerConfig(),
		Reconnect:        config.GetReconnectConfig(),
		Physics:          config.GetPhysicsConfig(),
		Retention:        config.GetRetentionConfig(),
		Automation:       config.GetAutomationConfig(),
		Persist:          config.GetPersistConfig(),
		Influx:           config.GetInfluxConfig(),
		Control:          config.GetControlConfig(),
		CredentialsPath:  config.GetString("credentials.path"),
		Nation:           config.GetString("nation"),
		HandshakeTimeout: config.GetDuration("handshake.timeout"),
	}
}

// WebsocketURL converts the server URL to its websocket endpoint.
func (c Config) WebsocketURL() string {
	s := strings.TrimRight(c.Server.URL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	path := c.Server.WebsocketPath
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return s + path
}
