package config

import "time"

// TransportConfig is the resolved, per-transport view handed to transport
// builders. It implements transport.Config.
type TransportConfig struct {
	Name              string
	URLs              []string
	ReconnectInterval time.Duration
	Heartbeat         time.Duration
	Prefetch          int
	ConsumerGroup     string
	ClientID          string
	ConfirmPublishes  bool
	ConnectTimeout    time.Duration
}

func (t TransportConfig) GetTransportName() string            { return t.Name }
func (t TransportConfig) GetURLs() []string                   { return append([]string(nil), t.URLs...) }
func (t TransportConfig) GetReconnectInterval() time.Duration { return t.ReconnectInterval }
func (t TransportConfig) GetHeartbeat() time.Duration         { return t.Heartbeat }
func (t TransportConfig) GetPrefetch() int                    { return t.Prefetch }
func (t TransportConfig) GetConsumerGroup() string            { return t.ConsumerGroup }
func (t TransportConfig) GetClientID() string                 { return t.ClientID }
func (t TransportConfig) GetConfirmPublishes() bool           { return t.ConfirmPublishes }
func (t TransportConfig) GetConnectTimeout() time.Duration    { return t.ConnectTimeout }
