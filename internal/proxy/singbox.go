package proxy

import (
	"encoding/json"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
)

// sing-box configuration types, limited to the fields this application
// emits: one local SOCKS inbound bridged to one authenticated SOCKS
// outbound.

type singboxLog struct {
	Level string `json:"level"`
}

type singboxInbound struct {
	Type       string `json:"type"`
	Tag        string `json:"tag"`
	Listen     string `json:"listen"`
	ListenPort int    `json:"listen_port"`
	Sniff      bool   `json:"sniff"`
}

type singboxOutbound struct {
	Type       string `json:"type"`
	Tag        string `json:"tag"`
	Server     string `json:"server"`
	ServerPort int    `json:"server_port"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
}

type singboxConfig struct {
	Log       singboxLog        `json:"log"`
	Inbounds  []singboxInbound  `json:"inbounds"`
	Outbounds []singboxOutbound `json:"outbounds"`
}

// buildSingboxConfig renders the bridge config: listen locally without
// authentication, forward upstream with the profile's credentials.
func buildSingboxConfig(profile schemas.ProxyProfile, listenHost string, listenPort int) ([]byte, error) {
	cfg := singboxConfig{
		Log: singboxLog{Level: "info"},
		Inbounds: []singboxInbound{
			{
				Type:       "socks",
				Tag:        "socks-in",
				Listen:     listenHost,
				ListenPort: listenPort,
				Sniff:      true,
			},
		},
		Outbounds: []singboxOutbound{
			{
				Type:       "socks",
				Tag:        "socks-out",
				Server:     profile.Host,
				ServerPort: profile.Port,
				Username:   profile.Username,
				Password:   profile.Password,
			},
		},
	}
	return json.MarshalIndent(cfg, "", "  ")
}
