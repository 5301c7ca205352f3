package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// ProxyConfig holds SOCKS5/HTTP proxy configuration applied to every
// protocol connection.
type ProxyConfig struct {
	Host    string
	Port    string
	User    string
	Pass    string
	Type    string // socks5 or http
	Enabled bool
}

func proxyFromViper(v *viper.Viper) ProxyConfig {
	host := v.GetString("PROXY_HOST")
	if host == "" {
		return ProxyConfig{}
	}
	typ := strings.ToLower(v.GetString("PROXY_TYPE"))
	if typ == "" {
		typ = "socks5"
	}
	return ProxyConfig{
		Host:    host,
		Port:    v.GetString("PROXY_PORT"),
		User:    v.GetString("PROXY_USER"),
		Pass:    v.GetString("PROXY_PASS"),
		Type:    typ,
		Enabled: true,
	}
}

// URL returns the proxy address in the form whatsmeow expects.
func (p *ProxyConfig) URL() string {
	if !p.Enabled {
		return ""
	}
	u := &url.URL{Scheme: p.Type, Host: p.Host}
	if p.Port != "" {
		u.Host = p.Host + ":" + p.Port
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Pass)
	}
	return u.String()
}

// String is URL with the password masked, for logs.
func (p *ProxyConfig) String() string {
	if !p.Enabled {
		return "disabled"
	}
	auth := ""
	if p.User != "" {
		auth = p.User + ":***@"
	}
	return fmt.Sprintf("%s://%s%s:%s", p.Type, auth, p.Host, p.Port)
}
