package config

import "github.com/Rajchodisetti/futures-feed/internal/probe"

const (
	gatewayHost = "127.0.0.1"
	gatewayPort = 5000
	proxyHost   = "localhost"
	proxyPort   = 3001
	bridgePort  = 8080
)

// DefaultEndpoints are the candidates for a local broker setup: the bridge
// service, the dashboard proxy in front of the gateway, then the gateway
// itself on its self-signed HTTPS port.
func DefaultEndpoints() Endpoints {
	gateway := func(name, path string, body probe.BodyKind) probe.EndpointSpec {
		return probe.EndpointSpec{
			Name:        name,
			Scheme:      "https",
			Host:        gatewayHost,
			Port:        gatewayPort,
			Path:        path,
			Body:        body,
			Dialect:     probe.DialectGateway,
			InsecureTLS: true,
		}
	}
	proxy := func(name, path string) probe.EndpointSpec {
		return probe.EndpointSpec{
			Name:    name,
			Scheme:  "http",
			Host:    proxyHost,
			Port:    proxyPort,
			Path:    path,
			Method:  "GET",
			Body:    probe.BodyQuery,
			Dialect: probe.DialectGateway,
		}
	}

	snapshot := gateway("gateway-snapshot", "/v1/api/iserver/marketdata/snapshot", probe.BodyQuery)
	snapshot.Method = "POST"

	return Endpoints{
		Search: []probe.EndpointSpec{
			{
				Name:    "bridge",
				Scheme:  "http",
				Host:    proxyHost,
				Port:    bridgePort,
				Path:    "/api/tws/contracts/search",
				Method:  "POST",
				Body:    probe.BodyQuery,
				Dialect: probe.DialectBridge,
			},
			proxy("proxy-ibkr", "/ibkr/iserver/secdef/search"),
			proxy("proxy-tws", "/tws/iserver/secdef/search"),
			gateway("gateway", "/v1/api/iserver/secdef/search", probe.BodyJSON),
		},
		Detail: []probe.EndpointSpec{
			gateway("gateway-info", "/v1/api/iserver/secdef/info", probe.BodyQuery),
		},
		Snapshot: []probe.EndpointSpec{snapshot},
		Session: []probe.EndpointSpec{
			gateway("gateway-auth", "/v1/api/iserver/auth/status", probe.BodyNone),
			proxy("proxy-auth", "/ibkr/iserver/auth/status"),
		},
	}
}
