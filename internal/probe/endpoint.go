package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// BodyKind decides how a Request is put on the wire for a candidate.
type BodyKind string

const (
	BodyNone  BodyKind = "none"  // no parameters at all
	BodyQuery BodyKind = "query" // parameters in the URL query
	BodyJSON  BodyKind = "json"  // JSON request body
	BodyForm  BodyKind = "form"  // url-encoded form body
)

// Response dialects a candidate may speak.
const (
	DialectGateway = "gateway"
	DialectBridge  = "bridge"
)

// EndpointSpec is one candidate for an operation.
type EndpointSpec struct {
	Name        string   `yaml:"name" json:"name"`
	Scheme      string   `yaml:"scheme" json:"scheme"`
	Host        string   `yaml:"host" json:"host"`
	Port        int      `yaml:"port" json:"port"`
	Path        string   `yaml:"path" json:"path"`
	Method      string   `yaml:"method" json:"method"`
	Body        BodyKind `yaml:"body" json:"body"`
	Dialect     string   `yaml:"dialect" json:"dialect"`
	InsecureTLS bool     `yaml:"insecure_tls" json:"insecureTls"`
}

// URL renders the candidate without parameters. Path placeholders such as
// {conid} are left in place.
func (e EndpointSpec) URL() string {
	scheme := e.Scheme
	if scheme == "" {
		scheme = "http"
	}
	host := e.Host
	if e.Port > 0 {
		host += ":" + strconv.Itoa(e.Port)
	}
	path := e.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return scheme + "://" + host + path
}

// Validate checks that the candidate can be turned into a request.
func (e EndpointSpec) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("endpoint %q: host is required", e.Name)
	}
	if e.Port < 0 || e.Port > 65535 {
		return fmt.Errorf("endpoint %q: invalid port %d", e.Name, e.Port)
	}
	switch strings.ToLower(e.Scheme) {
	case "", "http", "https":
	default:
		return fmt.Errorf("endpoint %q: unsupported scheme %q", e.Name, e.Scheme)
	}
	switch e.Body {
	case "", BodyNone, BodyQuery, BodyJSON, BodyForm:
	default:
		return fmt.Errorf("endpoint %q: unsupported body kind %q", e.Name, e.Body)
	}
	if e.InsecureTLS && strings.ToLower(e.Scheme) != "https" {
		return fmt.Errorf("endpoint %q: insecure_tls only applies to https", e.Name)
	}
	return nil
}

func (e EndpointSpec) method() string {
	if e.Method != "" {
		return strings.ToUpper(e.Method)
	}
	switch e.Body {
	case BodyJSON, BodyForm:
		return http.MethodPost
	default:
		return http.MethodGet
	}
}

func (e EndpointSpec) bodyKind() BodyKind {
	if e.Body == "" {
		return BodyQuery
	}
	return e.Body
}

// ParseEndpoint builds a candidate from a base URL such as
// "https://127.0.0.1:5000" and a path.
func ParseEndpoint(name, base, path string) (EndpointSpec, error) {
	u, err := url.Parse(base)
	if err != nil {
		return EndpointSpec{}, fmt.Errorf("parse endpoint %q: %w", name, err)
	}
	spec := EndpointSpec{Name: name, Scheme: u.Scheme, Host: u.Hostname(), Path: strings.TrimRight(u.Path, "/") + path}
	if p := u.Port(); p != "" {
		spec.Port, err = strconv.Atoi(p)
		if err != nil {
			return EndpointSpec{}, fmt.Errorf("parse endpoint %q port: %w", name, err)
		}
	}
	return spec, spec.Validate()
}

// Request carries the parameters of one probe. How they are encoded is up
// to each candidate's BodyKind.
type Request struct {
	Target     string            // symbol or conid, for logs and errors
	Params     map[string]string // query, form or JSON fields
	JSON       any               // JSON body; Params are used when nil
	PathParams map[string]string // substitutes {name} in the path
}

func buildRequest(ctx context.Context, spec EndpointSpec, req Request) (*http.Request, error) {
	raw := spec.URL()
	for k, v := range req.PathParams {
		raw = strings.ReplaceAll(raw, "{"+k+"}", url.PathEscape(v))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}

	var (
		body        io.Reader
		contentType string
	)
	switch spec.bodyKind() {
	case BodyQuery:
		q := u.Query()
		for k, v := range req.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	case BodyJSON:
		payload := req.JSON
		if payload == nil {
			payload = req.Params
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode json body: %w", err)
		}
		body, contentType = bytes.NewReader(b), "application/json"
	case BodyForm:
		form := url.Values{}
		for k, v := range req.Params {
			form.Set(k, v)
		}
		body, contentType = strings.NewReader(form.Encode()), "application/x-www-form-urlencoded"
	}

	httpReq, err := http.NewRequestWithContext(ctx, spec.method(), u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "futures-feed/1.0")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	return httpReq, nil
}
