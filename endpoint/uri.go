package endpoint

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/c360/routeflow/config"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/expr"
)

// Parse expands environment placeholders in raw and parses the result into
// an Endpoint. Missing variables without defaults and malformed URIs are
// config errors. Unknown schemes are not rejected here; the registry decides
// whether a scheme is usable.
func Parse(raw string, env config.EnvSnapshot) (*Endpoint, error) {
	expanded, err := expr.ExpandEnv(raw, map[string]string(env))
	if err != nil {
		return nil, err
	}

	scheme, rest, ok := strings.Cut(expanded, "://")
	if !ok || scheme == "" {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: %q has no scheme", errors.ErrInvalidURI, expanded),
			"endpoint", "Parse", "split scheme")
	}

	ep := &Endpoint{
		Raw:    expanded,
		Scheme: strings.ToLower(scheme),
		Params: make(map[string]string),
	}

	// Split off the query before authority/path handling so glob characters
	// in paths never collide with query parsing.
	rest, query, _ := strings.Cut(rest, "?")
	if query != "" {
		values, err := url.ParseQuery(query)
		if err != nil {
			return nil, errors.WrapConfig(
				fmt.Errorf("%w: %v", errors.ErrInvalidURI, err),
				"endpoint", "Parse", "parse query")
		}
		for key := range values {
			ep.Params[key] = values.Get(key)
		}
	}

	authority, path, hasPath := strings.Cut(rest, "/")
	if hasPath {
		ep.Path = "/" + path
	}

	// userinfo
	if userinfo, hostport, ok := strings.Cut(authority, "@"); ok {
		authority = hostport
		user, pass, _ := strings.Cut(userinfo, ":")
		if ep.User, err = url.PathUnescape(user); err != nil {
			return nil, errors.WrapConfig(
				fmt.Errorf("%w: bad userinfo", errors.ErrInvalidURI),
				"endpoint", "Parse", "decode userinfo")
		}
		if ep.Password, err = url.PathUnescape(pass); err != nil {
			return nil, errors.WrapConfig(
				fmt.Errorf("%w: bad userinfo", errors.ErrInvalidURI),
				"endpoint", "Parse", "decode userinfo")
		}
	}

	ep.Authority = authority
	ep.Host = authority
	if host, portStr, ok := splitHostPort(authority); ok {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 0 || port > 65535 {
			return nil, errors.WrapConfig(
				fmt.Errorf("%w: invalid port %q", errors.ErrInvalidURI, portStr),
				"endpoint", "Parse", "parse port")
		}
		ep.Host = host
		ep.Port = port
	}

	if decoded, err := url.PathUnescape(ep.Path); err == nil {
		ep.Path = decoded
	}

	return ep, nil
}

// splitHostPort splits "host:port" only when the suffix is numeric, so
// authorities like "250ms" or "broker" pass through whole.
func splitHostPort(authority string) (host, port string, ok bool) {
	idx := strings.LastIndexByte(authority, ':')
	if idx < 0 {
		return "", "", false
	}
	suffix := authority[idx+1:]
	if suffix == "" {
		return "", "", false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return "", "", false
		}
	}
	return authority[:idx], suffix, true
}

// FilePath returns the filesystem path named by a file endpoint. Both
// file:///abs/path and file://relative/path forms are accepted; the original
// configuration surface used either.
func (e *Endpoint) FilePath() string {
	if e.Authority != "" {
		return e.Authority + e.Path
	}
	return e.Path
}
