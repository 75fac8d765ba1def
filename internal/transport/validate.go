package transport

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	meshderrors "github.com/agentmesh-ai/meshd/internal/errors"
)

// Rule identifies the specific security rule that rejected a configuration.
// Rules are checked independently so rejections stay specific and testable.
type Rule string

const (
	RuleVariant           Rule = "variant"
	RuleCommandLength     Rule = "command_length"
	RuleCommandCharset    Rule = "command_charset"
	RuleShellMetacharacter Rule = "shell_metacharacter"
	RulePathTraversal     Rule = "path_traversal"
	RuleDeniedPrefix      Rule = "denied_prefix"
	RuleScheme            Rule = "scheme"
	RuleHost              Rule = "host"
	RulePath              Rule = "path"
)

// maxCommandLength bounds stdio commands.
const maxCommandLength = 256

// shellMetacharacters are never allowed anywhere in a stdio command or its
// arguments.
const shellMetacharacters = "|&;`$(){}<>\n"

// deniedPrefixes reject known-dangerous commands outright, before any other
// consideration.
var deniedPrefixes = []string{
	"rm ",
	"sudo ",
	"shutdown ",
	"reboot ",
	"format ",
}

// deniedPatterns reject pipe-to-shell invocations. The metacharacter rule
// also catches these; checking separately keeps the rejection reason exact.
var deniedPatterns = []string{
	"| sh",
	"| bash",
	"|sh",
	"|bash",
}

// blockedPathSegments deny SSRF toward control-plane and cloud-metadata
// endpoints for both http and sse URLs.
var blockedPathSegments = []string{
	"/admin",
	"/metadata",
}

// RejectionError reports why a transport configuration was refused.
// Callers must not construct a transport after receiving one.
type RejectionError struct {
	Kind   Kind
	Rule   Rule
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s transport rejected (%s): %s", e.Kind, e.Rule, e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return meshderrors.ErrTransportSecurity
}

func reject(kind Kind, rule Rule, format string, args ...any) error {
	return &RejectionError{
		Kind:   kind,
		Rule:   rule,
		Reason: fmt.Sprintf(format, args...),
	}
}

// Validate checks a transport configuration against the security rules and
// returns a sanitized copy on success. It is pure: no I/O, no DNS, no
// side effects. On rejection the returned Sanitized is the unusable zero
// value and the error unwraps to errors.ErrTransportSecurity.
func Validate(cfg Config) (Sanitized, error) {
	switch cfg.Kind {
	case KindStdio:
		if cfg.Stdio == nil {
			return Sanitized{}, reject(KindStdio, RuleVariant, "stdio config missing")
		}
		return validateStdio(*cfg.Stdio)
	case KindHTTP:
		if cfg.HTTP == nil {
			return Sanitized{}, reject(KindHTTP, RuleVariant, "http config missing")
		}
		return validateHTTP(*cfg.HTTP)
	case KindSSE:
		if cfg.SSE == nil {
			return Sanitized{}, reject(KindSSE, RuleVariant, "sse config missing")
		}
		return validateSSE(*cfg.SSE)
	default:
		return Sanitized{}, reject(cfg.Kind, RuleVariant, "unknown transport kind %q", cfg.Kind)
	}
}

func validateStdio(cfg StdioConfig) (Sanitized, error) {
	command := strings.TrimSpace(cfg.Command)

	if command == "" {
		return Sanitized{}, reject(KindStdio, RuleCommandLength, "command cannot be empty")
	}
	if len(command) > maxCommandLength {
		return Sanitized{}, reject(
			KindStdio, RuleCommandLength,
			"command length %d exceeds %d", len(command), maxCommandLength,
		)
	}

	if strings.ContainsAny(command, shellMetacharacters) {
		return Sanitized{}, reject(KindStdio, RuleShellMetacharacter, "command contains shell metacharacters")
	}
	if !allowedCommandCharset(command) {
		return Sanitized{}, reject(KindStdio, RuleCommandCharset, "command contains characters outside the allow-list")
	}
	if strings.Contains(command, "..") {
		return Sanitized{}, reject(KindStdio, RulePathTraversal, "command contains path traversal")
	}

	lowered := strings.ToLower(command)
	for _, prefix := range deniedPrefixes {
		if strings.HasPrefix(lowered, prefix) || lowered == strings.TrimSpace(prefix) {
			return Sanitized{}, reject(KindStdio, RuleDeniedPrefix, "command starts with denied prefix %q", strings.TrimSpace(prefix))
		}
	}
	for _, pattern := range deniedPatterns {
		if strings.Contains(lowered, pattern) {
			return Sanitized{}, reject(KindStdio, RuleDeniedPrefix, "command contains pipe-to-shell pattern")
		}
	}

	for _, arg := range cfg.Args {
		if strings.ContainsAny(arg, shellMetacharacters) {
			return Sanitized{}, reject(KindStdio, RuleShellMetacharacter, "argument contains shell metacharacters")
		}
	}

	sanitized := cfg
	sanitized.Command = command
	if sanitized.Timeout <= 0 {
		sanitized.Timeout = DefaultTimeout
	}

	return Sanitized{kind: KindStdio, stdio: sanitized, valid: true}, nil
}

// allowedCommandCharset permits alphanumerics, underscore, dot, slash,
// hyphen and spaces only.
func allowedCommandCharset(command string) bool {
	for _, r := range command {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '.' || r == '/' || r == '-' || r == ' ':
		default:
			return false
		}
	}
	return true
}

func validateHTTP(cfg HTTPConfig) (Sanitized, error) {
	u, err := parseTransportURL(KindHTTP, cfg.URL)
	if err != nil {
		return Sanitized{}, err
	}

	switch u.Scheme {
	case "https":
		// Always acceptable.
	case "http":
		// Plain http is only tolerated toward hosts on the explicit local
		// allow-list; this is not a blanket exception.
		if !isAllowedLocalHost(u.Hostname()) {
			return Sanitized{}, reject(KindHTTP, RuleScheme, "http scheme only allowed for loopback or private hosts, got %q", u.Hostname())
		}
	default:
		return Sanitized{}, reject(KindHTTP, RuleScheme, "unsupported scheme %q", u.Scheme)
	}

	if err := checkBlockedPath(KindHTTP, u); err != nil {
		return Sanitized{}, err
	}

	sanitized := cfg
	sanitized.URL = u.String()
	if sanitized.Timeout <= 0 {
		sanitized.Timeout = DefaultTimeout
	}

	return Sanitized{kind: KindHTTP, http: sanitized, valid: true}, nil
}

func validateSSE(cfg SSEConfig) (Sanitized, error) {
	u, err := parseTransportURL(KindSSE, cfg.URL)
	if err != nil {
		return Sanitized{}, err
	}

	// Push channels are assumed cross-network: https only, no loopback
	// exception.
	if u.Scheme != "https" {
		return Sanitized{}, reject(KindSSE, RuleScheme, "sse requires https, got %q", u.Scheme)
	}
	if err := checkBlockedPath(KindSSE, u); err != nil {
		return Sanitized{}, err
	}

	sanitized := cfg
	sanitized.URL = u.String()

	if w := strings.TrimSpace(cfg.WriteURL); w != "" {
		wu, err := parseTransportURL(KindSSE, w)
		if err != nil {
			return Sanitized{}, err
		}
		if wu.Scheme != "https" {
			return Sanitized{}, reject(KindSSE, RuleScheme, "sse write url requires https, got %q", wu.Scheme)
		}
		if err := checkBlockedPath(KindSSE, wu); err != nil {
			return Sanitized{}, err
		}
		sanitized.WriteURL = wu.String()
	}

	return Sanitized{kind: KindSSE, sse: sanitized, valid: true}, nil
}

func parseTransportURL(kind Kind, raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, reject(kind, RuleScheme, "url cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, reject(kind, RuleScheme, "unparsable url: %v", err)
	}
	if u.Hostname() == "" {
		return nil, reject(kind, RuleHost, "url missing host")
	}
	return u, nil
}

func checkBlockedPath(kind Kind, u *url.URL) error {
	path := strings.ToLower(u.Path)
	for _, segment := range blockedPathSegments {
		if strings.Contains(path, segment) {
			return reject(kind, RulePath, "url path contains blocked segment %q", segment)
		}
	}
	return nil
}

// isAllowedLocalHost reports whether the hostname is on the explicit local
// allow-list: loopback, RFC1918 private ranges, link-local, or the .local /
// .internal suffixes. The check is syntactic; no DNS resolution happens here.
func isAllowedLocalHost(hostname string) bool {
	lowered := strings.ToLower(hostname)
	if lowered == "localhost" {
		return true
	}
	if strings.HasSuffix(lowered, ".local") || strings.HasSuffix(lowered, ".internal") {
		return true
	}

	ip := net.ParseIP(hostname)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}
