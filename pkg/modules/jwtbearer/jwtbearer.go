// Package jwtbearer authenticates HTTP exchanges with HMAC-signed JWT bearer
// tokens.
//
// On the server side ValidateRequest verifies the Authorization header and
// establishes the token subject and groups on the client subject through the
// callback handler. On the client side SecureRequest mints a token for the
// client subject and attaches it to the outgoing request.
package jwtbearer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/polisai/authchain/pkg/domain"
	"github.com/polisai/authchain/pkg/modules/httpmsg"
	"github.com/polisai/authchain/pkg/modules/opts"
)

// Kind is the loader identifier of the module.
const Kind = "jwt-bearer"

// ClaimsKey is the message property holding the verified claims.
const ClaimsKey = "jwtbearer.claims"

const trackKey = "jwtbearer.principals"

// Claims are the token claims read and written by the module.
type Claims struct {
	Groups []string `json:"groups,omitempty"`
	jwtlib.RegisteredClaims
}

// Config holds the module options.
type Config struct {
	SigningKey []byte
	Algorithm  string
	Issuer     string
	Audience   string
	TTL        time.Duration
	Leeway     time.Duration
	Realm      string
}

// ConfigFromOptions reads a Config from module options.
func ConfigFromOptions(options map[string]any) (Config, error) {
	var cfg Config
	key, err := opts.String(options, "signing_key", "")
	if err != nil {
		return cfg, err
	}
	if key == "" {
		return cfg, fmt.Errorf("option %q is required: %w", "signing_key", domain.ErrConfigInvalid)
	}
	cfg.SigningKey = []byte(key)

	if cfg.Algorithm, err = opts.String(options, "algorithm", "HS256"); err != nil {
		return cfg, err
	}
	if jwtlib.GetSigningMethod(cfg.Algorithm) == nil || !isHMAC(cfg.Algorithm) {
		return cfg, fmt.Errorf("option %q: unsupported algorithm %q: %w", "algorithm", cfg.Algorithm, domain.ErrConfigInvalid)
	}
	if cfg.Issuer, err = opts.String(options, "issuer", ""); err != nil {
		return cfg, err
	}
	if cfg.Audience, err = opts.String(options, "audience", ""); err != nil {
		return cfg, err
	}
	if cfg.TTL, err = opts.Duration(options, "ttl", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.Leeway, err = opts.Duration(options, "leeway", 0); err != nil {
		return cfg, err
	}
	if cfg.Realm, err = opts.String(options, "realm", "authchain"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func isHMAC(alg string) bool {
	_, ok := jwtlib.GetSigningMethod(alg).(*jwtlib.SigningMethodHMAC)
	return ok
}

// Module is a client and server JWT bearer module.
type Module struct {
	cfg            Config
	requestPolicy  *domain.MessagePolicy
	responsePolicy *domain.MessagePolicy
	handler        domain.CallbackHandler
	logger         *slog.Logger
	now            func() time.Time
}

var (
	_ domain.ClientModule = (*Module)(nil)
	_ domain.ServerModule = (*Module)(nil)
)

// New returns an uninitialized module.
func New() *Module {
	return &Module{logger: slog.Default().With("module", Kind), now: time.Now}
}

// SupportedMessageTypes returns the HTTP request/response types.
func (m *Module) SupportedMessageTypes() []domain.MessageType {
	return httpmsg.MessageTypes
}

// Initialize reads the module options.
func (m *Module) Initialize(_ context.Context, requestPolicy, responsePolicy *domain.MessagePolicy, handler domain.CallbackHandler, options map[string]any) error {
	if handler == nil {
		return fmt.Errorf("%s: callback handler is required: %w", Kind, domain.ErrConfigInvalid)
	}
	cfg, err := ConfigFromOptions(options)
	if err != nil {
		return fmt.Errorf("%s: %w", Kind, err)
	}
	m.cfg = cfg
	m.requestPolicy = requestPolicy
	m.responsePolicy = responsePolicy
	m.handler = handler
	return nil
}

// Mechanisms advertises the Bearer scheme.
func (m *Module) Mechanisms() []string {
	return []string{"Bearer"}
}

// ValidateRequest verifies the bearer token of the incoming request.
func (m *Module) ValidateRequest(ctx context.Context, msg *domain.MessageInfo, clientSubject, _ *domain.Subject) (domain.AuthStatus, error) {
	req, ok := httpmsg.Request(msg)
	if !ok {
		return "", fmt.Errorf("%s: message carries no http request: %w", Kind, domain.ErrUnsupportedMessageType)
	}

	token, ok := httpmsg.BearerToken(req.Header)
	if !ok {
		if !m.requestPolicy.IsMandatory() {
			return domain.Success, nil
		}
		httpmsg.Challenge(msg, fmt.Sprintf("Bearer realm=%q", m.cfg.Realm))
		return domain.SendContinue, nil
	}

	claims, err := m.Parse(token)
	if err != nil {
		m.logger.Debug("bearer token rejected", "error", err)
		httpmsg.Challenge(msg, fmt.Sprintf("Bearer realm=%q, error=\"invalid_token\"", m.cfg.Realm))
		return domain.SendFailure, nil
	}

	callbacks := []domain.Callback{&domain.CallerPrincipalCallback{Subject: clientSubject, Name: claims.Subject}}
	if len(claims.Groups) > 0 {
		callbacks = append(callbacks, &domain.GroupPrincipalCallback{Subject: clientSubject, Groups: claims.Groups})
	}
	if err := m.handler.Handle(ctx, callbacks); err != nil {
		return "", fmt.Errorf("%s: establish principals: %w", Kind, err)
	}

	added := []domain.Principal{{Name: claims.Subject}}
	for _, g := range claims.Groups {
		added = append(added, domain.Principal{Name: g, Group: true})
	}
	httpmsg.Track(msg, trackKey, added...)
	msg.Set(ClaimsKey, claims)
	return domain.Success, nil
}

// SecureResponse has nothing to add to a response.
func (m *Module) SecureResponse(context.Context, *domain.MessageInfo, *domain.Subject) (domain.AuthStatus, error) {
	return domain.SendSuccess, nil
}

// SecureRequest attaches a token minted for the client subject.
func (m *Module) SecureRequest(_ context.Context, msg *domain.MessageInfo, clientSubject *domain.Subject) (domain.AuthStatus, error) {
	req, ok := httpmsg.Request(msg)
	if !ok {
		return "", fmt.Errorf("%s: message carries no http request: %w", Kind, domain.ErrUnsupportedMessageType)
	}

	subject, groups := splitPrincipals(clientSubject)
	if subject == "" {
		if m.requestPolicy.IsMandatory() {
			return domain.SendFailure, nil
		}
		return domain.SendSuccess, nil
	}

	token, err := m.Sign(subject, groups)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return domain.SendSuccess, nil
}

// ValidateResponse fails when the service rejected the token.
func (m *Module) ValidateResponse(_ context.Context, msg *domain.MessageInfo, _, _ *domain.Subject) (domain.AuthStatus, error) {
	if resp, ok := msg.Response.(*http.Response); ok && resp != nil && resp.StatusCode == http.StatusUnauthorized {
		return domain.SendFailure, nil
	}
	return domain.Success, nil
}

// CleanSubject removes the principals established by ValidateRequest.
func (m *Module) CleanSubject(_ context.Context, msg *domain.MessageInfo, subject *domain.Subject) error {
	httpmsg.Untrack(msg, trackKey, subject)
	return nil
}

// Sign mints a token for subject.
func (m *Module) Sign(subject string, groups []string) (string, error) {
	now := m.now()
	claims := Claims{
		Groups: groups,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(m.cfg.TTL)),
		},
	}
	if m.cfg.Audience != "" {
		claims.Audience = jwtlib.ClaimStrings{m.cfg.Audience}
	}

	token := jwtlib.NewWithClaims(jwtlib.GetSigningMethod(m.cfg.Algorithm), claims)
	signed, err := token.SignedString(m.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("%s: sign token: %w", Kind, err)
	}
	return signed, nil
}

// Parse verifies token and returns its claims.
func (m *Module) Parse(token string) (*Claims, error) {
	parserOpts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{m.cfg.Algorithm}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(m.now),
	}
	if m.cfg.Leeway > 0 {
		parserOpts = append(parserOpts, jwtlib.WithLeeway(m.cfg.Leeway))
	}
	if m.cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwtlib.WithIssuer(m.cfg.Issuer))
	}
	if m.cfg.Audience != "" {
		parserOpts = append(parserOpts, jwtlib.WithAudience(m.cfg.Audience))
	}

	claims := &Claims{}
	parsed, err := jwtlib.NewParser(parserOpts...).ParseWithClaims(token, claims, func(*jwtlib.Token) (any, error) {
		return m.cfg.SigningKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("token is not valid")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func splitPrincipals(s *domain.Subject) (string, []string) {
	var subject string
	var groups []string
	for _, p := range s.Principals() {
		switch {
		case p.Group:
			groups = append(groups, p.Name)
		case subject == "":
			subject = p.Name
		}
	}
	return subject, groups
}
