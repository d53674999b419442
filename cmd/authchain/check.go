package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/spf13/cobra"

	"github.com/polisai/authchain/pkg/domain"
	"github.com/polisai/authchain/pkg/policy"
)

// checkResult is printed by the check command.
type checkResult struct {
	AuthContextID string            `json:"auth_context_id"`
	Protected     bool              `json:"protected"`
	Epoch         uint64            `json:"epoch"`
	Modules       []string          `json:"modules,omitempty"`
	Mechanisms    []string          `json:"mechanisms,omitempty"`
	Status        string            `json:"status,omitempty"`
	Principals    []string          `json:"principals,omitempty"`
	Challenge     string            `json:"challenge,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Dry-run an auth context against a synthetic HTTP request",
		Long: `check builds the configured auth context and runs it against a synthetic
HTTP request. With --side server the request is validated; with --side client
it is secured and the headers the chain added are printed.`,
		RunE: runCheck,
	}
	cmd.Flags().String("auth-context", policy.DefaultContextID, "Auth context id")
	cmd.Flags().String("side", "server", "Chain to run (server, client)")
	cmd.Flags().String("method", http.MethodGet, "Request method")
	cmd.Flags().String("path", "/", "Request path")
	cmd.Flags().StringArrayP("header", "H", nil, "Request header as 'Name: value' (repeatable)")
	cmd.Flags().String("principal", "", "Client principal for --side client")
	return cmd
}

func parseHeaders(raw []string) (http.Header, error) {
	h := http.Header{}
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("malformed header %q", line)
		}
		h.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return h, nil
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	authContextID, _ := cmd.Flags().GetString("auth-context")
	side, _ := cmd.Flags().GetString("side")
	method, _ := cmd.Flags().GetString("method")
	target, _ := cmd.Flags().GetString("path")
	rawHeaders, _ := cmd.Flags().GetStringArray("header")
	principal, _ := cmd.Flags().GetString("principal")

	headers, err := parseHeaders(rawHeaders)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cfg, path, logger, nil)
	if err != nil {
		return err
	}

	req := httptest.NewRequest(method, target, nil)
	req.Header = headers
	rec := httptest.NewRecorder()
	msg := domain.NewMessageInfo(req, rec)

	result := checkResult{AuthContextID: authContextID, Epoch: rt.manager.Epoch()}

	switch side {
	case "server":
		ac, err := rt.server.AuthContext(ctx, authContextID, domain.NewSubject(), nil)
		if err != nil {
			return err
		}
		if ac == nil {
			return writeJSON(cmd.OutOrStdout(), result)
		}
		result.Protected = true
		result.Modules = ac.ModuleIDs()
		result.Mechanisms = ac.Mechanisms()

		client := domain.NewSubject()
		status, err := ac.ValidateRequest(ctx, msg, client, domain.NewSubject())
		if err != nil {
			return err
		}
		result.Status = status.String()
		result.Principals = client.PrincipalNames()
		result.Challenge = rec.Header().Get("WWW-Authenticate")
		if err := ac.CleanSubject(ctx, msg, client); err != nil {
			return err
		}

	case "client":
		ac, err := rt.client.AuthContext(ctx, authContextID, domain.NewSubject(), nil)
		if err != nil {
			return err
		}
		if ac == nil {
			return writeJSON(cmd.OutOrStdout(), result)
		}
		result.Protected = true
		result.Modules = ac.ModuleIDs()

		var subject *domain.Subject
		if principal != "" {
			subject = domain.NewSubject(domain.Principal{Name: principal})
		} else {
			subject = domain.NewSubject()
		}
		status, err := ac.SecureRequest(ctx, msg, subject)
		if err != nil {
			return err
		}
		result.Status = status.String()
		result.Headers = map[string]string{}
		for name := range req.Header {
			result.Headers[name] = req.Header.Get(name)
		}

	default:
		return fmt.Errorf("--side must be server or client, got %q", side)
	}

	return writeJSON(cmd.OutOrStdout(), result)
}
