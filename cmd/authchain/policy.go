package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/polisai/authchain/pkg/domain"
	"github.com/polisai/authchain/pkg/policy"
)

// policyView is the printable form of a message policy.
type policyView struct {
	Mandatory   bool     `json:"mandatory"`
	Protections []string `json:"protections"`
}

func viewOf(p *domain.MessagePolicy) *policyView {
	if p == nil {
		return nil
	}
	v := &policyView{Mandatory: p.IsMandatory(), Protections: []string{}}
	for _, protection := range p.Protections() {
		v.Protections = append(v.Protections, string(protection))
	}
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Build a message policy from auth source and recipient tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, _ := cmd.Flags().GetString("source")
			recipient, _ := cmd.Flags().GetString("recipient")
			mandatory, _ := cmd.Flags().GetString("mandatory")

			var recipientToken *string
			if cmd.Flags().Changed("recipient") {
				recipientToken = policy.Recipient(recipient)
			}

			var p *domain.MessagePolicy
			switch mandatory {
			case "":
				p = policy.BuildDerivedPolicy(source, recipientToken)
			case "true", "false":
				p = policy.BuildPolicy(source, recipientToken, mandatory == "true")
			default:
				return fmt.Errorf("--mandatory must be true or false, got %q", mandatory)
			}
			return writeJSON(cmd.OutOrStdout(), viewOf(p))
		},
	}
	cmd.Flags().String("source", "", "Auth source token (sender, content)")
	cmd.Flags().String("recipient", "", "Auth recipient token (before-content, after-content)")
	cmd.Flags().String("mandatory", "", "Force the mandatory flag (true, false); derived when empty")
	return cmd
}

func newProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile <flag>",
		Short: "Show the HttpServlet profile policies for a mandatory flag token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pair := policy.ProfilePolicies(args[0])
			return writeJSON(cmd.OutOrStdout(), map[string]*policyView{
				"request":  viewOf(pair[0]),
				"response": viewOf(pair[1]),
			})
		},
	}
}
