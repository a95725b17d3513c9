package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"remotedesk/internal/auth"
	"remotedesk/internal/clock"
	"remotedesk/internal/config"
	"remotedesk/internal/domain"
)

var (
	tokenScope   string
	tokenSubject string
	tokenSession string
	tokenHost    string
	tokenRole    string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a capability token signed with the server secret",
	Long: `Issue a capability token for the REST and websocket surfaces.

Scopes:
  session.create   open sessions (--subject is the owner, --host optionally pins the host)
  session.admit    redeem a PIN (--session, --subject, --role)
  session.manage   issue PINs and end sessions (--session, --subject)
  host.connect     connect a host agent (--host)
  admin            administrator socket and host health`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenScope, "scope", auth.ScopeSessionCreate, "token scope")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "user id the token is issued to")
	tokenCmd.Flags().StringVar(&tokenSession, "session", "", "bind the token to one session")
	tokenCmd.Flags().StringVar(&tokenHost, "host", "", "bind the token to one host")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "", "participant role granted on admission")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	switch tokenScope {
	case auth.ScopeSessionCreate, auth.ScopeSessionAdmit, auth.ScopeSessionManage, auth.ScopeAdmin:
		if tokenSubject == "" {
			return fmt.Errorf("--subject is required for scope %s", tokenScope)
		}
	case auth.ScopeHostConnect:
		if tokenHost == "" {
			return fmt.Errorf("--host is required for scope %s", tokenScope)
		}
	default:
		return fmt.Errorf("unknown scope %q", tokenScope)
	}
	if (tokenScope == auth.ScopeSessionAdmit || tokenScope == auth.ScopeSessionManage) && tokenSession == "" {
		return fmt.Errorf("--session is required for scope %s", tokenScope)
	}
	if tokenRole != "" && !domain.Role(tokenRole).Valid() {
		return fmt.Errorf("unknown role %q", tokenRole)
	}
	if tokenTTL <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	secret, err := loadSecret(cfg)
	if err != nil {
		return err
	}
	service := auth.NewService(secret, clock.RealClock{}, nil)
	token, err := service.Issue(auth.IssueSpec{
		Scope:     tokenScope,
		TTL:       tokenTTL,
		SessionID: tokenSession,
		HostID:    tokenHost,
		PeerID:    tokenSubject,
		Role:      tokenRole,
	})
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// loadSecret prefers the configured secret and falls back to the one kept
// under the data dir, so serve and token agree without extra setup.
func loadSecret(cfg config.Config) ([]byte, error) {
	if secret := cfg.Secret(); secret != nil {
		if err := auth.ValidateSecret(secret); err != nil {
			return nil, err
		}
		return secret, nil
	}
	secret, err := auth.LoadOrCreateSecret(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load capability secret: %w", err)
	}
	return secret, nil
}
