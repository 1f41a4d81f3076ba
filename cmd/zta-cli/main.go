// Package main implements the zta-cli command-line tool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Harshith2412/zta-finance/internal/policy"
	"github.com/Harshith2412/zta-finance/internal/trust"
	"github.com/Harshith2412/zta-finance/pkg/client"
	"github.com/Harshith2412/zta-finance/pkg/models"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getClient creates an API client from the command flags.
func getClient(cmd *cobra.Command) *client.Client {
	apiURL, _ := cmd.Root().PersistentFlags().GetString("api-url")
	token := os.Getenv("ZTA_TOKEN")

	return client.New(client.Config{
		BaseURL: apiURL,
		Token:   token,
		Timeout: 30 * time.Second,
	})
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

var rootCmd = &cobra.Command{
	Use:     "zta-cli",
	Short:   "ZTA CLI - Zero-Trust Decision Core",
	Long:    `zta-cli provides command-line access to the zero-trust decision core.`,
	Version: version,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(decisionCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(fingerprintCmd)
	rootCmd.AddCommand(healthCmd)

	rootCmd.PersistentFlags().String("api-url", "http://localhost:8080", "Decision service URL")
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
}

// ============================================================================
// Policy Commands
// ============================================================================

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Policy snapshot tools",
	Long:  `Validate and inspect policy snapshots offline.`,
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate [snapshot-file]",
	Short: "Validate a policy snapshot file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshot, err := policy.LoadSnapshotFile(args[0])
		if err != nil {
			return fmt.Errorf("snapshot invalid: %w", err)
		}
		fmt.Printf("Snapshot OK: version=%s policies=%d\n", snapshot.Version, len(snapshot.Policies))
		return nil
	},
}

var policyEvaluateCmd = &cobra.Command{
	Use:   "evaluate [snapshot-file]",
	Short: "Evaluate a snapshot offline against a resource/action",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyEvaluate,
}

func init() {
	policyEvaluateCmd.Flags().String("resource", "", "Resource path")
	policyEvaluateCmd.Flags().String("action", "", "Action")
	policyEvaluateCmd.Flags().StringToString("attr", nil, "Context attributes (key=value)")

	policyCmd.AddCommand(policyValidateCmd)
	policyCmd.AddCommand(policyEvaluateCmd)
}

func runPolicyEvaluate(cmd *cobra.Command, args []string) error {
	resource, _ := cmd.Flags().GetString("resource")
	action, _ := cmd.Flags().GetString("action")
	attrFlags, _ := cmd.Flags().GetStringToString("attr")

	if resource == "" || action == "" {
		return fmt.Errorf("--resource and --action are required")
	}

	snapshot, err := policy.LoadSnapshotFile(args[0])
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	engine := policy.NewEngine(nil)
	if err := engine.Load(snapshot); err != nil {
		return fmt.Errorf("activate snapshot: %w", err)
	}

	attrs := make(map[string]any, len(attrFlags))
	for k, v := range attrFlags {
		attrs[k] = v
	}

	result, err := engine.Evaluate(resource, action, attrs)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	jsonOutput, _ := cmd.Root().PersistentFlags().GetBool("json")
	if jsonOutput {
		printJSON(result)
	} else {
		fmt.Printf("Effect: %s\nPolicy: %s\nReason: %s\n", result.Effect, result.PolicyID, result.Reason)
		if len(result.FailedConditions) > 0 {
			fmt.Printf("Failed conditions: %v\n", result.FailedConditions)
		}
	}
	return nil
}

// ============================================================================
// Decision Commands
// ============================================================================

var decisionCmd = &cobra.Command{
	Use:   "decision",
	Short: "Request access decisions",
}

var decisionEvaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Request an access decision from the service",
	RunE:  runDecisionEvaluate,
}

func init() {
	decisionEvaluateCmd.Flags().String("access-token", "", "Access token")
	decisionEvaluateCmd.Flags().String("resource", "", "Resource path")
	decisionEvaluateCmd.Flags().String("action", "", "Action")
	decisionEvaluateCmd.Flags().Float64("amount", 0, "Transaction amount")
	decisionEvaluateCmd.Flags().String("device-file", "", "JSON file with device attributes")
	decisionEvaluateCmd.Flags().Bool("mfa-verified", false, "MFA already verified for this request")

	decisionCmd.AddCommand(decisionEvaluateCmd)
}

func runDecisionEvaluate(cmd *cobra.Command, args []string) error {
	accessToken, _ := cmd.Flags().GetString("access-token")
	resource, _ := cmd.Flags().GetString("resource")
	action, _ := cmd.Flags().GetString("action")
	amount, _ := cmd.Flags().GetFloat64("amount")
	deviceFile, _ := cmd.Flags().GetString("device-file")
	mfaVerified, _ := cmd.Flags().GetBool("mfa-verified")

	if accessToken == "" {
		accessToken = os.Getenv("ZTA_TOKEN")
	}
	if resource == "" || action == "" {
		return fmt.Errorf("--resource and --action are required")
	}

	attrs, err := readDeviceAttributes(deviceFile)
	if err != nil {
		return err
	}

	c := getClient(cmd)
	decision, err := c.Evaluate(context.Background(), client.DecisionRequest{
		AccessToken:      accessToken,
		DeviceAttributes: attrs,
		Resource:         resource,
		Action:           action,
		Amount:           amount,
		MFAVerified:      mfaVerified,
	})
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	jsonOutput, _ := cmd.Root().PersistentFlags().GetBool("json")
	if jsonOutput {
		printJSON(decision)
	} else {
		fmt.Printf("Effect: %s\nRisk: %d (%s)\nReason: %s\n", decision.Effect, decision.RiskScore, decision.RiskLevel, decision.Reason)
		if decision.StepUp != "" {
			fmt.Printf("Step-up: %s\n", decision.StepUp)
		}
	}
	return nil
}

func readDeviceAttributes(path string) (models.DeviceAttributes, error) {
	var attrs models.DeviceAttributes
	if path == "" {
		return attrs, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return attrs, fmt.Errorf("read device file: %w", err)
	}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return attrs, fmt.Errorf("parse device file: %w", err)
	}
	return attrs, nil
}

// ============================================================================
// Token Commands
// ============================================================================

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Token lifecycle operations",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a token pair for an identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		deviceFile, _ := cmd.Flags().GetString("device-file")

		if username == "" {
			return fmt.Errorf("--username is required")
		}
		attrs, err := readDeviceAttributes(deviceFile)
		if err != nil {
			return err
		}

		c := getClient(cmd)
		pair, err := c.IssueTokens(context.Background(), client.IssueRequest{
			Username:         username,
			DeviceAttributes: attrs,
		})
		if err != nil {
			return fmt.Errorf("issue tokens: %w", err)
		}

		jsonOutput, _ := cmd.Root().PersistentFlags().GetBool("json")
		if jsonOutput {
			printJSON(pair)
		} else {
			fmt.Printf("Access token expires: %s\n", pair.AccessExpiresAt.Format(time.RFC3339))
			fmt.Printf("export ZTA_TOKEN=%s\n", pair.AccessToken)
			fmt.Printf("Refresh token: %s\n", pair.RefreshToken)
		}
		return nil
	},
}

var tokenRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Rotate a refresh token",
	RunE: func(cmd *cobra.Command, args []string) error {
		refreshToken, _ := cmd.Flags().GetString("refresh-token")
		if refreshToken == "" {
			return fmt.Errorf("--refresh-token is required")
		}

		c := getClient(cmd)
		pair, err := c.RotateTokens(context.Background(), refreshToken)
		if err != nil {
			return fmt.Errorf("rotate tokens: %w", err)
		}

		jsonOutput, _ := cmd.Root().PersistentFlags().GetBool("json")
		if jsonOutput {
			printJSON(pair)
		} else {
			fmt.Printf("export ZTA_TOKEN=%s\n", pair.AccessToken)
			fmt.Printf("Refresh token: %s\n", pair.RefreshToken)
		}
		return nil
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke a token, session, or identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		tokenID, _ := cmd.Flags().GetString("token-id")
		sessionID, _ := cmd.Flags().GetString("session-id")
		identityID, _ := cmd.Flags().GetString("identity-id")

		c := getClient(cmd)
		ctx := context.Background()

		var err error
		switch {
		case tokenID != "":
			err = c.RevokeToken(ctx, tokenID)
		case sessionID != "":
			err = c.RevokeSession(ctx, sessionID)
		case identityID != "":
			err = c.RevokeIdentity(ctx, identityID)
		default:
			return fmt.Errorf("one of --token-id, --session-id or --identity-id is required")
		}
		if err != nil {
			return fmt.Errorf("revoke: %w", err)
		}

		fmt.Println("Revoked.")
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().String("username", "", "Identity username")
	tokenIssueCmd.Flags().String("device-file", "", "JSON file with device attributes")

	tokenRotateCmd.Flags().String("refresh-token", "", "Refresh token to rotate")

	tokenRevokeCmd.Flags().String("token-id", "", "Token ID to revoke")
	tokenRevokeCmd.Flags().String("session-id", "", "Session ID to revoke")
	tokenRevokeCmd.Flags().String("identity-id", "", "Identity ID to revoke")

	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenRotateCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
}

// ============================================================================
// Identity Commands
// ============================================================================

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Identity management",
}

var identityRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		roles, _ := cmd.Flags().GetStringSlice("roles")

		if username == "" {
			return fmt.Errorf("--username is required")
		}

		c := getClient(cmd)
		identity, err := c.RegisterIdentity(context.Background(), client.RegisterRequest{
			Username: username,
			Roles:    roles,
		})
		if err != nil {
			return fmt.Errorf("register identity: %w", err)
		}

		jsonOutput, _ := cmd.Root().PersistentFlags().GetBool("json")
		if jsonOutput {
			printJSON(identity)
		} else {
			fmt.Printf("Identity registered: %s (%s)\n", identity.Username, identity.ID)
		}
		return nil
	},
}

var identityUnlockCmd = &cobra.Command{
	Use:   "unlock [identity-id]",
	Short: "Clear an identity lockout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := getClient(cmd)
		if err := c.UnlockIdentity(context.Background(), args[0]); err != nil {
			return fmt.Errorf("unlock identity: %w", err)
		}
		fmt.Printf("Identity unlocked: %s\n", args[0])
		return nil
	},
}

var identityDevicesCmd = &cobra.Command{
	Use:   "devices [identity-id]",
	Short: "List an identity's devices",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := getClient(cmd)
		devices, err := c.ListDevices(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("list devices: %w", err)
		}

		jsonOutput, _ := cmd.Root().PersistentFlags().GetBool("json")
		if jsonOutput {
			printJSON(devices)
		} else {
			for _, d := range devices {
				fmt.Printf("%s  trust=%d  trusted=%t  revoked=%t\n", d.Fingerprint, d.TrustScore, d.Trusted, d.Revoked)
			}
		}
		return nil
	},
}

var identityRevokeDeviceCmd = &cobra.Command{
	Use:   "revoke-device [fingerprint]",
	Short: "Terminally revoke a device fingerprint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := getClient(cmd)
		if err := c.RevokeDevice(context.Background(), args[0]); err != nil {
			return fmt.Errorf("revoke device: %w", err)
		}
		fmt.Printf("Device revoked: %s\n", args[0])
		return nil
	},
}

func init() {
	identityRegisterCmd.Flags().String("username", "", "Username")
	identityRegisterCmd.Flags().StringSlice("roles", nil, "Roles")

	identityCmd.AddCommand(identityRegisterCmd)
	identityCmd.AddCommand(identityUnlockCmd)
	identityCmd.AddCommand(identityDevicesCmd)
	identityCmd.AddCommand(identityRevokeDeviceCmd)
}

// ============================================================================
// Audit Commands
// ============================================================================

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit trail queries",
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		identityID, _ := cmd.Flags().GetString("identity-id")
		category, _ := cmd.Flags().GetString("category")
		since, _ := cmd.Flags().GetString("since")
		until, _ := cmd.Flags().GetString("until")
		limit, _ := cmd.Flags().GetInt("limit")

		c := getClient(cmd)
		events, err := c.QueryAudit(context.Background(), client.AuditQueryParams{
			IdentityID: identityID,
			Category:   category,
			Since:      since,
			Until:      until,
			Limit:      limit,
		})
		if err != nil {
			return fmt.Errorf("query audit: %w", err)
		}

		jsonOutput, _ := cmd.Root().PersistentFlags().GetBool("json")
		if jsonOutput {
			printJSON(events)
		} else {
			for _, ev := range events {
				fmt.Printf("%s  %s  %s  %s  %s\n",
					ev.Timestamp.Format(time.RFC3339), ev.Category, ev.Action, ev.Outcome, ev.IdentityID)
			}
		}
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit hash chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetString("since")
		until, _ := cmd.Flags().GetString("until")

		c := getClient(cmd)
		intact, err := c.VerifyAuditChain(context.Background(), since, until)
		if err != nil {
			return fmt.Errorf("verify chain: %w", err)
		}

		if intact {
			fmt.Println("Chain is INTACT")
			return nil
		}
		fmt.Println("Chain is BROKEN")
		os.Exit(1)
		return nil
	},
}

func init() {
	auditQueryCmd.Flags().String("identity-id", "", "Filter by identity")
	auditQueryCmd.Flags().String("category", "", "Filter by category")
	auditQueryCmd.Flags().String("since", "", "Start time (RFC3339)")
	auditQueryCmd.Flags().String("until", "", "End time (RFC3339)")
	auditQueryCmd.Flags().Int("limit", 100, "Maximum results")

	auditVerifyCmd.Flags().String("since", "", "Start time (RFC3339)")
	auditVerifyCmd.Flags().String("until", "", "End time (RFC3339)")

	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditVerifyCmd)
}

// ============================================================================
// Fingerprint Command
// ============================================================================

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint [device-file]",
	Short: "Compute the fingerprint for a device attribute file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		attrs, err := readDeviceAttributes(args[0])
		if err != nil {
			return err
		}
		fmt.Println(trust.Fingerprint(attrs))
		return nil
	},
}

// ============================================================================
// Health Command
// ============================================================================

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check service health",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := getClient(cmd)
		resp, err := c.Health(context.Background())
		if err != nil {
			return fmt.Errorf("health check: %w", err)
		}
		fmt.Printf("Status: %s (version %s)\n", resp.Status, resp.Version)
		return nil
	},
}
