package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/and161185/leaseflow/internal/migrate"
	"github.com/and161185/leaseflow/internal/model"
	grpcserver "github.com/and161185/leaseflow/internal/server/grpc"
	"github.com/and161185/leaseflow/internal/workflow"
)

// app carries the global flags.
type app struct {
	addr       string
	caPath     string
	skipVerify bool
	plaintext  bool
	token      string
	timeout    time.Duration

	dialOpts []grpc.DialOption
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "leasectl",
		Short:         "Lease workflow operator CLI",
		Long:          "Administrative utilities for the lease workflow service (tokens, migrations, workflow calls).",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	f := root.PersistentFlags()
	f.StringVar(&a.addr, "addr", "localhost:9090", "server address")
	f.StringVar(&a.caPath, "cacert", "", "CA cert (PEM)")
	f.BoolVar(&a.skipVerify, "insecure", false, "skip cert verify (dev)")
	f.BoolVar(&a.plaintext, "plaintext", false, "connect without TLS")
	f.StringVar(&a.token, "token", "", "bearer token (default: $LEASEFLOW_TOKEN or saved token)")
	f.DurationVar(&a.timeout, "timeout", 30*time.Second, "per-command timeout")

	root.AddCommand(
		versionCmd(),
		tokenCmd(),
		migrateCmd(),
		transitionsCmd(),
		a.callCmd(),
		a.leaseCmd(),
		a.auditCmd(),
	)
	return root
}

func (a *app) ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "leasectl %s (%s)\n", version, buildDate)
			return err
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		key    string
		userID string
		role   string
		ttl    time.Duration
		save   bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a staff member or landlord",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if key == "" {
				key = os.Getenv("JWT_KEY")
			}
			if key == "" {
				return fmt.Errorf("--jwt-key or JWT_KEY is required")
			}
			id, err := uuid.FromString(userID)
			if err != nil {
				return fmt.Errorf("--user: %w", err)
			}
			if role != model.RoleStaff && role != model.RoleLandlord {
				return fmt.Errorf("--role must be %s or %s", model.RoleStaff, model.RoleLandlord)
			}
			now := time.Now()
			tok, err := grpcserver.IssueToken([]byte(key), id, role, ttl, now)
			if err != nil {
				return err
			}
			if save {
				if err := saveToken(tok, now.Add(ttl)); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&key, "jwt-key", "", "HS256 signing key (default: $JWT_KEY)")
	cmd.Flags().StringVar(&userID, "user", "", "subject user id")
	cmd.Flags().StringVar(&role, "role", model.RoleStaff, "staff or landlord")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&save, "save", false, "store the token for later commands")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func migrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (default: $DATABASE_URL)")
	resolve := func() (string, error) {
		if dsn == "" {
			dsn = os.Getenv("DATABASE_URL")
		}
		if dsn == "" {
			return "", fmt.Errorf("--dsn or DATABASE_URL is required")
		}
		return dsn, nil
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				d, err := resolve()
				if err != nil {
					return err
				}
				return migrate.Up(cmd.Context(), d)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				d, err := resolve()
				if err != nil {
					return err
				}
				return migrate.Status(cmd.Context(), d, cmd.OutOrStdout())
			},
		},
	)
	return cmd
}

func transitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transitions [state]",
		Short: "Print the workflow transition table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			states := workflow.All
			if len(args) == 1 {
				s, ok := workflow.Parse(args[0])
				if !ok {
					return fmt.Errorf("unknown state %q", args[0])
				}
				states = []workflow.State{s}
			}
			for _, s := range states {
				next := make([]string, 0)
				for _, n := range workflow.NextStates(s) {
					next = append(next, string(n))
				}
				if workflow.IsTerminal(s) {
					next = append(next, "(terminal)")
				}
				if _, err := fmt.Fprintf(w, "%s\t%s\n", s, strings.Join(next, ", ")); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> [json | @file | -]",
		Short: "Invoke a workflow method with a JSON request",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := map[string]any{}
			if len(args) == 2 {
				raw := []byte(args[1])
				if p, ok := strings.CutPrefix(args[1], "@"); ok || args[1] == "-" {
					if !ok {
						p = "-"
					}
					b, err := readAll(cmd.InOrStdin(), p)
					if err != nil {
						return err
					}
					raw = b
				}
				if err := json.Unmarshal(raw, &in); err != nil {
					return fmt.Errorf("request json: %w", err)
				}
			}
			return a.run(cmd, args[0], in)
		},
	}
}

func (a *app) run(cmd *cobra.Command, method string, in map[string]any) error {
	ctx, cancel := a.ctx(cmd)
	defer cancel()
	out, err := a.call(ctx, method, in)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func leaseArg(args []string) (map[string]any, error) {
	if _, err := uuid.FromString(args[0]); err != nil {
		return nil, fmt.Errorf("lease id: %w", err)
	}
	return map[string]any{"lease_id": args[0]}, nil
}

func (a *app) leaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lease",
		Short: "Inspect and move leases",
	}
	byID := func(use, short, method string) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <lease-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				in, err := leaseArg(args)
				if err != nil {
					return err
				}
				return a.run(cmd, method, in)
			},
		}
	}

	var reason string
	move := &cobra.Command{
		Use:   "move <lease-id> <state>",
		Short: "Transition a lease along the workflow table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := leaseArg(args)
			if err != nil {
				return err
			}
			in["target_state"] = args[1]
			if reason != "" {
				in["extra"] = map[string]any{"reason": reason}
			}
			return a.run(cmd, "TransitionTo", in)
		},
	}
	move.Flags().StringVar(&reason, "reason", "", "reason recorded with the transition")

	var method string
	initiate := &cobra.Command{
		Use:   "send <lease-id>",
		Short: "Start digital signing and send the tenant a link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := leaseArg(args)
			if err != nil {
				return err
			}
			if method != "" {
				in["method"] = method
			}
			return a.run(cmd, "InitiateSigning", in)
		},
	}
	initiate.Flags().StringVar(&method, "method", "", "email, sms or both")

	var outPath string
	signature := &cobra.Command{
		Use:   "signature <lease-id>",
		Short: "Show the tenant signature, optionally saving the image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := leaseArg(args)
			if err != nil {
				return err
			}
			ctx, cancel := a.ctx(cmd)
			defer cancel()
			out, err := a.call(ctx, "GetSignature", in)
			if err != nil {
				return err
			}
			if img, ok := out["image"].(string); ok {
				delete(out, "image")
				if outPath != "" {
					b, err := base64.StdEncoding.DecodeString(img)
					if err != nil {
						return fmt.Errorf("decode image: %w", err)
					}
					if err := os.WriteFile(outPath, b, 0o600); err != nil {
						return err
					}
				}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	signature.Flags().StringVarP(&outPath, "out", "o", "", "write the signature image to this file")

	cmd.AddCommand(
		byID("get", "Show a lease", "GetLease"),
		byID("next", "List the states a lease may move to", "ValidNextStates"),
		byID("request-approval", "Ask the landlord to review a lease", "RequestApproval"),
		byID("signing", "Show the signing status", "SigningStatus"),
		byID("edits", "List tracked edits", "ListEdits"),
		byID("verify-signature", "Recheck the content hash of the signature", "VerifySignature"),
		move,
		initiate,
		signature,
	)
	return cmd
}

func (a *app) auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <lease-id>",
		Short: "Print the audit trail of a lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := leaseArg(args)
			if err != nil {
				return err
			}
			return a.run(cmd, "ListAudit", in)
		},
	}
}
