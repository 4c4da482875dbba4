package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aryan0dhankhar/tenantrouter/internal/app"
	"github.com/aryan0dhankhar/tenantrouter/internal/directory"
	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/tenantrouter/internal/infrastructure/redis"
	"github.com/aryan0dhankhar/tenantrouter/internal/resolver"
	"github.com/aryan0dhankhar/tenantrouter/internal/security"
	"github.com/aryan0dhankhar/tenantrouter/internal/security/audit"
	"github.com/aryan0dhankhar/tenantrouter/internal/security/auth"
	"github.com/aryan0dhankhar/tenantrouter/internal/service"
	"github.com/aryan0dhankhar/tenantrouter/pkg/config"
	"github.com/aryan0dhankhar/tenantrouter/pkg/database"
)

const operator = "tenantctl"

// env is opened once per invocation by the root command
type env struct {
	cfg    *config.Config
	log    *slog.Logger
	stores *app.Stores
	redis  *redis.Client
	dir    *directory.Directory
	res    *resolver.Resolver
	audit  *audit.Logger
}

func (e *env) close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.stores != nil {
		_ = e.stores.Close()
	}
}

func newRootCommand() *cobra.Command {
	e := &env{}
	var logLevel string

	root := &cobra.Command{
		Use:           "tenantctl",
		Short:         "Administer tenantrouter tenants, users and tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			e.cfg = cfg
			e.log = logger.NewLogger(cfg.LogLevel)
			e.audit = audit.NewLogger(e.log)
			e.res = resolver.New(app.ResolverConfig(cfg.Routing))
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) { e.close() },
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newMigrateCommand(e),
		newTenantCommand(e),
		newUserCommand(e),
		newTokenCommand(e),
	)
	return root
}

// open connects storage and, when Redis is configured, publishes directory
// invalidations so running servers drop stale entries.
func (e *env) open(ctx context.Context, migrate bool) error {
	if e.cfg.Storage.Driver != "postgres" {
		return fmt.Errorf("tenantctl needs the postgres storage driver, got %q", e.cfg.Storage.Driver)
	}
	stores, err := app.OpenStores(ctx, e.cfg, migrate, e.log)
	if err != nil {
		return err
	}
	e.stores = stores

	var opts []directory.Option
	if e.cfg.Redis.URL != "" {
		client, err := redis.NewClient(e.cfg.Redis.URL, e.log)
		if err != nil {
			return err
		}
		e.redis = client
		opts = append(opts, directory.WithCache(client), directory.WithPublisher(client))
	}
	e.dir = directory.New(stores.Tenants, directory.Config{
		LookupTimeout: e.cfg.Directory.LookupTimeout,
		CacheTTL:      e.cfg.Directory.CacheTTL,
		NegativeTTL:   e.cfg.Directory.NegativeTTL,
		UnsharedTTL:   e.cfg.Directory.UnsharedCacheTTL,
	}, e.log, opts...)
	return nil
}

// settle waits out the unshared cache TTL of running servers when there is no
// Redis channel to evict their entries. Until it returns, servers may still
// route the tenant's old slug or status.
func (e *env) settle(ctx context.Context, out io.Writer) error {
	wait := e.cfg.Directory.UnsharedCacheTTL
	if e.redis != nil || wait <= 0 {
		return nil
	}
	fmt.Fprintf(out, "no redis configured; waiting %s for server caches to expire\n", wait)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newMigrateCommand(e *env) *cobra.Command {
	var down int
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back directory schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := e.open(ctx, false); err != nil {
				return err
			}
			db := e.stores.DB.GetDB()
			switch {
			case status:
			case down > 0:
				if err := database.Rollback(ctx, db, down); err != nil {
					return err
				}
			default:
				if err := database.Migrate(ctx, db); err != nil {
					return err
				}
			}
			v, err := database.MigrationVersion(ctx, db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
			return nil
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations")
	cmd.Flags().BoolVar(&status, "status", false, "print the current version only")
	return cmd
}

func newTenantCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			return e.open(cmd.Context(), true)
		},
	}

	var partitionName, subscription string
	create := &cobra.Command{
		Use:   "create <slug>",
		Short: "Create a tenant and its partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.res.ValidateSlugs(args[0]); err != nil {
				return err
			}
			t := &domain.Tenant{Slug: args[0], Partition: partitionName}
			if subscription != "" {
				t.SubscriptionRef = &subscription
			}
			if err := app.CreateTenant(cmd.Context(), e.stores.Pool, e.dir, t); err != nil {
				return err
			}
			e.audit.LogTenantChange(cmd.Context(), t.Slug, operator, "created", "partition="+t.Partition)
			fmt.Fprintf(cmd.OutOrStdout(), "created tenant %d %s (%s)\n", t.ID, t.Slug, t.Partition)
			return nil
		},
	}
	create.Flags().StringVar(&partitionName, "partition", "", "schema name (default tenant_<slug>)")
	create.Flags().StringVar(&subscription, "subscription", "", "external subscription reference")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenants, err := e.dir.List(cmd.Context())
			if err != nil {
				return err
			}
			return printTenants(cmd.OutOrStdout(), tenants)
		},
	}

	rename := &cobra.Command{
		Use:   "rename <id> <new-slug>",
		Short: "Change a tenant's slug; the partition is unchanged",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := e.res.ValidateSlugs(args[1]); err != nil {
				return err
			}
			if err := e.dir.Rename(cmd.Context(), id, args[1]); err != nil {
				return err
			}
			e.audit.LogTenantChange(cmd.Context(), args[1], operator, "renamed", "id="+args[0])
			return e.settle(cmd.Context(), cmd.OutOrStdout())
		},
	}

	alias := &cobra.Command{
		Use:   "alias <id> <alias>",
		Short: "Add a lookup alias for a tenant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := e.res.ValidateSlugs(args[1]); err != nil {
				return err
			}
			if err := e.dir.AddAlias(cmd.Context(), domain.Alias{Alias: args[1], TenantID: id}); err != nil {
				return err
			}
			e.audit.LogTenantChange(cmd.Context(), args[1], operator, "alias_added", "id="+args[0])
			return nil
		},
	}

	cmd.AddCommand(create, list, rename, alias,
		statusCommand(e, "suspend", domain.TenantSuspended),
		statusCommand(e, "activate", domain.TenantActive),
		statusCommand(e, "archive", domain.TenantArchived),
	)
	return cmd
}

func statusCommand(e *env, verb string, status domain.TenantStatus) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: fmt.Sprintf("Set a tenant's status to %s", status),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			t, err := e.dir.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := e.dir.SetStatus(cmd.Context(), id, status); err != nil {
				return err
			}
			e.audit.LogTenantChange(cmd.Context(), t.Slug, operator, "status", string(t.Status)+"->"+string(status))
			return e.settle(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func newUserCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage platform users"}

	var password, role string
	create := &cobra.Command{
		Use:   "create <email>",
		Short: "Create a platform user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.open(cmd.Context(), true); err != nil {
				return err
			}
			svc := service.NewAuthService(e.stores.Users, nil, 0, e.log)
			u, err := svc.CreateUser(cmd.Context(), args[0], password, security.Role(role))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s %s (%s)\n", u.ID, u.Email, u.Role)
			return nil
		},
	}
	create.Flags().StringVar(&password, "password", "", "initial password")
	create.Flags().StringVar(&role, "role", string(security.RoleAdmin), "platform role")
	_ = create.MarkFlagRequired("password")

	cmd.AddCommand(create)
	return cmd
}

func newTokenCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Issue credentials"}

	var userID, tenant, role string
	var ttl time.Duration
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint a tenant-scoped bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tokens, err := auth.NewTokenManager(auth.TokenConfig{
				Secret:    e.cfg.Auth.JWTSecret,
				Issuer:    e.cfg.Auth.Issuer,
				Algorithm: e.cfg.Auth.Algorithm,
				Leeway:    e.cfg.Auth.Leeway,
			})
			if err != nil {
				return err
			}
			svc := service.NewAuthService(nil, tokens, e.cfg.Auth.TokenTTL, e.log)
			tok, err := svc.MintTenantToken(userID, tenant, security.Role(role), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	mint.Flags().StringVar(&userID, "user", "", "subject user id")
	mint.Flags().StringVar(&tenant, "tenant", "", "tenant slug the token is bound to")
	mint.Flags().StringVar(&role, "role", string(security.RoleMember), "tenant role")
	mint.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = mint.MarkFlagRequired("user")
	_ = mint.MarkFlagRequired("tenant")

	cmd.AddCommand(mint)
	return cmd
}

func printTenants(out io.Writer, tenants []*domain.Tenant) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSLUG\tPARTITION\tSTATUS\tCREATED")
	for _, t := range tenants {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", t.ID, t.Slug, t.Partition, t.Status, t.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid tenant id %q", s)
	}
	return id, nil
}
