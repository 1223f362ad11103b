package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"medstock/backend/internal/config"
	"medstock/backend/internal/domain"
	"medstock/backend/internal/store"
	"medstock/backend/internal/store/migrations"
	pgstore "medstock/backend/internal/store/postgres"
	sqlitestore "medstock/backend/internal/store/sqlite"
)

// sqlHandle is implemented by the SQL-backed repositories.
type sqlHandle interface {
	DB() *sql.DB
}

func dialectFor(repo store.Repository) (migrations.Dialect, bool) {
	switch repo.(type) {
	case *pgstore.Store:
		return migrations.Postgres, true
	case *sqlitestore.Store:
		return migrations.SQLite, true
	default:
		return "", false
	}
}

func migratorFor(repo store.Repository) (*migrations.Migrator, error) {
	dialect, ok := dialectFor(repo)
	handle, hasDB := repo.(sqlHandle)
	if !ok || !hasDB {
		return nil, fmt.Errorf("the memory store has no schema to migrate")
	}
	return migrations.New(handle.DB(), dialect), nil
}

func migrateStore(ctx context.Context, repo store.Repository, logger zerolog.Logger) error {
	if _, ok := dialectFor(repo); !ok {
		return nil
	}
	migrator, err := migratorFor(repo)
	if err != nil {
		return err
	}
	count, err := migrator.Up(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info().Int("applied", count).Msg("schema migrations complete")
	return nil
}

func withStore(fn func(ctx context.Context, repo store.Repository) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := openStore(ctx, cfg, zerolog.Nop())
	if err != nil {
		return err
	}
	defer repo.Close()

	return fn(ctx, repo)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQL schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, repo store.Repository) error {
				migrator, err := migratorFor(repo)
				if err != nil {
					return err
				}
				count, err := migrator.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, repo store.Repository) error {
				migrator, err := migratorFor(repo)
				if err != nil {
					return err
				}
				statuses, err := migrator.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func printStatus(out io.Writer, statuses []migrations.Status) {
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// adminCmd bootstraps the first admin account on a fresh SQL database. Staff
// accounts are created afterwards through the API.
func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				password = os.Getenv("MEDSTOCK_ADMIN_PASSWORD")
			}

			account, err := newAdminAccount(username, password, time.Now().UTC())
			if err != nil {
				return err
			}

			return withStore(func(ctx context.Context, repo store.Repository) error {
				if err := repo.CreateUser(ctx, account); err != nil {
					return fmt.Errorf("create admin %s: %w", account.Username, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Admin %s created.\n", account.Username)
				return nil
			})
		},
	}
	createCmd.Flags().String("username", "admin", "Admin username")
	createCmd.Flags().String("password", "", "Admin password (defaults to $MEDSTOCK_ADMIN_PASSWORD)")

	cmd.AddCommand(createCmd)
	return cmd
}

func newAdminAccount(username string, password string, now time.Time) (domain.UserAccount, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if len(username) < 4 || strings.ContainsAny(username, " \t") {
		return domain.UserAccount{}, fmt.Errorf("username must be at least 4 characters without spaces")
	}
	if len(password) < 12 {
		return domain.UserAccount{}, fmt.Errorf("admin password must be at least 12 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.UserAccount{}, err
	}
	return domain.UserAccount{
		Username:  username,
		Password:  string(hash),
		Role:      domain.RoleAdmin,
		Active:    true,
		CreatedAt: now,
	}, nil
}
