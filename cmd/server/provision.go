package main

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"github.com/threat-exchange/threat-exchange/internal/auth"
	"github.com/threat-exchange/threat-exchange/internal/config"
	"github.com/threat-exchange/threat-exchange/internal/db"
	"github.com/threat-exchange/threat-exchange/internal/db/models"
	"github.com/threat-exchange/threat-exchange/internal/db/repositories"
	"github.com/threat-exchange/threat-exchange/internal/exchange"
)

func newProvisionCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		name   string
		sector string
		region string
	)

	cmd := &cobra.Command{
		Use:   "provision-org",
		Short: "Create an organization and print its API key",
		Long: "Creates an organization with a full query budget and a freshly generated API key.\n" +
			"The key is printed once; only its bcrypt hash is stored.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			database, err := db.Connect(cmd.Context(), cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer database.Close()

			st := repositories.NewStore(sqlx.NewDb(database, "postgres"))
			svc := exchange.NewService(st, exchange.Options{
				Budget: exchange.BudgetPolicy{
					Capacity: cfg.Budget.DefaultCapacity,
					Window:   cfg.Budget.Window,
				},
			})

			org, key, err := svc.ProvisionOrganization(cmd.Context(), exchange.NewOrganization{
				DisplayName: name,
				Sector:      models.Sector(sector),
				Region:      models.Region(region),
			}, auth.BcryptCost)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Organization: %s (%s)\n", org.ID, org.DisplayName)
			fmt.Fprintf(out, "Sector/region: %s / %s\n", org.Sector, org.Region)
			fmt.Fprintf(out, "Query budget: %d per %s\n", cfg.Budget.DefaultCapacity, cfg.Budget.Window)
			fmt.Fprintf(out, "API key: %s\n", key)
			fmt.Fprintln(out, "Store the key now. It cannot be shown again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Organization display name")
	cmd.Flags().StringVar(&sector, "sector", "", "Sector (health, energy, finance, ...)")
	cmd.Flags().StringVar(&region, "region", "", "Region (NA-East, NA-West, EU, APAC, LATAM, MEA)")
	for _, f := range []string{"name", "sector", "region"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
