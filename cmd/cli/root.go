package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nimasrn/drone-dispatch/internal/auth"
	"github.com/nimasrn/drone-dispatch/internal/config"
	"github.com/nimasrn/drone-dispatch/internal/repository"
	"github.com/nimasrn/drone-dispatch/internal/services"
	"github.com/nimasrn/drone-dispatch/pkg/pg"
)

var envPath string

var rootCmd = &cobra.Command{
	Use:           "dispatchctl",
	Short:         "Operator commands for the drone dispatch service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(envPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envPath, "env", "", "env file to load before the process environment")
}

func writeConfig() pg.Config {
	return pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}
}

// openServices connects to postgres and builds the services the commands
// drive. Realtime and notification side effects are disabled.
func openServices() (services.Dependencies, error) {
	db, err := pg.CreateReadWrite(writeConfig(), writeConfig(), false)
	if err != nil {
		return services.Dependencies{}, fmt.Errorf("connect postgres: %w", err)
	}
	return services.Dependencies{
		Tx:          db,
		Drones:      repository.NewDroneRepository(db),
		DroneOrders: repository.NewDroneOrderRepository(db),
		Assignments: repository.NewDroneAssignmentRepository(db),
		Orders:      repository.NewOrderRepository(db),
	}, nil
}

// operatorContext runs commands as an administrator.
func operatorContext(ctx context.Context) context.Context {
	return auth.WithActor(ctx, auth.Admin(0))
}
