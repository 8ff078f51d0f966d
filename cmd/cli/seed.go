package main

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/internal/services"
)

type seedOptions struct {
	count    int
	prefix   string
	lat, lng float64
	spread   float64
	battery  float64
}

var seed seedOptions

var seedDronesCmd = &cobra.Command{
	Use:   "seed-drones",
	Short: "Register a batch of idle drones around a base location",
	RunE: func(cmd *cobra.Command, args []string) error {
		if seed.count <= 0 {
			return fmt.Errorf("count must be positive")
		}
		deps, err := openServices()
		if err != nil {
			return err
		}
		fleet := services.NewFleetService(deps)
		ctx := operatorContext(cmd.Context())

		created := 0
		for i := 1; i <= seed.count; i++ {
			req := model.DroneRegisterRequest{
				DroneID: fmt.Sprintf("%s-%03d", seed.prefix, i),
				Battery: seed.battery,
				Location: model.Location{
					Lat: seed.lat + (rand.Float64()*2-1)*seed.spread,
					Lng: seed.lng + (rand.Float64()*2-1)*seed.spread,
				},
			}
			d, err := fleet.Register(ctx, req)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "skip %s: %v\n", req.DroneID, err)
				continue
			}
			created++
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.5f,%.5f\t%.0f%%\n", d.DroneID, d.Location.Lat, d.Location.Lng, d.Battery)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "registered %d of %d drones\n", created, seed.count)
		return nil
	},
}

func init() {
	f := seedDronesCmd.Flags()
	f.IntVar(&seed.count, "count", 10, "number of drones")
	f.StringVar(&seed.prefix, "prefix", "DRN", "drone id prefix")
	f.Float64Var(&seed.lat, "lat", 35.6892, "base latitude")
	f.Float64Var(&seed.lng, "lng", 51.3890, "base longitude")
	f.Float64Var(&seed.spread, "spread", 0.02, "max offset from the base in degrees")
	f.Float64Var(&seed.battery, "battery", 100, "initial battery percentage")
	rootCmd.AddCommand(seedDronesCmd)
}
