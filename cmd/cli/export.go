package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/internal/report"
	"github.com/nimasrn/drone-dispatch/internal/services"
)

var (
	exportOut      string
	exportStatuses string
	exportSince    time.Duration
)

var exportOrdersCmd = &cobra.Command{
	Use:   "export-orders",
	Short: "Write drone orders to an xlsx workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := openServices()
		if err != nil {
			return err
		}
		svc := services.NewDroneOrderService(deps)

		f := model.DroneOrderFilter{Desc: true}
		for _, s := range strings.Split(exportStatuses, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, model.DroneOrderStatus(s))
			}
		}
		now := time.Now()
		if exportSince > 0 {
			from := now.Add(-exportSince)
			f.From = &from
		}

		orders, err := svc.All(operatorContext(cmd.Context()), f)
		if err != nil {
			return err
		}
		if exportOut == "" {
			exportOut = report.FileName(now)
		}
		out, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		defer out.Close()
		if err := report.DroneOrders(out, orders); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d drone orders to %s\n", len(orders), exportOut)
		return nil
	},
}

func init() {
	f := exportOrdersCmd.Flags()
	f.StringVarP(&exportOut, "out", "o", "", "output file, defaults to a timestamped name")
	f.StringVar(&exportStatuses, "status", "", "comma separated statuses to include")
	f.DurationVar(&exportSince, "since", 0, "only orders created within this window")
	rootCmd.AddCommand(exportOrdersCmd)
}
