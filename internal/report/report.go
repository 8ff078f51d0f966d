// Package report renders drone order exports as spreadsheets.
package report

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/xuri/excelize/v2"
)

const (
	SheetDroneOrders = "Drone Orders"
	ContentType      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	timeLayout       = "2006-01-02 15:04:05"
)

var droneOrderHeaders = []string{
	"ID", "Order ID", "User ID", "Seller ID", "Status", "Drone ID",
	"Weather", "Weather Safe", "Delivery Address", "Estimated Delivery", "Actual Delivery",
	"Cancelled By", "Cancellation Reason", "Created At",
}

// DroneOrders writes orders into a single sheet workbook on w.
func DroneOrders(w io.Writer, orders []*model.DroneOrder) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetDroneOrders)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}

	for i, h := range droneOrderHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetDroneOrders, cell, h); err != nil {
			return err
		}
	}
	if err := f.SetPanes(SheetDroneOrders, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	for r, o := range orders {
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(SheetDroneOrders, cell, &[]interface{}{
			o.ID,
			o.OrderID,
			o.UserID,
			o.SellerID,
			string(o.Status),
			deref(o.DroneID),
			weatherCondition(o.WeatherCheck),
			weatherSafe(o.WeatherCheck),
			o.DeliveryAddress,
			formatTime(o.EstimatedDeliveryTime),
			formatTime(o.ActualDeliveryTime),
			cancelledBy(o.CancelledBy),
			o.CancellationReason,
			o.CreatedAt.UTC().Format(timeLayout),
		}); err != nil {
			return fmt.Errorf("write row %d: %w", r+2, err)
		}
	}

	_, err = f.WriteTo(w)
	return err
}

// DroneOrdersBytes is DroneOrders into memory.
func DroneOrdersBytes(orders []*model.DroneOrder) ([]byte, error) {
	var buf bytes.Buffer
	if err := DroneOrders(&buf, orders); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FileName names an export taken at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("drone_orders_%s.xlsx", t.UTC().Format("20060102_150405"))
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func weatherCondition(w *model.WeatherCheck) string {
	if w == nil {
		return ""
	}
	if w.Error != "" {
		return "error: " + w.Error
	}
	return w.Condition
}

func weatherSafe(w *model.WeatherCheck) string {
	switch {
	case w == nil:
		return ""
	case w.IsSafe:
		return "yes"
	}
	return "no"
}

func cancelledBy(c *model.CancelledBy) string {
	if c == nil {
		return ""
	}
	return string(*c)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
