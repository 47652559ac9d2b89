package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sensorhub-io/sensorhub/internal/query"
	"github.com/sensorhub-io/sensorhub/internal/schema"
)

var (
	recentLimit int
	sinceFlag   time.Duration
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run dashboard queries against the store",
}

var recentCmd = &cobra.Command{
	Use:   "recent <device>",
	Short: "Show the newest readings for a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeStore, err := openQuery()
		if err != nil {
			return err
		}
		defer closeStore()

		readings, err := svc.RecentReadings(context.Background(), args[0], recentLimit)
		if err != nil {
			return err
		}
		if len(readings) == 0 {
			fmt.Printf("no readings for device '%s'\n", args[0])
			return nil
		}

		for _, r := range readings {
			fmt.Printf("%s  %-12s %s\n",
				r.Timestamp.Format("2006-01-02 15:04:05.000"),
				r.SensorType,
				formatValue(r.SensorType, r.Value))
		}
		return nil
	},
}

var avgCmd = &cobra.Command{
	Use:   "avg <device> <sensor-type>",
	Short: "Average value over a trailing window",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeStore, err := openQuery()
		if err != nil {
			return err
		}
		defer closeStore()

		sensorType, err := schema.ParseSensorType(args[1])
		if err != nil {
			return err
		}

		avg, err := svc.AverageOverWindow(context.Background(), args[0], sensorType, sinceTime())
		if err != nil {
			return err
		}
		window := "default window"
		if sinceFlag > 0 {
			window = "last " + sinceFlag.String()
		}
		fmt.Printf("avg %s over %s for %s: %.2f\n", sensorType, window, args[0], avg)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <device> <sensor-type>",
	Short: "Count/avg/min/max and percentiles over a trailing window",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeStore, err := openQuery()
		if err != nil {
			return err
		}
		defer closeStore()

		sensorType, err := schema.ParseSensorType(args[1])
		if err != nil {
			return err
		}

		stats, err := svc.StatsOverWindow(context.Background(), args[0], sensorType, sinceTime())
		if err != nil {
			return err
		}
		fmt.Printf("device:  %s\n", stats.DeviceID)
		fmt.Printf("sensor:  %s\n", stats.SensorType)
		fmt.Printf("count:   %d\n", stats.Count)
		fmt.Printf("avg:     %.2f\n", stats.Avg)
		fmt.Printf("min:     %.2f\n", stats.Min)
		fmt.Printf("max:     %.2f\n", stats.Max)
		fmt.Printf("p50:     %.2f\n", stats.P50)
		fmt.Printf("p95:     %.2f\n", stats.P95)
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List known device ids",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeStore, err := openQuery()
		if err != nil {
			return err
		}
		defer closeStore()

		devices, err := svc.ListDevices(context.Background())
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("no devices observed")
			return nil
		}
		for _, id := range devices {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	recentCmd.Flags().IntVar(&recentLimit, "limit", 10, "maximum readings to return")
	queryCmd.PersistentFlags().DurationVar(&sinceFlag, "since", 0, "trailing window (default: query.window_default)")

	queryCmd.AddCommand(recentCmd)
	queryCmd.AddCommand(avgCmd)
	queryCmd.AddCommand(statsCmd)
	queryCmd.AddCommand(devicesCmd)
}

func openQuery() (*query.Service, func(), error) {
	st, err := cfg.OpenStore()
	if err != nil {
		return nil, nil, err
	}
	return query.New(cfg.ToQueryConfig(), st), func() { st.Close() }, nil
}

func sinceTime() time.Time {
	if sinceFlag <= 0 {
		return time.Time{} // service applies the configured default window
	}
	return time.Now().Add(-sinceFlag)
}

func formatValue(t schema.SensorType, v float64) string {
	switch t {
	case schema.SensorTemperature:
		return fmt.Sprintf("%.2f °C", v)
	case schema.SensorHumidity:
		return fmt.Sprintf("%.2f %%", v)
	case schema.SensorMotion:
		if v >= 1 {
			return "motion"
		}
		return "no motion"
	default:
		return fmt.Sprintf("%.2f", v)
	}
}
