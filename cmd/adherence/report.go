package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/adherence/internal/compliance"
	"github.com/goodtune/adherence/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var reportDays int

var reportCmd = &cobra.Command{
	Use:   "report [flags] PATIENT_ID",
	Short: "Print a patient's compliance report",
	Long:  `Print the compliance summary, usage trend and recent daily usage of a patient straight from storage.`,
	Example: `  adherence --config config.yaml report 3f2c9a1e-5b7d-4e0a-9c61-2d8f4b7a1e90
  adherence report --days 14 3f2c9a1e-5b7d-4e0a-9c61-2d8f4b7a1e90`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().IntVar(&reportDays, "days", 7, "Number of days of daily usage to show")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	patientID := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Quiet logger for report mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	aggregator := compliance.NewAggregator(store.Sessions(), store.Devices(), store.Identities(), compliance.RealClock{},
		compliance.Config{MaxAnalyticsDays: cfg.Analytics.MaxDays}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary, err := aggregator.Compliance(ctx, patientID)
	if err != nil {
		return fmt.Errorf("failed to compute compliance: %w", err)
	}

	analytics, err := aggregator.Analytics(ctx, patientID, reportDays)
	if err != nil {
		return fmt.Errorf("failed to compute analytics: %w", err)
	}

	printReport(summary, analytics)
	return nil
}

func printReport(summary *compliance.Summary, analytics *compliance.Analytics) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("COMPLIANCE REPORT")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Patient:        %s (%s)\n", summary.PatientName, summary.PatientID)
	fmt.Printf("Sessions:       %d over the last %d days\n", summary.TotalSessions, compliance.ComplianceWindowDays)
	fmt.Printf("Total usage:    %d minutes\n", summary.TotalDurationMinutes)
	fmt.Printf("Daily average:  %.1f minutes (%.2f hours)\n", summary.AverageDailyUsage, summary.AverageDailyHours)
	if summary.LastSession != nil {
		fmt.Printf("Last session:   %s\n", summary.LastSession.Format(time.RFC3339))
	} else {
		fmt.Printf("Last session:   (none)\n")
	}
	if summary.DeviceConnected {
		fmt.Printf("Device:         connected\n")
	} else {
		fmt.Printf("Device:         not connected\n")
	}
	fmt.Println()

	cyan.Print("Compliance:     ")
	pct := fmt.Sprintf("%.2f%%", summary.CompliancePercentage)
	switch {
	case summary.CompliancePercentage >= 80:
		green.Println(pct)
	case summary.CompliancePercentage >= 50:
		yellow.Println(pct)
	default:
		red.Println(pct)
	}

	if summary.UsageTrend != nil {
		cyan.Print("Trend:          ")
		trend := fmt.Sprintf("%s %.1f%%", summary.UsageTrend.Direction, summary.UsageTrend.Percentage)
		switch summary.UsageTrend.Direction {
		case compliance.Increasing:
			green.Println(trend)
		case compliance.Decreasing:
			red.Println(trend)
		default:
			fmt.Println(trend)
		}
	}
	fmt.Println()

	cyan.Printf("Daily usage (%d days, %d active):\n", analytics.TotalDays, analytics.ActiveDays)
	for _, point := range analytics.TimeSeries {
		bar := strings.Repeat("█", usageBarWidth(point.UsageMinutes))
		if point.UsageMinutes >= compliance.TargetMinutesPerDay {
			fmt.Printf("  %s  %5d min  %s\n", point.Date, point.UsageMinutes, green.Sprint(bar))
		} else {
			fmt.Printf("  %s  %5d min  %s\n", point.Date, point.UsageMinutes, yellow.Sprint(bar))
		}
	}
	fmt.Printf("  day %d min / night %d min\n", analytics.DayNightDistribution.Day, analytics.DayNightDistribution.Night)
	fmt.Println()
}

// usageBarWidth scales minutes to a bar of at most 40 cells, one full bar
// per daily target.
func usageBarWidth(minutes int) int {
	const width = 40
	cells := minutes * width / compliance.TargetMinutesPerDay
	if cells > width {
		return width
	}
	if cells < 0 {
		return 0
	}
	return cells
}
