package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/splax/lbinsight/internal/domain"
	"github.com/splax/lbinsight/internal/service/pipeline"
	apiclient "github.com/splax/lbinsight/pkg/api/client"
)

// humanOutput is true when stdout is a terminal and JSON was not requested.
func humanOutput(forceJSON bool) bool {
	return !forceJSON && term.IsTerminal(int(os.Stdout.Fd()))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(result pipeline.Result, forceJSON bool) error {
	if !humanOutput(forceJSON) {
		return printJSON(result)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	status := "succeeded"
	if !result.Success {
		status = "failed"
	}
	fmt.Fprintf(tw, "pipeline\t%s\n", status)
	fmt.Fprintf(tw, "duration\t%.2fs\n", result.DurationSeconds)
	fmt.Fprintf(tw, "steps\t%v\n", result.StepsCompleted)
	if s := result.Summary; s != nil {
		fmt.Fprintf(tw, "requests\t%d\n", s.TotalRequests)
		fmt.Fprintf(tw, "error rate\t%.2f%%\n", s.ErrorRatePercent)
		fmt.Fprintf(tw, "avg response\t%.2f ms\n", s.AvgResponseTimeMS)
		fmt.Fprintf(tw, "slow requests\t%d\n", s.SlowRequests)
		fmt.Fprintf(tw, "unhealthy servers\t%d\n", s.UnhealthyServers)
	}
	if result.ReportRowID != 0 {
		fmt.Fprintf(tw, "stored report\t%d\n", result.ReportRowID)
	}
	if result.ReportPath != "" {
		fmt.Fprintf(tw, "report file\t%s\n", result.ReportPath)
	}
	if result.Error != "" {
		fmt.Fprintf(tw, "error\t%s\n", result.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(result.Quality) > 0 {
		fmt.Println()
		return printQuality(result.Quality, false)
	}
	return nil
}

func printCleanup(days int, deleted map[string]int64, forceJSON bool) error {
	if !humanOutput(forceJSON) {
		return printJSON(map[string]any{"retention_days": days, "deleted": deleted})
	}
	tables := make([]string, 0, len(deleted))
	for table := range deleted {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "TABLE\tDELETED (older than %d days)\n", days)
	for _, table := range tables {
		fmt.Fprintf(tw, "%s\t%d\n", table, deleted[table])
	}
	return tw.Flush()
}

func printQuality(checks []domain.DataQualityCheck, forceJSON bool) error {
	if !humanOutput(forceJSON) {
		return printJSON(checks)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tRECORDS\tNULLS\tDUPLICATES\tFRESHNESS (h)\tSCORE")
	for _, c := range checks {
		freshness := "-"
		if c.DataFreshnessHours != nil {
			freshness = fmt.Sprintf("%.2f", *c.DataFreshnessHours)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%.2f\n", c.TableName, c.TotalRecords, c.NullValues, c.DuplicateRecords, freshness, c.QualityScore)
	}
	return tw.Flush()
}

func printStoredReport(stored apiclient.StoredReport, forceJSON bool) error {
	if !humanOutput(forceJSON) {
		return printJSON(stored)
	}
	if err := printReportList([]apiclient.ReportSummary{stored.ReportSummary}, false); err != nil {
		return err
	}
	fmt.Println()
	var doc any
	if err := json.Unmarshal(stored.Report, &doc); err != nil {
		return fmt.Errorf("decode report: %w", err)
	}
	return printJSON(doc)
}

func printReportList(summaries []apiclient.ReportSummary, forceJSON bool) error {
	if !humanOutput(forceJSON) {
		return printJSON(summaries)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tREPORT TIME\tRECORDS\tPROCESSING (ms)")
	for _, s := range summaries {
		records, processing := "-", "-"
		if s.RecordCount != nil {
			records = fmt.Sprint(*s.RecordCount)
		}
		if s.ProcessingTimeMS != nil {
			processing = fmt.Sprint(*s.ProcessingTimeMS)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.ID, s.ReportType, s.ReportTimestamp.Format("2006-01-02 15:04:05Z07:00"), records, processing)
	}
	return tw.Flush()
}
