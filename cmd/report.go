package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/dhcgn/parcelscan/classify"
	"github.com/dhcgn/parcelscan/config"
	"github.com/dhcgn/parcelscan/logging"
	"github.com/dhcgn/parcelscan/model"
	"github.com/dhcgn/parcelscan/state"
	"github.com/dhcgn/parcelscan/stats"
)

// Report formats.
const (
	FormatTable = "table"
	FormatCSV   = "csv"
	FormatXLSX  = "xlsx"
)

const defaultXLSXPath = "parcelscan-report.xlsx"

var purchaseColumns = []string{
	"Message ID", "Tracking Number", "Carrier", "Sender Carrier", "Organization",
	"Recipient", "Line 1", "Line 2", "City", "State", "Zipcode",
	"From", "Date", "Subject",
}

// ReportOptions control WriteReport.
type ReportOptions struct {
	Format string
	// Output is a file path; empty writes table and csv to the command's
	// stdout and xlsx to parcelscan-report.xlsx.
	Output string
	Top    int
}

// NewReportCommand returns the report subcommand. It reads the ledgers
// named by the shared flags and never writes them.
func NewReportCommand() *cobra.Command {
	opts := ReportOptions{}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize the purchase and error ledgers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			common, err := config.LoadCommon(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := logging.New(common.LogLevel, common.LogDir)
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
				_ = cleanup()
			}()

			orgs, err := loadOrganizations(common.OrgRules)
			if err != nil {
				return err
			}

			ledger, err := state.Open(common.Ledger, common.StateDir, state.Options{
				Persist:   false,
				Assembler: classify.NewAssembler(orgs),
				Logger:    logger,
			})
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer ledger.Close()

			records, err := ledger.LoadAll()
			if err != nil {
				return fmt.Errorf("load ledger: %w", err)
			}
			logger.Debug("ledger loaded",
				zap.String("stateDir", common.StateDir),
				zap.Int("purchases", len(records.Purchases)),
				zap.Int("failures", len(records.Failures)))

			return WriteReport(cmd.OutOrStdout(), records, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Format, "format", "f", FormatTable, "Report format: table, csv or xlsx")
	flags.StringVarP(&opts.Output, "output", "o", "", "Write the report to this file")
	flags.IntVarP(&opts.Top, "top", "t", 10, "Number of top items to display in statistics")

	return cmd
}

func loadOrganizations(path string) (*classify.Organizations, error) {
	if path == "" {
		return classify.DefaultOrganizations(), nil
	}
	orgs, err := classify.LoadOrganizations(path)
	if err != nil {
		return nil, fmt.Errorf("load organization rules: %w", err)
	}
	return orgs, nil
}

// WriteReport renders records in the requested format.
func WriteReport(stdout io.Writer, records state.Records, opts ReportOptions) error {
	format := strings.ToLower(opts.Format)
	if format == FormatXLSX {
		path := opts.Output
		if path == "" {
			path = defaultXLSXPath
		}
		if err := writeXLSX(path, records); err != nil {
			return fmt.Errorf("write xlsx report: %w", err)
		}
		fmt.Fprintf(stdout, "Report saved to: %s\n", path)
		return nil
	}

	w := stdout
	if opts.Output != "" {
		file, err := os.Create(opts.Output)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}

	switch format {
	case FormatTable, "":
		return writeTable(w, records, opts.Top)
	case FormatCSV:
		return writeCSV(w, records.Purchases)
	default:
		return fmt.Errorf("unknown report format %q", opts.Format)
	}
}

type breakdown struct {
	carriers       map[string]int
	senderCarriers map[string]int
	organizations  map[string]int
}

func countPurchases(purchases []model.Purchase) breakdown {
	b := breakdown{
		carriers:       make(map[string]int),
		senderCarriers: make(map[string]int),
		organizations:  make(map[string]int),
	}
	for _, p := range purchases {
		b.carriers[p.Carrier.String()]++
		b.senderCarriers[p.SenderCarrier.String()]++
		b.organizations[p.Organization.String()]++
	}
	return b
}

func writeTable(w io.Writer, records state.Records, top int) error {
	fmt.Fprintf(w, "Purchases: %d\n", len(records.Purchases))
	fmt.Fprintf(w, "Failures: %d\n\n", len(records.Failures))

	b := countPurchases(records.Purchases)
	for _, section := range []struct {
		title  string
		counts map[string]int
	}{
		{"Organization", b.organizations},
		{"Carrier", b.carriers},
		{"Sender Carrier", b.senderCarriers},
	} {
		fmt.Fprintf(w, "Top %d %s:\n", top, section.title)
		stats.PrettyPrintTop(w, section.counts, top)
		fmt.Fprintln(w)
	}

	if len(records.Purchases) == 0 {
		return nil
	}
	data := pterm.TableData{{"Tracking Number", "Carrier", "Organization", "Address", "Date"}}
	for _, p := range records.Purchases {
		data = append(data, []string{
			p.TrackingNumber,
			p.Carrier.String(),
			p.Organization.String(),
			p.Address.Street() + ", " + p.Address.Locality(),
			p.Message.Date,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
}

func purchaseRow(p model.Purchase) []string {
	return []string{
		p.Message.ID,
		p.TrackingNumber,
		p.Carrier.String(),
		p.SenderCarrier.String(),
		p.Organization.String(),
		p.Address.Recipient,
		p.Address.Line1,
		p.Address.Line2,
		p.Address.City,
		p.Address.State,
		p.Address.Zipcode,
		p.Message.From,
		p.Message.Date,
		p.Message.Subject,
	}
}

func writeCSV(w io.Writer, purchases []model.Purchase) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(purchaseColumns); err != nil {
		return err
	}
	for _, p := range purchases {
		if err := writer.Write(purchaseRow(p)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// writeXLSX writes three sheets: every purchase, every failure, and the
// per-organization totals.
func writeXLSX(path string, records state.Records) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	const purchasesSheet = "Purchases"
	if err := f.SetSheetName("Sheet1", purchasesSheet); err != nil {
		return err
	}
	rows := make([][]string, 0, len(records.Purchases)+1)
	rows = append(rows, purchaseColumns)
	for _, p := range records.Purchases {
		rows = append(rows, purchaseRow(p))
	}
	if err := writeSheet(f, purchasesSheet, rows); err != nil {
		return err
	}

	rows = [][]string{{"Message ID", "From", "Date", "Subject"}}
	for _, m := range records.Failures {
		rows = append(rows, []string{m.ID, m.From, m.Date, m.Subject})
	}
	if err := writeSheet(f, "Failures", rows); err != nil {
		return err
	}

	rows = [][]string{{"Organization", "Purchases"}}
	for _, c := range stats.Top(countPurchases(records.Purchases).organizations, 0) {
		rows = append(rows, []string{c.Key, strconv.Itoa(c.Value)})
	}
	if err := writeSheet(f, "Organizations", rows); err != nil {
		return err
	}

	return f.SaveAs(path)
}

func writeSheet(f *excelize.File, sheet string, rows [][]string) error {
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	return nil
}
