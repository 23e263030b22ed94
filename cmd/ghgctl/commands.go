package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/ghgledger/internal/core"
	"github.com/JonMunkholm/ghgledger/internal/rowsource"
)

func (c *cli) print(cmd *cobra.Command, v any) error {
	f, _ := parseFormat(c.output)
	return printResult(cmd.OutOrStdout(), f, v)
}

// readFile parses path with the limits the service is configured with.
func (c *cli) readFile(path, sheet string) (core.Upload, error) {
	return rowsource.ReadFile(path, rowsource.Options{
		MaxFileSize: c.app.Config.Upload.MaxFileSize,
		Encoding:    c.encoding,
		Sheet:       sheet,
	})
}

// resolveFacility accepts a facility ID or an exact facility name.
func (c *cli) resolveFacility(ctx context.Context, ref string) (core.Facility, error) {
	f, err := c.app.Service.GetFacility(ctx, ref)
	if !core.IsNotFound(err) {
		return f, err
	}
	f, err = c.app.Service.Store().FindFacilityByName(ctx, ref)
	if core.IsNotFound(err) {
		return core.Facility{}, fmt.Errorf("facility %q: %w", ref, core.ErrNotFound)
	}
	return f, err
}

func (c *cli) previewCmd() *cobra.Command {
	var sheet string
	cmd := &cobra.Command{
		Use:   "preview FILE",
		Short: "Detect the adapter and validate the first rows of a file without writing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			up, err := c.readFile(args[0], sheet)
			if err != nil {
				return err
			}
			report, err := c.app.Service.Preview(cmd.Context(), up)
			if err != nil {
				return err
			}
			return c.print(cmd, report)
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "workbook sheet to read (default: first sheet with data)")
	return cmd
}

// commitFlags are shared by commit and watch.
type commitFlags struct {
	dataset string
	source  string
	version string
	policy  string
	sheet   string
}

func (f *commitFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dataset, "dataset", "", "dataset name (required)")
	cmd.Flags().StringVar(&f.source, "source", "", "dataset source label (default: detected adapter)")
	cmd.Flags().StringVar(&f.version, "version", "", "dataset version tag (default from UPLOAD_DEFAULT_DATASET_VERSION)")
	cmd.Flags().StringVar(&f.policy, "policy", string(core.PolicySkip), "duplicate policy: replace_if_newer, anything else never replaces")
	cmd.Flags().StringVar(&f.sheet, "sheet", "", "workbook sheet to read (default: first sheet with data)")
	_ = cmd.MarkFlagRequired("dataset")
}

// options passes the policy through as given. Core treats anything other
// than replace_if_newer as skip.
func (f *commitFlags) options() core.CommitOptions {
	return core.CommitOptions{
		DatasetName:     f.dataset,
		Source:          f.source,
		DatasetVersion:  f.version,
		DuplicatePolicy: core.DuplicatePolicy(f.policy),
	}
}

func (c *cli) commitCmd() *cobra.Command {
	var flags commitFlags
	cmd := &cobra.Command{
		Use:   "commit FILE",
		Short: "Import a file into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			up, err := c.readFile(args[0], flags.sheet)
			if err != nil {
				return err
			}
			report, err := c.app.Service.Commit(cmd.Context(), up, flags.options())
			if err != nil {
				return err
			}
			return c.print(cmd, report)
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *cli) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile FACILITY",
		Short: "Compare reported against observed totals per year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := c.resolveFacility(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rows, err := c.app.Service.Reconcile(cmd.Context(), f.ID)
			if err != nil {
				return err
			}
			return c.print(cmd, rows)
		},
	}
}

func (c *cli) explainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain FACILITY YEAR",
		Short: "Attribute one year's reconciliation delta to note cues",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := strconv.Atoi(args[1])
			if err != nil || year < 1000 || year > 9999 {
				return fmt.Errorf("%w: year %q", core.ErrInvalidArgument, args[1])
			}
			f, err := c.resolveFacility(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			exp, err := c.app.Service.Explain(cmd.Context(), f.ID, year)
			if err != nil {
				return err
			}
			return c.print(cmd, exp)
		},
	}
}

func (c *cli) anomaliesCmd() *cobra.Command {
	var (
		facility string
		sector   string
		z        float64
		source   string
	)
	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "Flag outlier years in a facility or sector series",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if z < 0 || z > 100 {
				return fmt.Errorf("%w: z must be between 0 and 100", core.ErrInvalidArgument)
			}
			src := core.Source(source)

			var (
				report *core.AnomalyReport
				err    error
			)
			if sector != "" {
				report, err = c.app.Service.SectorAnomalies(cmd.Context(), sector, z, src)
			} else {
				f, ferr := c.resolveFacility(cmd.Context(), facility)
				if ferr != nil {
					return ferr
				}
				report, err = c.app.Service.FacilityAnomalies(cmd.Context(), f.ID, z, src)
			}
			if err != nil {
				return err
			}
			return c.print(cmd, report)
		},
	}
	cmd.Flags().StringVar(&facility, "facility", "", "facility ID or name")
	cmd.Flags().StringVar(&sector, "sector", "", "sector slug or label")
	cmd.Flags().Float64Var(&z, "z", core.DefaultAnomalyZ, "robust z-score threshold")
	cmd.Flags().StringVar(&source, "source", string(core.SourceObserved), "series source: observed, reported or projected")
	cmd.MarkFlagsMutuallyExclusive("facility", "sector")
	cmd.MarkFlagsOneRequired("facility", "sector")
	return cmd
}

func (c *cli) facilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facility",
		Short: "Manage facilities",
	}

	var sector, location string
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Register a facility so operator reports can attach to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := c.app.Service.RegisterFacility(cmd.Context(), core.Facility{
				Name:     args[0],
				SectorID: sector,
				Location: location,
			})
			if err != nil {
				return err
			}
			return c.print(cmd, f)
		},
	}
	add.Flags().StringVar(&sector, "sector", "", "sector slug or label")
	add.Flags().StringVar(&location, "location", "", "free-form location")

	show := &cobra.Command{
		Use:   "show FACILITY",
		Short: "Show a facility by ID or name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := c.resolveFacility(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(cmd, f)
		},
	}

	cmd.AddCommand(add, show)
	return cmd
}

func (c *cli) adaptersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "adapters",
		Short: "List registered adapters in detection order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.print(cmd, c.app.Service.ListAdapters())
		},
	}
}
