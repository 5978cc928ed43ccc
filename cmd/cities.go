package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/parkscope/greencover/internal/registry"
)

var citiesCmd = &cobra.Command{
	Use:   "cities",
	Short: "Manage the city registry",
}

var citiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered cities",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		cities, err := env.Registry.ListCities(ctx)
		if err != nil {
			return eris.Wrap(err, "cities list")
		}
		if len(cities) == 0 {
			fmt.Fprintln(os.Stderr, "No cities registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCOUNTRY\tADDED")
		for _, c := range cities {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.ID, c.Name, c.Country, c.CreatedAt.Format("2006-01-02"))
		}
		return w.Flush()
	},
}

var citiesAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a city",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		country, _ := cmd.Flags().GetString("country")
		city, err := env.Registry.UpsertCity(ctx, args[0], country)
		if err != nil {
			return eris.Wrap(err, "cities add")
		}
		fmt.Printf("Registered %s (id %d).\n", city.Name, city.ID)
		return nil
	},
}

var citiesSeedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Register cities from a YAML seed file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		seed, err := registry.LoadSeed(args[0])
		if err != nil {
			return err
		}

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Registry.Seed(ctx, seed)
		if err != nil {
			return eris.Wrap(err, "cities seed")
		}
		fmt.Printf("Seeded %d cities.\n", n)
		return nil
	},
}

var recordsYear int

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List stored coverage records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		records, err := env.Registry.ListRecords(ctx, recordsYear)
		if err != nil {
			return eris.Wrap(err, "records list")
		}
		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CITY\tYEAR\tCOVERAGE\tGREEN_KM2\tUPDATED")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%d\t%.2f%%\t%.3f\t%s\n",
				r.CityName, r.Year, r.Result.CoveragePercentage, r.Result.GreenAreaKm2,
				r.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	citiesAddCmd.Flags().String("country", "", "country the city belongs to")
	recordsCmd.Flags().IntVar(&recordsYear, "year", 0, "filter by scene year (0 = all)")
	recordsCmd.Flags().Bool("json", false, "emit records as JSON")

	citiesCmd.AddCommand(citiesListCmd)
	citiesCmd.AddCommand(citiesAddCmd)
	citiesCmd.AddCommand(citiesSeedCmd)
	rootCmd.AddCommand(citiesCmd)
	rootCmd.AddCommand(recordsCmd)
}
