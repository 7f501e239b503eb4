package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shelfwatch/shelfwatch/internal/utils"
	"github.com/shelfwatch/shelfwatch/pkg/retailers"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// storesCmd represents the stores command
var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "Discover stores near the configured ZIP codes and print them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		zips := viper.GetStringSlice("zip_codes")
		if zip, _ := cmd.Flags().GetString("zip"); zip != "" {
			zips = []string{zip}
		}
		if len(zips) == 0 {
			utils.Log.Info("No ZIP codes to search. Set zip_codes in ~/.shelfwatch.yaml or pass --zip")
			return nil
		}
		radius := viper.GetInt("radius_miles")
		if r, _ := cmd.Flags().GetInt("radius"); r > 0 {
			radius = r
		}

		proxy, _ := cmd.Flags().GetString("proxy")
		_, rs := buildRetailers(proxy)
		if len(rs) == 0 {
			utils.Log.Info("No retailers enabled. Check retailers.* in ~/.shelfwatch.yaml")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "RETAILER\tID\tNAME\tCITY\tSTATE\tDISTANCE\t")
		total := 0
		for _, zip := range zips {
			stores := retailers.FindAllStores(cmd.Context(), rs, zip, radius)
			for _, s := range stores {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.1fmi\t\n",
					s.Retailer, s.ID, s.Name, s.City, s.State, s.DistanceMiles)
			}
			total += len(stores)
		}
		w.Flush()

		if total == 0 {
			fmt.Println("No stores found.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(storesCmd)
	storesCmd.Flags().String("zip", "", "Search a single ZIP code instead of the configured list")
	storesCmd.Flags().Int("radius", 0, "Search radius in miles (default from config)")
}
