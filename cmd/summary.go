package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shelfwatch/shelfwatch/pkg/storage"
	"github.com/shelfwatch/shelfwatch/pkg/tracker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// summaryCmd represents the summary command
var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the tracked-store digest and recent finds.",
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, err := tracker.New(viper.GetString("data_dir"))
		if err != nil {
			return err
		}
		fmt.Print(tr.Summary())

		dbPath := viper.GetString("history_db")
		if dbPath == "" {
			return nil
		}
		db, err := storage.Open(dbPath)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("history database not found: %s", dbPath)
			}
			return err
		}
		defer db.Close()

		stats, err := db.Stats(context.Background())
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			return nil
		}

		fmt.Println("\nHistory:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "RETAILER\tSTORES\tFINDS\t")
		var totalStores, totalFinds int
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t\n", s.Retailer, s.StoreCount, s.FindCount)
			totalStores += s.StoreCount
			totalFinds += s.FindCount
		}
		fmt.Fprintln(w, " \t \t \t")
		fmt.Fprintf(w, "TOTAL\t%d\t%d\t\n", totalStores, totalFinds)
		w.Flush()

		return nil
	},
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}
