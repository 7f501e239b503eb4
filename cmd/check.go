package cmd

import (
	"github.com/shelfwatch/shelfwatch/internal/utils"
	"github.com/shelfwatch/shelfwatch/pkg/monitor"
	"github.com/shelfwatch/shelfwatch/pkg/storage"
	"github.com/shelfwatch/shelfwatch/pkg/tracker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// checkCmd represents the check command. It runs exactly one cycle and exits,
// for cron-style usage and quick manual pokes.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a single check cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := monitorConfig()
		if len(cfg.ZipCodes) == 0 {
			utils.Log.Info("No ZIP codes to monitor. Set zip_codes in ~/.shelfwatch.yaml")
			return nil
		}

		proxy, _ := cmd.Flags().GetString("proxy")
		mgr, rs := buildRetailers(proxy)
		if len(rs) == 0 {
			utils.Log.Info("No retailers enabled. Check retailers.* in ~/.shelfwatch.yaml")
			return nil
		}

		trOpts := []tracker.Option{}
		if dbPath := viper.GetString("history_db"); dbPath != "" {
			db, err := storage.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()
			trOpts = append(trOpts, tracker.WithHistory(db))
		}
		tr, err := tracker.New(viper.GetString("data_dir"), trOpts...)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		for _, r := range rs {
			mgr.InitializeSession(ctx, "www."+r.Name()+".com")
		}

		mon := monitor.New(cfg, rs, tr, buildNotifiers())
		mon.RunCycle(ctx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
