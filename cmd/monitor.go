package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/shelfwatch/shelfwatch/internal/utils"
	"github.com/shelfwatch/shelfwatch/pkg/monitor"
	"github.com/shelfwatch/shelfwatch/pkg/storage"
	"github.com/shelfwatch/shelfwatch/pkg/tracker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// monitorCmd implements: shelfwatch monitor
// Runs the check loop until interrupted. Editing the config file restarts
// the loop with the new settings.
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the continuous stock monitor",
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
		if err := mon.Start(ctx); err != nil {
			return err
		}

		viper.OnConfigChange(func(e fsnotify.Event) {
			fresh := monitorConfig()
			if configsEqual(cfg, fresh) {
				return
			}
			utils.Log.Infof("config change detected in %s, restarting monitor", e.Name)
			cfg = fresh
			if err := mon.Restart(ctx, fresh); err != nil {
				utils.Log.Errorf("restart after config change failed: %v", err)
			}
		})
		viper.WatchConfig()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		utils.Log.Info("shutdown signal received")
		return mon.Stop()
	},
}

// configsEqual compares the fields a restart would care about.
func configsEqual(a, b monitor.Config) bool {
	return utils.AreSlicesEqual(a.ZipCodes, b.ZipCodes) &&
		utils.AreSlicesEqual(a.Keywords, b.Keywords) &&
		a.RadiusMiles == b.RadiusMiles &&
		a.CheckInterval == b.CheckInterval &&
		searchTermsEqual(a.SearchTerms, b.SearchTerms)
}

func searchTermsEqual(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if !utils.AreSlicesEqual(v, b[k]) {
			return false
		}
	}
	return true
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
