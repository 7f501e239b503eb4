package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/shelfwatch/shelfwatch/internal/utils"
	"github.com/shelfwatch/shelfwatch/pkg/monitor"
	"github.com/shelfwatch/shelfwatch/pkg/notify"
	"github.com/shelfwatch/shelfwatch/pkg/retail"
	"github.com/shelfwatch/shelfwatch/pkg/retailers"
	"github.com/shelfwatch/shelfwatch/pkg/retailers/bestbuy"
	"github.com/shelfwatch/shelfwatch/pkg/retailers/target"
	"github.com/shelfwatch/shelfwatch/pkg/session"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `     _          _  __               _       _
 ___| |__   ___| |/ _|_      ____ _| |_ ___| |__
/ __| '_ \ / _ \ | |_\ \ /\ / / _` + "`" + ` | __/ __| '_ \
\__ \ | | |  __/ |  _|\ V  V / (_| | || (__| | | |
|___/_| |_|\___|_|_|   \_/\_/ \__,_|\__\___|_| |_|

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "shelfwatch",
	Short: "A retail in-store stock monitor.",
	Long: LOGO + `shelfwatch discovers stores near your ZIP codes and keeps checking their
shelves for the products you care about, alerting you when stock shows up.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.shelfwatch.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".shelfwatch")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.shelfwatch.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	viper.SetDefault("zip_codes", []string{})
	viper.SetDefault("radius_miles", 25)
	viper.SetDefault("check_interval_minutes", 30)
	viper.SetDefault("data_dir", "shelfwatch-data")
	viper.SetDefault("history_db", "")
	viper.SetDefault("keywords", []string{})
	viper.SetDefault("retailers.bestbuy.enabled", true)
	viper.SetDefault("retailers.bestbuy.search_terms", []string{})
	viper.SetDefault("retailers.target.enabled", true)
	viper.SetDefault("retailers.target.search_terms", []string{})
	viper.SetDefault("notifications.console", true)
	viper.SetDefault("notifications.email", false)
	viper.SetDefault("notifications.webhook", false)

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}

// monitorConfig assembles the monitor configuration from the loaded config.
func monitorConfig() monitor.Config {
	keywords := viper.GetStringSlice("keywords")
	if len(keywords) == 0 {
		keywords = retail.DefaultKeywords
	}
	terms := make(map[string][]string)
	for _, name := range []string{"bestbuy", "target"} {
		if t := viper.GetStringSlice("retailers." + name + ".search_terms"); len(t) > 0 {
			terms[name] = t
		}
	}
	return monitor.Config{
		ZipCodes:      viper.GetStringSlice("zip_codes"),
		RadiusMiles:   viper.GetInt("radius_miles"),
		CheckInterval: time.Duration(viper.GetInt("check_interval_minutes")) * time.Minute,
		SearchTerms:   terms,
		Keywords:      keywords,
	}
}

// buildRetailers creates the enabled retail monitors sharing one session manager.
func buildRetailers(proxy string) (*session.Manager, []retailers.Retailer) {
	mgr := session.NewManager(session.Config{Proxy: proxy})
	keywords := viper.GetStringSlice("keywords")

	var rs []retailers.Retailer
	if viper.GetBool("retailers.bestbuy.enabled") {
		rs = append(rs, bestbuy.New(mgr, keywords))
	}
	if viper.GetBool("retailers.target.enabled") {
		rs = append(rs, target.New(mgr, keywords))
	}
	return mgr, rs
}

func buildNotifiers() []notify.Notifier {
	return notify.ForConfig(
		viper.GetBool("notifications.console"),
		viper.GetBool("notifications.email"),
		viper.GetBool("notifications.webhook"),
	)
}
