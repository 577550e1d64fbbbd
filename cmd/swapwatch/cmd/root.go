package cmd

import (
	"fmt"
	"strings"
	"time"

	"skillswap-backend/internal/client"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// RootCmd is the swapwatch command
	RootCmd = &cobra.Command{
		Use:   "swapwatch",
		Short: "Follow the swap requests of a user from the terminal",
		Long: `swapwatch connects to the event channel of a SkillSwap server and prints
incoming swap requests as they arrive. While the channel is down it polls the
matches API instead.`,
		PersistentPreRunE: bindFlags,
		SilenceUsage:      true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	flags := RootCmd.PersistentFlags()
	flags.String("server", "http://localhost:8080", "base URL of the SkillSwap server")
	flags.String("user", "", "id of the user to follow")
	flags.String("token", "", "bearer token, when the server requires authentication")

	RootCmd.AddCommand(watchCmd)
	RootCmd.AddCommand(inboxCmd)

	watchCmd.Flags().Duration("reconnect-delay", 5*time.Second, "wait between connection attempts")
	watchCmd.Flags().Duration("poll-interval", 30*time.Second, "poll period while disconnected")
}

// initConfig reads .env files and SWAPWATCH_* variables
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("swapwatch")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	var bindErr error
	bind := func(f *pflag.Flag) {
		if err := viper.BindPFlag(f.Name, f); err != nil && bindErr == nil {
			bindErr = err
		}
	}
	cmd.Flags().VisitAll(bind)
	cmd.InheritedFlags().VisitAll(bind)
	return bindErr
}

func newClient() (*client.Client, string, error) {
	userID := viper.GetString("user")
	if userID == "" {
		return nil, "", fmt.Errorf("--user (or SWAPWATCH_USER) is required")
	}
	c, err := client.New(viper.GetString("server"), viper.GetString("token"))
	if err != nil {
		return nil, "", err
	}
	return c, userID, nil
}
