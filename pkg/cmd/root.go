package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/jeremyhahn/go-trusted-relay/pkg/app"
	"github.com/jeremyhahn/go-trusted-relay/pkg/cmd/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	App        *app.App
	InitParams *app.AppInitParams
)

var rootCmd = &cobra.Command{
	Use:   app.Name,
	Short: "Reliable request delivery between PKI authorities",
	Long: `The Trusted Relay forwards certificate requests from a registration
authority to one or more remote certificate authorities over mutually
authenticated TLS. Requests the remote authority has not yet resolved are
recorded and re-delivered until they complete.`,
	SilenceUsage:     true,
	TraverseChildren: true,
}

func init() {

	// Set provided initialization parameters for
	// commands package and program entry points
	InitParams = &app.AppInitParams{}

	wd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}

	platformDir := fmt.Sprintf("%s/%s", wd, "trusted-data")
	rootCmd.PersistentFlags().BoolVarP(&InitParams.Debug, "debug", "d", false, "Enable debug mode")
	rootCmd.PersistentFlags().StringVarP(&InitParams.PlatformDir, "platform-dir", "", platformDir, "Relay home directory where data is stored")
	rootCmd.PersistentFlags().StringVarP(&InitParams.ConfigDir, "config-dir", "", fmt.Sprintf("/etc/%s", app.Name), "Relay configuration file directory")
	rootCmd.PersistentFlags().StringVarP(&InitParams.LogDir, "log-dir", "", "", "Relay logs directory")
	rootCmd.PersistentFlags().StringVarP(&InitParams.Env, "env", "", app.ENV_DEV.String(), "The environment, used to select config.<env>.yaml")

	viper.BindPFlags(rootCmd.PersistentFlags())

	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}
}

// Loads the configuration and opens the relay stores. Prompts for
// encrypted private key passwords when running interactively.
func initApp() error {
	if InitParams.KeyPassword == nil {
		InitParams.KeyPassword = common.KeyPasswordPrompt()
	}
	a, err := app.NewApp().Init(InitParams)
	if err != nil {
		return err
	}
	App = a
	return nil
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
	return nil
}
