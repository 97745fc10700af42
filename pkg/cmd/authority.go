package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/jeremyhahn/go-trusted-relay/pkg/app"
	"github.com/jeremyhahn/go-trusted-relay/pkg/authority"
	"github.com/jeremyhahn/go-trusted-relay/pkg/cmd/common"
	"github.com/spf13/cobra"
)

func init() {
	authorityCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(authorityCmd)
}

var authorityCmd = &cobra.Command{
	Use:   "authority",
	Short: "Remote authority endpoint",
	Long: `The remote authority endpoint accepts requests relayed by connectors.
It is used to stage and test relay deployments.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the remote authority endpoint",
	Long: `Serves the configured operation URIs over TLS. Every request is
reported as pending for the configured number of deliveries before it is
completed. Prometheus metrics are served from /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {

		if err := initApp(); err != nil {
			return err
		}
		defer App.Stop()

		config := &App.Config.Authority
		uris, err := config.OperationURIs()
		if err != nil {
			App.Logger.Error(err)
			return err
		}
		tlsConfig, err := App.Credentials.ServerConfig(
			config.Nickname, config.CipherSuites, config.RequireClientCert)
		if err != nil {
			App.Logger.Error(err)
			return err
		}

		var authenticator authority.Authenticator
		if config.RequireClientCert || len(config.AllowedClients) > 0 {
			authenticator = authority.ClientCertAuthenticator(config.AllowedClients)
		}
		service, err := authority.NewService(&authority.Params{
			Logger:        App.Logger,
			ID:            config.ID,
			URIs:          uris,
			Processor:     authority.NewDeferredProcessor(config.Polls),
			Authenticator: authenticator,
		})
		if err != nil {
			App.Logger.Error(err)
			return err
		}

		webserver := authority.NewWebServer(App.Logger, config, tlsConfig, service, App.Registry)
		if err := webserver.Listen(); err != nil {
			App.Logger.Error(err)
			return err
		}
		common.PrintWelcome(cmd.OutOrStdout(), app.Name, app.Version)
		common.PrintSuccess(cmd.OutOrStdout(), "authority %s: %s", config.ID, webserver.Addr())

		go func() {
			App.Logger.MaybeError(webserver.Run())
		}()

		// Stop serving on CTRL+C or termination
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		signal.Stop(sigChan)

		webserver.Shutdown()
		App.Logger.Info("Graceful shutdown complete")
		return nil
	},
}
