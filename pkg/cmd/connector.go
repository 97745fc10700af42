package cmd

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-trusted-relay/pkg/app"
	"github.com/jeremyhahn/go-trusted-relay/pkg/cmd/common"
	"github.com/jeremyhahn/go-trusted-relay/pkg/request"
	"github.com/spf13/cobra"
)

var (
	ConnectorName string
	SendType      string
	SendAttrs     []string
	SendTimeout   time.Duration
)

func init() {

	connectorCmd.PersistentFlags().StringVar(&ConnectorName, "connector", "", "The connector to use. Optional when a single connector is configured.")

	sendCmd.Flags().StringVar(&SendType, "type", request.TypeEnrollment.String(), "The request type")
	sendCmd.Flags().StringSliceVar(&SendAttrs, "attr", nil, "Request attribute as name=value. May be repeated.")
	sendCmd.Flags().DurationVar(&SendTimeout, "timeout", 30*time.Second, "Maximum time to wait for a pooled connection")

	connectorCmd.AddCommand(runCmd)
	connectorCmd.AddCommand(sendCmd)
	connectorCmd.AddCommand(pendingCmd)

	rootCmd.AddCommand(connectorCmd)
}

var connectorCmd = &cobra.Command{
	Use:   "connector",
	Short: "Remote authority connectors",
	Long: `Connectors deliver requests to remote certificate authorities and
re-deliver requests the remote authority has not yet completed.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the connectors",
	Long: `Starts every configured connector and periodically re-delivers
requests awaiting a remote authority until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {

		if err := initApp(); err != nil {
			return err
		}
		if err := App.InitConnectors(); err != nil {
			App.Logger.Error(err)
			return err
		}
		common.PrintWelcome(cmd.OutOrStdout(), app.Name, app.Version)

		metrics := App.NewMetricsServer()
		if metrics != nil {
			if err := metrics.Listen(); err != nil {
				App.Logger.Error(err)
				return err
			}
			go func() {
				App.Logger.MaybeError(metrics.Run())
			}()
		}

		App.Start()
		for _, c := range App.Connectors {
			common.PrintSuccess(cmd.OutOrStdout(), "connector %s: %s", c.Name(),
				strings.Join(c.Authority().Hosts, " "))
		}

		// Stop the connectors on CTRL+C or termination
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		signal.Stop(sigChan)

		if metrics != nil {
			metrics.Shutdown()
		}
		App.Logger.Info("Shutting down")
		App.Stop()
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a new request",
	Long: `Creates a new request from the provided attributes and sends it to
the remote authority. A request the remote authority does not complete is
recorded as awaiting the remote authority and is re-delivered by
"connector run".`,
	RunE: func(cmd *cobra.Command, args []string) error {

		typ, err := request.ParseType(SendType)
		if err != nil {
			return err
		}
		attrs, err := parseAttributes(SendAttrs)
		if err != nil {
			return err
		}

		if err := initApp(); err != nil {
			return err
		}
		defer App.Stop()
		if err := App.InitConnectors(); err != nil {
			return err
		}
		c, err := App.Connector(ConnectorName)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), SendTimeout)
		defer cancel()

		r, err := App.Store.CreateRequest(ctx, typ)
		if err != nil {
			return err
		}
		defer App.Store.ReleaseRequest(context.Background(), r)
		for name, value := range attrs {
			r.SetAttribute(name, value)
		}
		if err := App.Store.UpdateRequest(ctx, r); err != nil {
			return err
		}

		delivered, err := c.Send(ctx, r)
		if err != nil {
			common.PrintError(cmd.ErrOrStderr(), err)
			return err
		}
		out := cmd.OutOrStdout()
		if !delivered {
			common.PrintWarning(out, "request %s: %s", r.ID(), r.Status())
			return nil
		}
		common.PrintSuccess(out, "request %s: %s", r.ID(), r.Status())
		replied := r.Attributes()
		for _, name := range slices.Sorted(maps.Keys(replied)) {
			fmt.Fprintf(out, "  %s: %v\n", name, replied[name])
		}
		return nil
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List requests awaiting a remote authority",
	Long: `Lists the stored requests that are awaiting completion by a remote
authority. These requests are re-delivered by "connector run".`,
	RunE: func(cmd *cobra.Command, args []string) error {

		if err := initApp(); err != nil {
			return err
		}
		defer App.Stop()

		pending, err := App.Store.ListRequestsByStatus(context.Background(), request.StatusSvcPending)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(pending) == 0 {
			common.PrintSuccess(out, "no pending requests")
			return nil
		}
		for _, r := range pending {
			common.PrintWarning(out, "%s\t%s\t%s", r.ID(), r.Type(), r.Modified().Format(time.RFC3339))
		}
		return nil
	},
}

// Parses name=value pairs into string attributes
func parseAttributes(pairs []string) (request.Attributes, error) {
	attrs := make(request.Attributes, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid attribute %q, expected name=value", pair)
		}
		attrs[name] = request.String(value)
	}
	return attrs, nil
}
