// ipsctl is a CLI for operating an IPS responder: managing the rule table,
// replaying alerts and watching the live event stream.
//
// Usage:
//
//	ipsctl rules list
//	ipsctl rules set 2100498 "GPL ATTACK_RESPONSE id check returned root" --action 4
//	ipsctl alert send --sid 2100498 --src 10.244.0.12
//	ipsctl logs
//	ipsctl labeled -o json
//	ipsctl policies -n shop
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/invisible-tech/ips-responder/internal/config"
	"github.com/invisible-tech/ips-responder/internal/version"
	"github.com/invisible-tech/ips-responder/pkg/client"
)

type globalOptions struct {
	endpoint string
	output   string
	timeout  time.Duration
	verbose  bool
}

func (o *globalOptions) client() *client.Client {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if o.verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return client.NewClient(client.Config{Endpoint: o.endpoint, Timeout: o.timeout}, log)
}

func newRootCmd(out io.Writer) *cobra.Command {
	defaults := config.DefaultCLIConfig()
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "ipsctl",
		Short: "Operate an IPS responder",
		Long: `ipsctl talks to an IPS responder over its HTTP API.

It manages the rule table that maps alert signature ids to isolation
actions, sends alerts for dispatch and follows the responder's live events.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case "table", "json", "yaml":
				return nil
			default:
				return fmt.Errorf("unknown output format %q (want table, json or yaml)", opts.output)
			}
		},
	}
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().StringVar(&opts.endpoint, "endpoint", defaults.Endpoint, "Responder base URL (env IPS_ENDPOINT)")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaults.Timeout, "Request timeout")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log API calls to stderr")

	rootCmd.AddCommand(rulesCmd(opts))
	rootCmd.AddCommand(alertCmd(opts))
	rootCmd.AddCommand(logsCmd(opts))
	rootCmd.AddCommand(labeledCmd(opts))
	rootCmd.AddCommand(policiesCmd(opts))
	return rootCmd
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
