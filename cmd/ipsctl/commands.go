package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func alertCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alert",
		Short: "Send alerts to the responder",
	}

	var (
		sid     int
		src     string
		message string
		file    string
	)
	send := &cobra.Command{
		Use:   "send",
		Short: "Dispatch one alert",
		Long: `Dispatch one alert, either built from flags or read from a file
(- for stdin) in any payload shape the responder accepts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := alertPayload(cmd, file, sid, src, message)
			if err != nil {
				return err
			}
			out, err := opts.client().SendAlert(cmd.Context(), payload)
			if err != nil {
				return err
			}
			if err := render(cmd.OutOrStdout(), opts.output, out); err != nil {
				return err
			}
			if out.Failed() {
				return fmt.Errorf("dispatch failed: %s", out.Kind)
			}
			return nil
		},
	}
	send.Flags().IntVar(&sid, "sid", 0, "Signature id")
	send.Flags().StringVar(&src, "src", "", "Source IPv4 address")
	send.Flags().StringVarP(&message, "message", "m", "", "Signature text")
	send.Flags().StringVarP(&file, "file", "f", "", "Read the raw payload from a file, - for stdin")
	cmd.AddCommand(send)
	return cmd
}

func alertPayload(cmd *cobra.Command, file string, sid int, src, message string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	if file != "" {
		return os.ReadFile(file)
	}
	if sid == 0 || src == "" {
		return nil, fmt.Errorf("either --file or both --sid and --src are required")
	}
	return json.Marshal(map[string]any{
		"date":           time.Now().Unix(),
		"signature_id":   sid,
		"src_ip":         src,
		"signature_text": message,
	})
}

func logsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "Follow the responder's live event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()
			return opts.client().StreamLogs(ctx, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}
}

func labeledCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "labeled",
		Short: "List workloads carrying an isolation label",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pods, err := opts.client().Labeled(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, pods)
		},
	}
}

func policiesCmd(opts *globalOptions) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Print the isolation NetworkPolicies for a namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := opts.client().Policies(cmd.Context(), namespace)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(manifest)
			return err
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "default", "Namespace to render policies for")
	return cmd
}
