package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"sipharness/internal/endpoint"

	"github.com/spf13/cobra"
)

func newEndpointCmd() *cobra.Command {
	opts := endpoint.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "endpoint [dest-uri]",
		Short: "Run the built-in stub SIP user agent",
		Long: `Run a minimal SIP user agent that prints pjsua-style console lines.

Scenarios refer to it with "executable: @endpoint". Without a destination it
waits for calls; with one it calls the destination right away. Commands are
read from stdin: "h" hangs up every call, "q" quits.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.Destination = args[0]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := endpoint.New(opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return e.Run(ctx, os.Stdin)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", opts.Listen, "Local UDP address; port 0 picks a free port")
	cmd.Flags().BoolVar(&opts.UseICE, "use-ice", false, "Offer ICE candidates in SDP")
	cmd.Flags().BoolVar(&opts.ICENoRTCP, "ice-no-rtcp", false, "Offer a single ICE component (RTP only)")
	cmd.Flags().IntVar(&opts.MaxCalls, "max-calls", opts.MaxCalls, "Maximum concurrent calls; further INVITEs are rejected with 486")
	cmd.Flags().BoolVar(&opts.NullAudio, "null-audio", false, "Accepted for pjsua compatibility")
	cmd.Flags().DurationVar(&opts.InviteTimeout, "invite-timeout", opts.InviteTimeout, "Time to wait for a final response to an INVITE")
	return cmd
}

