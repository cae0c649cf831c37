package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "peer",
	Short: "Join a sharedview room from the terminal",
	Long: `peer connects to a sharedview server as a room member. One member shares
a display (an IVF file stands in for screen capture), the others watch.
Whoever holds control can send input to the sharer.

Examples:
  peer login --nickname alice --password secret123
  peer share --room <id> --source demo.ivf
  peer watch --room <id>`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if viper.GetBool("verbose") {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
	},
}

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	pf := rootCmd.PersistentFlags()
	pf.String("server", "http://localhost:8080", "server base URL")
	pf.String("token", "", "access token (see peer login)")
	pf.StringSlice("stun", []string{"stun:stun.l.google.com:19302"}, "STUN server URLs")
	pf.String("turn", "", "TURN server URL")
	pf.String("turn-user", "", "TURN username")
	pf.String("turn-pass", "", "TURN password")
	pf.Bool("relay", false, "force TURN relay")
	pf.Duration("negotiation-timeout", 0, "give up on a peer link after this long (0 = default)")
	pf.BoolP("verbose", "v", false, "debug logging")

	viper.SetEnvPrefix("SV")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(pf)

	rootCmd.AddCommand(loginCmd, shareCmd, watchCmd)
}

func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("peer failed")
		cancel()
		os.Exit(1)
	}
}
