package main

import (
	"github.com/dkeye/sharedview/internal/adapters/rtc"
	"github.com/spf13/cobra"
)

var (
	flagRoom   string
	flagSource string
)

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Share a display with the room",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), flagRoom, rtc.NewIVFDevice(flagSource))
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the room's shared display",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), flagRoom, nil)
	},
}

func init() {
	shareCmd.Flags().StringVar(&flagRoom, "room", "", "room id")
	shareCmd.Flags().StringVar(&flagSource, "source", "", "IVF file (VP8, VP9 or AV1) used as the captured display")
	_ = shareCmd.MarkFlagRequired("room")
	_ = shareCmd.MarkFlagRequired("source")

	watchCmd.Flags().StringVar(&flagRoom, "room", "", "room id")
	_ = watchCmd.MarkFlagRequired("room")
}
