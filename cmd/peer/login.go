package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	flagNickname string
	flagPassword string
	flagRegister bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in (or register) and print an access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/auth/login"
		if flagRegister {
			path = "/api/auth/register"
		}
		var out struct {
			Token string `json:"token"`
		}
		creds := map[string]string{"nickname": flagNickname, "password": flagPassword}
		if err := newAPI(viper.GetString("server"), "").do(cmd.Context(), http.MethodPost, path, creds, &out); err != nil {
			return err
		}
		fmt.Println(out.Token)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&flagNickname, "nickname", "", "nickname")
	loginCmd.Flags().StringVar(&flagPassword, "password", "", "password")
	loginCmd.Flags().BoolVar(&flagRegister, "register", false, "create the account first")
	_ = loginCmd.MarkFlagRequired("nickname")
	_ = loginCmd.MarkFlagRequired("password")
}
