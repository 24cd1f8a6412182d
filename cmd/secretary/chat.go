package main

import (
	"os"

	"github.com/spf13/cobra"

	"secretary/internal/channels/console"
)

var chatUser string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the bot in the terminal",
	Long: `Drive the bot from a local terminal session instead of a chat platform.
Messages go through the same dispatcher, store and language model as
webhook traffic, under the user id "console:<user>".

Key bindings:
  Enter   Send message
  Ctrl+C  Quit`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, dd, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, databasePath(cfg, dd), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		adapter := console.New(chatUser)
		a.manager.Register(adapter)

		return console.Run(cmd.Context(), console.ModelConfig{
			Adapter:  adapter,
			Handler:  a.dispatcher,
			Title:    "secretary · " + adapter.UserID(),
			Location: cfg.GetLocation(),
		})
	},
}

func init() {
	defaultUser := os.Getenv("USER")
	if defaultUser == "" {
		defaultUser = "local"
	}
	chatCmd.Flags().StringVar(&chatUser, "user", defaultUser, "user name for the console session")
}
