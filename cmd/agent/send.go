package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <recipient> <message>",
	Short: "Send a direct message to a cached contact",
	Args:  cobra.ExactArgs(2),
	RunE:  runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	env, err := client.Send(context.Background(), args[0], map[string]string{"text": args[1]})
	if err != nil {
		return err
	}
	fmt.Printf("sent message %s to %s\n", env.MessageID, args[0])
	return nil
}
