package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var listenAddr string

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run this agent's inbox HTTP server and print incoming messages",
	RunE:  runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().StringVar(&listenAddr, "addr", ":9443", "address the inbox server binds to")
}

func runListen(cmd *cobra.Command, args []string) error {
	client, cfg, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	go func() {
		for msg := range client.Messages() {
			fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format("15:04:05"), msg.Sender, string(msg.Payload))
		}
	}()

	fmt.Printf("%s listening on %s\n", cfg.Name, listenAddr)
	return http.ListenAndServe(listenAddr, client.Inbox())
}
