package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage contacts",
}

var contactsRequestCmd = &cobra.Command{
	Use:   "request <agent>",
	Short: "Request a contact with another agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newClient()
		if err != nil {
			return err
		}
		if err := client.RequestContact(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("requested contact with %s\n", args[0])
		return nil
	},
}

var contactsAcceptCmd = &cobra.Command{
	Use:   "accept <agent>",
	Short: "Accept a pending contact request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newClient()
		if err != nil {
			return err
		}
		if err := client.AcceptContact(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("accepted contact with %s\n", args[0])
		return nil
	},
}

var contactsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Pull the relay's contact list into the local cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newClient()
		if err != nil {
			return err
		}
		if err := client.RefreshContacts(context.Background()); err != nil {
			return err
		}
		fmt.Println("contacts refreshed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(contactsCmd)
	contactsCmd.AddCommand(contactsRequestCmd, contactsAcceptCmd, contactsRefreshCmd)
}
