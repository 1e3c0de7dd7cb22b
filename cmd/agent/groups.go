package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage groups",
}

var groupsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a group owned by this agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newClient()
		if err != nil {
			return err
		}
		id, err := client.CreateGroup(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("created group %s (%s)\n", args[0], id)
		return nil
	},
}

var groupsInviteCmd = &cobra.Command{
	Use:   "invite <groupID> <agent>",
	Short: "Invite an agent into a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newClient()
		if err != nil {
			return err
		}
		if err := client.InviteToGroup(context.Background(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("invited %s to group %s\n", args[1], args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(groupsCmd)
	groupsCmd.AddCommand(groupsCreateCmd, groupsInviteCmd)
}
