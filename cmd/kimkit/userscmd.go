package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage KIMkit users and editors",
}

var usersWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the acting username, UUID, and roles",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, _, err := openRepo()
		if err != nil {
			return err
		}
		gate := repo.Gate()
		fmt.Printf("username: %s\n", gate.Whoami())
		if id, err := gate.CurrentUserUUID(); err == nil {
			fmt.Printf("uuid: %s\n", id)
		} else {
			fmt.Println("uuid: (not registered)")
		}
		editor, err := gate.IsEditor()
		if err != nil {
			return err
		}
		fmt.Printf("editor: %v\n", editor)
		fmt.Printf("administrator: %v\n", gate.IsAdministrator())
		return nil
	},
}

var usersAddSelfCmd = &cobra.Command{
	Use:   "add-self <personal-name>",
	Short: "Register yourself as a KIMkit user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, _, err := openRepo()
		if err != nil {
			return err
		}
		id, err := repo.Gate().AddSelf(args[0])
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var usersAddPersonCmd = &cobra.Command{
	Use:   "add-person <personal-name>",
	Short: "Allocate a UUID for someone without an account here",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, _, err := openRepo()
		if err != nil {
			return err
		}
		id, err := repo.Gate().AddPerson(args[0])
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var usersAddUsernameCmd = &cobra.Command{
	Use:   "add-username <uuid>",
	Short: "Attach your OS username to an existing user record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, _, err := openRepo()
		if err != nil {
			return err
		}
		return repo.Gate().AddOwnUsername(args[0])
	},
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <uuid>",
	Short: "Remove a user record (Editors only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, _, err := openRepo()
		if err != nil {
			return err
		}
		return repo.Gate().DeleteUser(args[0], runAsEditor)
	},
}

var usersAddEditorCmd = &cobra.Command{
	Use:   "add-editor <username>",
	Short: "Grant the Editor role to an OS username (Administrator only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, _, err := openRepo()
		if err != nil {
			return err
		}
		return repo.Gate().AddEditor(args[0], runAsAdministrator)
	},
}

var usersDropAllCmd = &cobra.Command{
	Use:   "drop-all",
	Short: "Delete every user record (Administrator only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, _, err := openRepo()
		if err != nil {
			return err
		}
		return repo.Gate().DropUserStore(runAsAdministrator)
	},
}

func init() {
	usersAddEditorCmd.Flags().BoolVar(&runAsAdministrator, "run-as-administrator", false, "Confirm acting with Administrator privileges")
	usersDropAllCmd.Flags().BoolVar(&runAsAdministrator, "run-as-administrator", false, "Confirm acting with Administrator privileges")

	usersCmd.AddCommand(usersWhoamiCmd)
	usersCmd.AddCommand(usersAddSelfCmd)
	usersCmd.AddCommand(usersAddPersonCmd)
	usersCmd.AddCommand(usersAddUsernameCmd)
	usersCmd.AddCommand(usersDeleteCmd)
	usersCmd.AddCommand(usersAddEditorCmd)
	usersCmd.AddCommand(usersDropAllCmd)
}
