package main

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/loom/pkg/conversation"
)

func newTreeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Inspect and edit the branch structure of saved conversations",
	}
	cmd.AddCommand(newTreeListCommand())
	cmd.AddCommand(newTreeShowCommand())
	cmd.AddCommand(newTreeBranchCommand())
	cmd.AddCommand(newTreeSwitchCommand())
	cmd.AddCommand(newTreeDeleteCommand())
	return cmd
}

func loadManager(id string) (*conversation.ManagerImpl, error) {
	store := conversation.NewFileStore(defaultStoreDir())
	record, err := store.Load(id)
	if err != nil {
		return nil, err
	}
	return conversation.NewManager(
		conversation.WithRecord(record),
		conversation.WithStore(store)), nil
}

func newTreeListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := conversation.NewFileStore(defaultStoreDir())
			ids, err := store.List()
			if err != nil {
				return err
			}
			for _, id := range ids {
				record, err := store.Load(id)
				if err != nil {
					fmt.Printf("%s  (unreadable: %v)\n", id, err)
					continue
				}
				fmt.Printf("%s  %d messages  %s\n", id, len(record.Messages), record.Title)
			}
			return nil
		},
	}
}

func newTreeShowCommand() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "show [conversation-id]",
		Short: "Print the node structure and the active projection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := loadManager(args[0])
			if err != nil {
				return err
			}
			record := manager.Snapshot()
			tree := record.Tree()

			fmt.Println("nodes:")
			for _, node := range record.Nodes {
				fmt.Printf("  %s (parent: %s)\n", node.NodeID, orDash(node.ParentNodeID))
				for i, v := range node.Variants {
					marker := " "
					if containsID(record.CurrentVariantPath, v.VariantID) {
						marker = "*"
					}
					fmt.Printf("   %s [%d] %s: %q (%d responses)\n",
						marker, i, v.VariantID, truncate(v.UserMessage.Text, 50), len(v.Responses))
				}
			}

			fmt.Println("\nactive projection:")
			for _, msg := range tree.Projection() {
				line := msg.View()
				if !full {
					line = truncate(line, 80)
				}
				fmt.Printf("  %s %s\n", msg.ID, line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Print full message text")
	return cmd
}

func newTreeBranchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "branch [conversation-id] [node-or-message-id] [text]",
		Short: "Add an alternative user message at a node and make it active",
		Long: "Adds a new variant and switches to it. The second argument is a node id, " +
			"or the id of a user message on the active path as printed by 'tree show'.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := loadManager(args[0])
			if err != nil {
				return err
			}
			nodeID := args[1]
			if node, ok := manager.Snapshot().Tree().FindNodeByUserMessage(nodeID); ok {
				nodeID = node.NodeID
			}
			variantID, err := manager.CreateBranch(nodeID, conversation.NewMessage(conversation.RoleUser, args[2]))
			if err != nil {
				return err
			}
			fmt.Printf("created variant %s\n", variantID)
			return nil
		},
	}
}

func newTreeSwitchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "switch [conversation-id] [node-id] [variant-index]",
		Short: "Make another variant of a node active",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := loadManager(args[0])
			if err != nil {
				return err
			}
			index, err := strconv.Atoi(args[2])
			if err != nil {
				return errors.Errorf("invalid variant index: %s", args[2])
			}
			if err := manager.SwitchVariant(args[1], index); err != nil {
				return err
			}
			fmt.Println("switched")
			return nil
		},
	}
}

func newTreeDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [conversation-id] [message-id]",
		Short: "Delete a message from the active path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := loadManager(args[0])
			if err != nil {
				return err
			}
			if err := manager.DeleteMessage(args[1]); err != nil {
				var branchPoint *conversation.CannotDeleteBranchPointError
				if errors.As(err, &branchPoint) {
					fmt.Printf("cannot delete: %s\n", branchPoint.Reason)
					return nil
				}
				return err
			}
			fmt.Println("deleted")
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
