package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/contextai/internal/store"
)

func init() {
	customerCmd := &cobra.Command{
		Use:   "customer",
		Short: "Manage customers",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Create a customer",
		Run:   runCustomerAdd,
	}
	add.Flags().String("id", "", "Customer id (default: generated)")
	add.Flags().String("name", "", "Display name")
	add.Flags().String("email", "", "Email address")
	add.Flags().String("external-id", "", "Id in an outside system")
	add.Flags().StringP("tags", "t", "", "Comma-separated tags")

	greet := &cobra.Command{
		Use:   "greet [customer-id]",
		Short: "Brief the agent on a returning customer",
		Args:  cobra.ExactArgs(1),
		Run:   runCustomerGreet,
	}

	customerCmd.AddCommand(add, greet)
	RootCmd.AddCommand(customerCmd)
}

func runCustomerAdd(cmd *cobra.Command, args []string) {
	id, _ := cmd.Flags().GetString("id")
	name, _ := cmd.Flags().GetString("name")
	email, _ := cmd.Flags().GetString("email")
	externalID, _ := cmd.Flags().GetString("external-id")
	tagsStr, _ := cmd.Flags().GetString("tags")

	var tags []string
	if tagsStr != "" {
		for _, t := range strings.Split(tagsStr, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				tags = append(tags, t)
			}
		}
	}

	ctx := cmd.Context()
	a := mustOpenApp(ctx)
	defer a.Close()

	p, err := a.store.CreateCustomer(ctx, store.CreateCustomerParams{
		ID:         id,
		ExternalID: externalID,
		Name:       name,
		Email:      email,
		Tags:       tags,
	})
	if err != nil {
		exitErr("customer add", err)
	}
	printResult(p, nil)
}

func runCustomerGreet(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	a := mustOpenApp(ctx)
	defer a.Close()

	insight, err := a.orchestrator(a.queue, nil).ReturningCustomer(ctx, args[0])
	if err != nil {
		exitErr("greet", err)
	}
	printResult(insight, func() string { return insight.Summary })
}
