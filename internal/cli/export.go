package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one customer as JSON",
		Long:  "Export a customer's profile, sessions, messages, preference history and insights.",
		Run:   runExport,
	}

	cmd.Flags().String("customer", "", "Customer id (required)")
	cmd.MarkFlagRequired("customer")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	customerID, _ := cmd.Flags().GetString("customer")

	ctx := cmd.Context()
	a := mustOpenApp(ctx)
	defer a.Close()

	out, err := a.store.ExportCustomer(ctx, customerID)
	if err != nil {
		exitErr("export", err)
	}
	printResult(out, nil)
}
