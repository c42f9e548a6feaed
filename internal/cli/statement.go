package cli

import (
	"fmt"
	"os"

	"github.com/flaboy/aira-splitpay/pkg/statement"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
)

var statementOut string

var statementCmd = &cobra.Command{
	Use:   "statement <booking-id>",
	Short: "Print or export the payment history of a booking",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bookingID, err := cast.ToUintE(args[0])
		if err != nil || bookingID == 0 {
			return fmt.Errorf("invalid booking id %q", args[0])
		}
		app, err := startApp(cmd.Context())
		if err != nil {
			return err
		}

		if statementOut != "" {
			f, err := os.Create(statementOut)
			if err != nil {
				return err
			}
			defer f.Close()
			return app.Statement.ExportXLSX(cmd.Context(), bookingID, f)
		}

		list, err := app.Statement.List(cmd.Context(), bookingID, 0)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, e := range list {
			fmt.Fprintf(w, "%s  %-8s  %-40s  %-20s  %10s\n",
				e.Date.Format("2006-01-02 15:04"), e.Type, e.Concept, e.Payer, e.Amount.StringFixed(2))
		}
		fmt.Fprintf(w, "%s\n", statement.Total(list).StringFixed(2))
		return nil
	},
}

func init() {
	statementCmd.Flags().StringVarP(&statementOut, "out", "o", "", "Write an .xlsx file instead of printing")
}
