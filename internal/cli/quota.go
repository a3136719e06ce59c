package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewQuotaCmd создаёт команду просмотра квоты.
func NewQuotaCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show your daily quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			quota, err := client.GetQuota()
			if err != nil {
				return err
			}

			headers := []string{"USER_ID", "PERIOD", "USED", "QUOTA", "REMAINING"}
			rows := [][]string{{
				quota.UserID,
				quota.PeriodKey,
				strconv.Itoa(quota.Used),
				strconv.Itoa(quota.Quota),
				strconv.Itoa(quota.Remaining),
			}}

			out.Print(headers, rows, quota)
			return nil
		},
	}
}
