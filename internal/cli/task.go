package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для управления tasks.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}

	cmd.AddCommand(
		newTaskCreateCmd(clientFn, outputFn),
		newTaskListCmd(clientFn, outputFn),
		newTaskShowCmd(clientFn, outputFn),
		newTaskCancelCmd(clientFn, outputFn),
		newTaskProgressCmd(clientFn, outputFn),
	)

	return cmd
}

func newTaskCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "create SCENE",
		Short: "Create a task (consumes one quota unit)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.CreateTask(CreateTaskRequest{
				Scene: args[0],
				Input: input,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task %s created", task.ID))
			printTask(out, task)
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Scene input")

	return cmd
}

func newTaskListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int
	var offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tasks, err := client.ListTasks(ListTasksOpts{Limit: limit, Offset: offset})
			if err != nil {
				return err
			}

			headers := []string{"ID", "SCENE", "STATUS", "PERIOD", "CREATED"}
			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = []string{t.ID, t.Scene, t.Status, t.PeriodKey, t.CreatedAt}
			}

			out.Print(headers, rows, tasks)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show TASK_ID",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.GetTask(args[0])
			if err != nil {
				return err
			}

			printTask(out, task)
			return nil
		},
	}
}

func newTaskCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel TASK_ID",
		Short: "Cancel a pending or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.CancelTask(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task %s cancelled", task.ID))
			printTask(out, task)
			return nil
		},
	}
}

func newTaskProgressCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "progress TASK_ID",
		Short: "Show task progress history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			events, err := client.GetProgress(args[0])
			if err != nil {
				return err
			}

			headers := []string{"SEQ", "KIND", "PHASE", "PROGRESS", "MESSAGE", "EMITTED"}
			rows := make([][]string, len(events))
			for i, ev := range events {
				rows[i] = []string{
					strconv.FormatInt(ev.Sequence, 10),
					ev.Kind,
					ev.Phase,
					fmt.Sprintf("%d%%", ev.Progress),
					ev.Message,
					ev.EmittedAt,
				}
			}

			out.Print(headers, rows, events)
			return nil
		},
	}
}

func printTask(out *Output, task *TaskResponse) {
	headers := []string{"ID", "SCENE", "STATUS", "CHARGED", "PERIOD", "ERROR", "CREATED"}
	rows := [][]string{{
		task.ID,
		task.Scene,
		task.Status,
		strconv.FormatBool(task.QuotaCharged),
		task.PeriodKey,
		task.Error,
		task.CreatedAt,
	}}
	out.Print(headers, rows, task)
}
