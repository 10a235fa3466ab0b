package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/arenadata/adcm/pkg/builder"
	"github.com/arenadata/adcm/pkg/events"
	"github.com/arenadata/adcm/pkg/lifecycle"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Run, cancel and inspect tasks",
}

var taskRunCmd = &cobra.Command{
	Use:   "run --action ID --target KIND:ID",
	Short: "Build a task for an action and queue it for launch",
	Long: `Build a task for an action on a target entity. The task is locked and
its jobs are written; the scheduler's launcher picks it up.

Examples:
  adcmctl task run --action 3 --target cluster:1
  adcmctl task run --action 7 --target service:2 --config cfg.json --hc hc.json`,
	Args: cobra.NoArgs,
	RunE: runTaskRun,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel ID",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a task with its jobs and logs",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

func init() {
	taskCmd.AddCommand(taskRunCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)

	taskRunCmd.Flags().Int64("action", 0, "Action id (required)")
	taskRunCmd.Flags().String("target", "", "Target entity as kind:id (required)")
	taskRunCmd.Flags().String("config", "", "JSON file with the action config")
	taskRunCmd.Flags().String("attr", "", "JSON file with the config attributes")
	taskRunCmd.Flags().String("hc", "", "JSON file with the host-component mapping")
	taskRunCmd.Flags().Bool("verbose", false, "Run payloads in verbose mode")
	_ = taskRunCmd.MarkFlagRequired("action")
	_ = taskRunCmd.MarkFlagRequired("target")

	taskListCmd.Flags().String("status", "", "Only list tasks in this status")

	taskShowCmd.Flags().Bool("logs", false, "Print the content of every job log")
}

func runTaskRun(cmd *cobra.Command, args []string) error {
	actionID, _ := cmd.Flags().GetInt64("action")
	targetArg, _ := cmd.Flags().GetString("target")
	configPath, _ := cmd.Flags().GetString("config")
	attrPath, _ := cmd.Flags().GetString("attr")
	hcPath, _ := cmd.Flags().GetString("hc")
	verboseRun, _ := cmd.Flags().GetBool("verbose")

	target, err := types.ParseEntityRef(targetArg)
	if err != nil {
		return err
	}
	req := builder.Request{ActionID: actionID, Target: target, Verbose: verboseRun}
	if req.Config, err = readJSON(configPath); err != nil {
		return err
	}
	if req.Attr, err = readJSON(attrPath); err != nil {
		return err
	}
	if hcPath != "" {
		data, err := readJSON(hcPath)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &req.HostComponent); err != nil {
			return fmt.Errorf("invalid host-component mapping in %s: %w", hcPath, err)
		}
	}

	_, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	return withEvents(func(p events.Publisher) error {
		res, err := builder.New(store, p).Build(req)
		if err != nil {
			return err
		}
		return printJSON(res)
	})
}

// readJSON reads a JSON document from path; an empty path yields nil
func readJSON(path string) (json.RawMessage, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s is not valid JSON", path)
	}
	return json.RawMessage(data), nil
}

func parseTaskID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	cfg, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	return withEvents(func(p events.Publisher) error {
		manager := lifecycle.NewManager(store, p, cfg.WorkerHostname, cfg.CancelGrace)
		res, err := manager.Cancel(context.Background(), id)
		if err != nil {
			return err
		}

		switch {
		case res.Revoked:
			fmt.Printf("✓ Task %d revoked\n", id)
		case res.Killed:
			fmt.Printf("✓ Task %d runner killed after %s\n", id, cfg.CancelGrace)
		case res.Signalled:
			fmt.Printf("✓ Task %d runner terminated\n", id)
		case res.Remote:
			fmt.Printf("✓ Abort requested for task %d on %s\n", id, executorName(res.Task))
		default:
			fmt.Printf("✓ Abort requested for task %d\n", id)
		}
		return nil
	})
}

func runTaskList(cmd *cobra.Command, args []string) error {
	statusArg, _ := cmd.Flags().GetString("status")
	status := types.Status(statusArg)
	if statusArg != "" && !status.Valid() {
		return fmt.Errorf("unknown status %q", statusArg)
	}

	_, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var tasks []*types.Task
	err = store.View(func(tx storage.Tx) error {
		tasks, err = tx.ListTasks(func(t *types.Task) bool {
			return statusArg == "" || t.Status == status
		})
		return err
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACTION\tTARGET\tSTATUS\tEXECUTOR\tCREATED")
	for _, t := range tasks {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
			t.ID, t.ActionID, t.Target, t.Status, executorName(t), t.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func executorName(t *types.Task) string {
	if t.Executor == nil {
		return "-"
	}
	return fmt.Sprintf("%s@%s", t.Executor.Kind, t.Executor.Hostname)
}

// jobView is a job with its log artifacts
type jobView struct {
	*types.Job
	Logs []*types.LogArtifact `json:"logs,omitempty"`
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	withLogs, _ := cmd.Flags().GetBool("logs")

	cfg, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var (
		task *types.Task
		jobs []jobView
	)
	err = store.View(func(tx storage.Tx) error {
		if task, err = tx.GetTask(id); err != nil {
			return err
		}
		list, err := tx.ListJobs(id)
		if err != nil {
			return err
		}
		for _, j := range list {
			logs, err := tx.ListLogs(j.ID)
			if err != nil {
				return err
			}
			jobs = append(jobs, jobView{Job: j, Logs: logs})
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := printJSON(struct {
		*types.Task
		Jobs []jobView `json:"jobs"`
	}{task, jobs}); err != nil {
		return err
	}
	if !withLogs {
		return nil
	}

	for _, j := range jobs {
		for _, l := range j.Logs {
			path := filepath.Join(cfg.JobDir(j.ID), l.FileName())
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
				continue
			}
			fmt.Printf("\n==> job %d %s <==\n%s", j.ID, l.FileName(), data)
		}
	}
	return nil
}
