package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/dxrunner/pkg/supervisor"
)

var (
	statusTask     string
	statusProvider string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the reconstructed state of tracked jobs",
	Long: `Status reconstructs every tracked job's health state from its on-disk
artifacts and the process table. Recorded terminal outcomes are
authoritative: a finished job reports its outcome even if an unrelated
process now occupies the old pid.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusTask, "task", "", "Limit to one task key")
	statusCmd.Flags().StringVar(&statusProvider, "provider", "", "Limit to one provider")
}

// statusView is the serializable projection of a job status.
type statusView struct {
	Provider      string     `json:"provider"`
	Task          string     `json:"task"`
	State         string     `json:"state"`
	PID           int        `json:"pid,omitempty"`
	Alive         bool       `json:"alive"`
	Model         string     `json:"model,omitempty"`
	RetryCount    int        `json:"retry_count"`
	MutationCount int        `json:"mutation_count"`
	ReasonCode    string     `json:"reason_code,omitempty"`
	ExitCode      *int       `json:"exit_code,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func newStatusView(st *supervisor.Status) statusView {
	v := statusView{
		Provider:      st.Key.Provider,
		Task:          st.Key.Task,
		State:         string(st.State),
		PID:           st.PID,
		Alive:         st.Alive,
		MutationCount: st.MutationCount,
	}
	if st.Meta != nil {
		v.Model = st.Meta.Model
		v.RetryCount = st.Meta.RetryCount
		v.StartedAt = st.Meta.StartedAt
	}
	if st.Outcome != nil {
		v.ReasonCode = st.Outcome.ReasonCode
		v.ExitCode = st.Outcome.ExitCode
		completed := st.Outcome.CompletedAt
		v.CompletedAt = &completed
	}
	return v
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sup, err := newSupervisor()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize supervisor", err)
	}

	statuses, err := sup.List(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to list jobs", err)
	}

	views := make([]statusView, 0, len(statuses))
	for _, st := range statuses {
		if statusTask != "" && st.Key.Task != statusTask {
			continue
		}
		if statusProvider != "" && st.Key.Provider != statusProvider {
			continue
		}
		views = append(views, newStatusView(st))
	}

	if flagJSON {
		return emitEnvelope("status", true, views, nil, "")
	}

	if len(views) == 0 {
		fmt.Println("No tracked jobs.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tTASK\tSTATE\tPID\tMODEL\tRETRIES\tMUTATIONS\tREASON")
	for _, v := range views {
		pid := "-"
		if v.Alive {
			pid = fmt.Sprintf("%d", v.PID)
		}
		reason := v.ReasonCode
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			v.Provider, v.Task, v.State, pid, v.Model, v.RetryCount, v.MutationCount, reason)
	}
	return w.Flush()
}
