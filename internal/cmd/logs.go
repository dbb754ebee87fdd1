package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/dxrunner/pkg/artifact"
)

var (
	logsTask     string
	logsProvider string
	logsTail     int
	logsFollow   bool
)

// logsPollInterval is how often --follow re-checks the log for appends.
const logsPollInterval = time.Second

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print or follow a job's log",
	Long: `Logs prints the job's current log file. --tail limits output to the
last N lines; --follow keeps polling for appends until interrupted.
Rotated logs from earlier attempts stay on disk next to the current
one and are not replayed here.`,
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().StringVar(&logsTask, "task", "", "Task key")
	logsCmd.Flags().StringVar(&logsProvider, "provider", "", "Provider backend")
	logsCmd.Flags().IntVar(&logsTail, "tail", 0, "Print only the last N lines (0 prints everything)")
	logsCmd.Flags().BoolVar(&logsFollow, "follow", false, "Keep polling for appended output")
	_ = logsCmd.MarkFlagRequired("task")
	_ = logsCmd.MarkFlagRequired("provider")
}

func runLogs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sup, err := newSupervisor()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize supervisor", err)
	}

	key := artifact.Key{Provider: logsProvider, Task: logsTask}
	path := sup.Store().LogPath(key)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return exitError(foundry.ExitFileNotFound, "No log for job", fmt.Errorf("%s/%s has no log yet", key.Provider, key.Task))
		}
		return exitError(foundry.ExitFileReadError, "Failed to open job log", err)
	}
	defer func() { _ = f.Close() }()

	offset, err := printLog(f, logsTail)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read job log", err)
	}
	if !logsFollow {
		return nil
	}

	ticker := time.NewTicker(logsPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		n, err := io.Copy(os.Stdout, io.NewSectionReader(f, offset, 1<<30))
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to read job log", err)
		}
		offset += n
	}
}

// printLog writes the log (or its last n lines) to stdout and returns
// the byte offset consumed.
func printLog(f *os.File, tailLines int) (int64, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return 0, err
	}

	if tailLines <= 0 {
		_, err = os.Stdout.Write(data)
		return int64(len(data)), err
	}

	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	if len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
	}
	for _, line := range lines {
		if _, err := os.Stdout.Write(append(line, '\n')); err != nil {
			return 0, err
		}
	}
	return int64(len(data)), nil
}
