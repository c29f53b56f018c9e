package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"headcount/internal/app"
	"headcount/internal/config"
	"headcount/internal/dto"
	"headcount/internal/logger"
	"headcount/internal/repository/sqlite"
	"headcount/internal/service"
)

// CLI flags
var (
	labelFlag      string
	frameLimitFlag int
	sessionFlag    string
	statusFlag     string
	limitFlag      int
)

var rootCmd = &cobra.Command{
	Use:   "headcount",
	Short: "Count people in video files",
	Long: `headcount runs the same pipeline as the HTTP server against local files
and inspects the run history database.

Examples:
  headcount analyze ./lecture.mp4
  headcount analyze ./yard.mp4 --label dog --frames 60
  headcount runs --status failed --limit 20
  headcount migrate`,
	SilenceUsage: true,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE",
	Short: "Report the largest per-frame count of a label in a video",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs, newest first",
	RunE:  runRuns,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the run history schema",
	RunE:  runMigrate,
}

func init() {
	analyzeCmd.Flags().StringVarP(&labelFlag, "label", "l", "", "Detection label to count (default TARGET_LABEL)")
	analyzeCmd.Flags().IntVarP(&frameLimitFlag, "frames", "n", 0, "Frames to examine (default FRAME_LIMIT)")
	analyzeCmd.Flags().StringVar(&sessionFlag, "session", "cli", "Session recorded with the run")

	runsCmd.Flags().StringVar(&sessionFlag, "session", "", "Only runs of this session")
	runsCmd.Flags().StringVar(&statusFlag, "status", "", "Only runs with this status (succeeded, failed)")
	runsCmd.Flags().IntVar(&limitFlag, "limit", 20, "Maximum runs to list")

	rootCmd.AddCommand(analyzeCmd, runsCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if frameLimitFlag < 0 || frameLimitFlag > cfg.MaxFrameLimit {
		return fmt.Errorf("--frames must be between 1 and %d", cfg.MaxFrameLimit)
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer application.Close()

	run, err := application.Manager().Analyze(ctx, service.AnalyzeRequest{
		Body:       f,
		Filename:   filepath.Base(args[0]),
		Size:       info.Size(),
		Session:    sessionFlag,
		Label:      labelFlag,
		FrameLimit: frameLimitFlag,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := sqlite.NewRunRepository(db).GetAll(&dto.RunFilter{
		Session: sessionFlag,
		Status:  statusFlag,
		Limit:   limitFlag,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tFILE\tSIZE\tLABEL\tCOUNT\tFRAMES\tSTATUS")
	for _, r := range runs {
		status := r.Status
		if r.ErrorKind != "" {
			status += " (" + r.ErrorKind + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Filename,
			units.HumanSize(float64(r.Size)), r.Label, r.MaxCount, r.FramesExamined, status)
	}
	return w.Flush()
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run history schema is up to date in %s\n", cfg.DatabasePath)
	return nil
}
