package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const exampleHistoryLimit = 200

var (
	flagFromStart bool
	flagJobID     string
)

var rootCmd = &cobra.Command{
	Use:   "chatlens",
	Short: "Classify live-stream chat comments with an LLM",
	Long: `chatlens reads exported live-stream chat CSV files, classifies every
comment by attribute and sentiment using an LLM, and writes a summary
report plus a question report. Long jobs are checkpointed and can be
resumed after an interruption.`,
	SilenceUsage: true,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <csv-file>",
	Short: "Analyze a chat CSV file from the beginning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := LoadConfig()
		db, err := InitDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		defer db.Close()

		ctx, cancelled := withInterrupt(cmd.Context())
		opts := JobOptions{JobID: flagJobID, CancelRequested: cancelled}
		if flagFromStart {
			clearStaleCheckpoints(cfg)
		}
		return runPipeline(ctx, cfg, db, args[0], opts)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <csv-file> [job-id]",
	Short: "Resume a checkpointed analysis job",
	Long: `Resume continues a previously interrupted job from its checkpoint.
The source CSV must be supplied again; only comments not yet classified
are sent to the LLM. Without a job id the most recent checkpoint is
used.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := LoadConfig()
		db, err := InitDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		defer db.Close()

		ctx, cancelled := withInterrupt(cmd.Context())
		opts := JobOptions{Resume: true, CancelRequested: cancelled}
		if len(args) == 2 {
			opts.JobID = args[1]
		}
		return runPipeline(ctx, cfg, db, args[0], opts)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a directory and analyze new CSV files on a cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := LoadConfig()
		db, err := InitDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		defer db.Close()

		ctx, cancelled := withInterrupt(cmd.Context())
		err = StartWatchScheduler(ctx, cfg, db, cancelled, func(ctx context.Context, path string) error {
			return runPipeline(ctx, cfg, db, path, JobOptions{CancelRequested: cancelled})
		})
		if err == context.Canceled {
			log.Println("watch stopped")
			return nil
		}
		return err
	},
}

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect and manage saved job checkpoints",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved checkpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := LoadConfig()
		store := NewCheckpointStore(cfg.CheckpointDir)
		jobIDs := store.List()
		if len(jobIDs) == 0 {
			fmt.Println("no checkpoints")
			return nil
		}
		for _, jobID := range jobIDs {
			cp, err := store.Load(jobID)
			if err != nil || cp == nil {
				fmt.Printf("%s\t(unreadable)\n", jobID)
				continue
			}
			fmt.Printf("%s\t%d records\t%d tokens\tsaved %s\n",
				jobID, len(cp.Records), cp.Usage.TotalTokens, cp.SavedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var checkpointsClearCmd = &cobra.Command{
	Use:   "clear <job-id>",
	Short: "Delete a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := LoadConfig()
		store := NewCheckpointStore(cfg.CheckpointDir)
		return store.Clear(args[0])
	},
}

var checkpointsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete checkpoints older than the retention period",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := LoadConfig()
		store := NewCheckpointStore(cfg.CheckpointDir)
		retention := time.Duration(cfg.CheckpointRetentionDays) * 24 * time.Hour
		swept := store.SweepOlderThan(retention)
		fmt.Printf("swept %d checkpoints older than %dd\n", swept, cfg.CheckpointRetentionDays)
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent analysis runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := LoadConfig()
		db, err := InitDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		defer db.Close()

		runs, err := GetRecentRuns(db, 20)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no runs recorded")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("%s\t%s\t%s\t%d comments\t%d tokens\t$%.4f\t%s\n",
				r.JobID, r.State, r.SourceFile, r.TotalComments,
				r.Usage.TotalTokens, r.EstimatedCost, r.FinishedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&flagFromStart, "from-start", false, "ignore existing checkpoints and start over")
	analyzeCmd.Flags().StringVar(&flagJobID, "job-id", "", "pin the job id instead of minting one")

	checkpointsCmd.AddCommand(checkpointsListCmd, checkpointsClearCmd, checkpointsSweepCmd)
	rootCmd.AddCommand(analyzeCmd, resumeCmd, watchCmd, checkpointsCmd, runsCmd)
}

// withInterrupt wires SIGINT/SIGTERM to a cooperative stop flag. The
// first signal requests a graceful stop (finish the in-flight batch,
// save the checkpoint); the second cancels the context outright.
func withInterrupt(parent context.Context) (context.Context, func() bool) {
	ctx, cancel := context.WithCancel(parent)
	var stop atomic.Bool

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("stop requested, finishing in-flight batch (press again to abort)")
		stop.Store(true)
		<-sigCh
		log.Println("aborting")
		cancel()
	}()

	return ctx, stop.Load
}

// runPipeline is the end-to-end flow shared by analyze, resume and the
// watch scheduler: read the CSV, classify, persist the run, write the
// reports and notify.
func runPipeline(ctx context.Context, cfg Config, db *sql.DB, csvPath string, opts JobOptions) error {
	startedAt := time.Now()
	base := filepath.Base(csvPath)
	sourceFile := CleanSourceFilename(strings.TrimSuffix(base, filepath.Ext(base)))

	comments, err := ReadCommentsCSV(csvPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", csvPath, err)
	}
	log.Printf("loaded %d comments from %s", len(comments), csvPath)

	var rules *KeywordRules
	if cfg.KeywordRulesPath != "" {
		rules, err = LoadKeywordRules(cfg.KeywordRulesPath)
		if err != nil {
			return fmt.Errorf("load keyword rules: %w", err)
		}
	}

	history, err := GetRecentExamples(db, exampleHistoryLimit)
	if err != nil {
		log.Printf("could not load few-shot history: %v", err)
	}

	client := NewLLMClient(cfg, history, rules)
	store := NewCheckpointStore(cfg.CheckpointDir)
	analyzer := NewAnalyzer(cfg, client, store)

	opts.Progress = func(current, total int) {
		log.Printf("progress %d/%d comments", current, total)
	}

	result, runErr := analyzer.Run(ctx, comments, opts)
	finishedAt := time.Now()
	log.Printf("job %s %s: %d/%d comments, %d tokens, ~$%.4f",
		result.JobID, result.State, len(result.Records), len(comments),
		result.Usage.TotalTokens, result.Usage.EstimatedCostUSD())

	if insertErr := InsertAnalysisRun(db, AnalysisRun{
		JobID:         result.JobID,
		SourceFile:    sourceFile,
		State:         result.State,
		TotalComments: len(result.Records),
		Usage:         result.Usage,
		EstimatedCost: result.Usage.EstimatedCostUSD(),
		LLMProvider:   cfg.LLMProvider,
		LLMModel:      cfg.LLMModel,
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
	}); insertErr != nil {
		log.Printf("could not record run: %v", insertErr)
	}

	if result.State == JobCompleted && len(result.Records) > 0 {
		if histErr := InsertClassificationHistory(db, result.JobID, result.Records); histErr != nil {
			log.Printf("could not record classification history: %v", histErr)
		}
		if reportErr := writeReports(cfg, sourceFile, result); reportErr != nil {
			log.Printf("could not write reports: %v", reportErr)
		}
	}

	NewNotifier(cfg).NotifyJobResult(sourceFile, &result)

	if runErr != nil {
		return fmt.Errorf("job %s failed: %w", result.JobID, runErr)
	}
	if result.State == JobCancelled {
		log.Printf("job %s checkpointed, resume with: chatlens resume %s %s", result.JobID, csvPath, result.JobID)
	}
	return nil
}

func writeReports(cfg Config, sourceFile string, result JobResult) error {
	stats := CalcStatistics(result.Records)
	base := fmt.Sprintf("%s_%s", sourceFile, result.JobID)

	analysisCSV := BuildAnalysisCSV(result.Records, stats)
	path, err := WriteReportFile(analysisCSV, cfg.ReportOutputDir, base+"_analysis.csv")
	if err != nil {
		return err
	}
	log.Printf("analysis report written to %s", path)

	questions := ExtractQuestions(cfg, result.Records)
	qstats := CalcQuestionStatistics(questions, 0)
	questionCSV := BuildQuestionCSV(questions, qstats)
	path, err = WriteReportFile(questionCSV, cfg.ReportOutputDir, base+"_questions.csv")
	if err != nil {
		return err
	}
	log.Printf("question report written to %s (%d questions)", path, qstats.TotalQuestions)
	return nil
}

func clearStaleCheckpoints(cfg Config) {
	store := NewCheckpointStore(cfg.CheckpointDir)
	for _, jobID := range store.List() {
		if err := store.Clear(jobID); err != nil {
			log.Printf("could not clear checkpoint %s: %v", jobID, err)
		}
	}
}
