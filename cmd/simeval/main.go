package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/boristopalov/simeval/internal/logging"
	"github.com/boristopalov/simeval/pkg/checkpoint"
	"github.com/boristopalov/simeval/pkg/config"
	"github.com/boristopalov/simeval/pkg/events"
	"github.com/boristopalov/simeval/pkg/experiment"
	"github.com/boristopalov/simeval/pkg/metrics"
	"github.com/boristopalov/simeval/pkg/policy"
	"github.com/boristopalov/simeval/pkg/providers"
	"github.com/boristopalov/simeval/pkg/tasks"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	v         = viper.New()
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "simeval",
		Short:         "simeval evaluates manipulation policies under domain randomization.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "evaluation config file (yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")
	v.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate a checkpoint over randomized rollouts",
		RunE:  runEvaluation,
	}
	flags := runCmd.Flags()
	flags.String("task", "", "task to evaluate: "+kindList())
	flags.Bool("modified", true, "apply the task's geometry color overrides")
	flags.Int("total-rollouts", 0, "number of rollouts")
	flags.Int("rollouts-per-sim", 0, "rollouts per runner chunk")
	flags.Int64("sampler-seed", 0, "seed for drawing rollout seeds (0 uses the clock)")
	flags.String("checkpoint", "", "checkpoint path (default is the pretrained layout for the task)")
	flags.String("results-dir", "", "results root directory")
	flags.String("task-config-dir", "", "directory holding <task>_image_abs.yaml files")
	flags.Int("every-n-steps", 0, "also randomize every n steps (0 disables)")
	flags.Bool("hard-reset", false, "rebuild the scene on every reset")
	flags.Bool("record-video", true, "record a video of every rollout")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address")
	for key, name := range map[string]string{
		"task":                        "task",
		"modified":                    "modified",
		"total_rollouts":              "total-rollouts",
		"rollouts_per_sim":            "rollouts-per-sim",
		"sampler_seed":                "sampler-seed",
		"checkpoint":                  "checkpoint",
		"results_dir":                 "results-dir",
		"task_config_dir":             "task-config-dir",
		"randomization.every_n_steps": "every-n-steps",
		"hard_reset":                  "hard-reset",
		"record_video":                "record-video",
		"metrics.addr":                "metrics-addr",
	} {
		v.BindPFlag(key, flags.Lookup(name))
	}

	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "List the tasks that can be evaluated",
		RunE:  listTasks,
	}

	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage checkpoints",
	}
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a scripted reaching-policy checkpoint for a task",
		Args:  cobra.ExactArgs(1),
		RunE:  initCheckpoint,
	}
	initCmd.Flags().String("task", string(tasks.Lift), "task the checkpoint targets")
	initCmd.Flags().Bool("ema", false, "mark the checkpoint as trained with EMA weights")
	checkpointCmd.AddCommand(initCmd)

	for _, envFile := range []string{
		".env",
		"../../.env",
		"../../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	rootCmd.AddCommand(runCmd, tasksCmd, checkpointCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func kindList() string {
	kinds := make([]string, 0, len(tasks.Kinds()))
	for _, k := range tasks.Kinds() {
		kinds = append(kinds, string(k))
	}
	return strings.Join(kinds, ", ")
}

func runEvaluation(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		log.Warn("Interrupted, stopping after the current step")
		cancel()
	}()

	newCompleter := func(ctx context.Context, provider string) (providers.Completer, error) {
		return providers.New(ctx, provider, providers.WithLogger(log))
	}
	reg := policy.NewRegistry(ctx, newCompleter, policy.WithLogger(log))
	ckpt := cfg.CheckpointPath()
	p, err := experiment.LoadPolicy(ckpt, reg)
	if err != nil {
		return fmt.Errorf("failed to load policy from %s: %w", ckpt, err)
	}
	log.WithField("checkpoint", ckpt).Info("Loaded policy")

	opts := []experiment.ExperimentOption{
		experiment.WithLogger(log),
		experiment.WithSummary(os.Stdout),
	}
	if cfg.Metrics.Addr != "" {
		promReg := prometheus.NewRegistry()
		collector, err := metrics.NewCollector(promReg)
		if err != nil {
			return err
		}
		broker := events.NewBroker()
		progress := make(chan events.Event, 64)
		if err := broker.Subscribe("metrics", progress); err != nil {
			return err
		}
		opts = append(opts, experiment.WithEvents(broker))
		go collector.Consume(ctx, progress)
		go func() {
			log.WithField("addr", cfg.Metrics.Addr).Info("Metrics server listening")
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, promReg); err != nil {
				log.WithError(err).Error("Metrics server error")
			}
		}()
	}

	exp, err := experiment.NewEvaluationExperiment(cfg, p, opts...)
	if err != nil {
		return err
	}
	if _, err := exp.Run(ctx); err != nil {
		return err
	}
	log.Info("Finished!")
	return nil
}

func listTasks(cmd *cobra.Command, args []string) error {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Task", "Render Key", "Max Steps", "Overrides")
	for _, kind := range tasks.Kinds() {
		task, err := tasks.Lookup(string(kind))
		if err != nil {
			return err
		}
		overrides := make([]string, 0, len(task.Overrides))
		for _, o := range task.Overrides {
			overrides = append(overrides, fmt.Sprintf("%s=%v", o.Name, o.RGB))
		}
		if err := table.Append([]string{
			string(kind),
			task.RenderObsKey,
			fmt.Sprintf("%d", task.MaxSteps),
			strings.Join(overrides, " "),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func initCheckpoint(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("task")
	ema, _ := cmd.Flags().GetBool("ema")
	task, err := tasks.Lookup(name)
	if err != nil {
		return err
	}
	config.SetDefaults(v)
	taskCfg, err := tasks.LoadConfig(v.GetString("task_config_dir"), task.Kind)
	if err != nil {
		return err
	}

	ws, err := policy.NewLinearWorkspace(checkpoint.Config{
		Target:   policy.LinearWorkspaceTarget,
		Name:     "reaching_" + string(task.Kind),
		Task:     checkpoint.TaskConfig{Name: taskCfg.Name, ShapeMeta: taskCfg.ShapeMeta},
		Policy:   checkpoint.PolicyConfig{Kind: policy.KindLinear},
		Training: checkpoint.TrainingConfig{UseEMA: ema},
	}, "")
	if err != nil {
		return err
	}
	reaching, err := policy.NewReachingPolicy(taskCfg.ShapeMeta)
	if err != nil {
		return err
	}
	payload := ws.Payload()
	payload.StateDicts["model"] = reaching.StateDict()
	payload.StateDicts["ema_model"] = reaching.StateDict()
	if err := checkpoint.Save(args[0], payload); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s checkpoint to %s\n", task.Kind, args[0])
	return nil
}
