package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/distex-rt/distex/pkg/alg/mapx"
	"github.com/distex-rt/distex/pkg/collab"
	"github.com/distex-rt/distex/pkg/command"
	"github.com/distex-rt/distex/pkg/config"
	"github.com/distex-rt/distex/pkg/engine"
	"github.com/distex-rt/distex/pkg/graph"
	"github.com/distex-rt/distex/pkg/horizon"
	"github.com/distex-rt/distex/pkg/ids"
	"github.com/distex-rt/distex/pkg/observability"
	"github.com/distex-rt/distex/pkg/safeconv"
	"github.com/distex-rt/distex/pkg/scenario"
	"github.com/distex-rt/distex/pkg/serializer"
)

// NewRunCommand drives a fixture-defined task graph through the real
// serializer and one worker job engine per node, against in-memory
// collaborators. A real deployment swaps collab.MemoryTaskStore,
// collab.MemoryDeviceQueue, and collab.MemoryBufferTransferManager for
// adapters backed by the actual task-submission API, accelerator queue,
// and network transport; those live entirely outside this module.
func NewRunCommand() *cobra.Command {
	var (
		configPath  string
		fixturePath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a task-graph fixture through the serializer and worker job engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFixture(cmd, configPath, fixturePath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a distex config file (see pkg/config)")
	cmd.Flags().StringVar(&fixturePath, "fixture", "", "path to a task-graph fixture YAML file")

	if err := cmd.MarkFlagRequired("fixture"); err != nil {
		panic(err)
	}

	return cmd
}

func runFixture(cmd *cobra.Command, configPath, fixturePath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	providers, err := observability.Init(observability.Config{
		ServiceName:  "distexd",
		Environment:  cfg.Runtime.Platform,
		Mode:         observability.ModeNode,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
		OTLPInsecure: cfg.Observability.OTLPInsecure,
		SampleRatio:  cfg.Observability.SampleRatio,
		TraceVerbose: cfg.Observability.TraceVerbose,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Observability.ShutdownWait)
		defer cancel()

		_ = providers.Shutdown(shutdownCtx)
	}()

	metrics, err := observability.NewREDMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// Rank and device index are validated non-negative by config.LoadConfig;
	// the in-process conversion to an unsigned host-local identifier can
	// never overflow for config already accepted, but safeconv still makes
	// that assumption an explicit, checked one rather than a silent cast.
	providers.Logger.Info("node identity",
		slog.Uint64("rank", uint64(safeconv.MustIntToUint(cfg.Runtime.Rank))),
		slog.Uint64("device_index", uint64(safeconv.MustIntToUint(cfg.Runtime.DeviceIndex))),
		slog.String("platform", cfg.Runtime.Platform),
	)

	fixture, err := scenario.LoadFixture(fixturePath)
	if err != nil {
		return fmt.Errorf("load fixture: %w", err)
	}

	store := graph.NewStore()
	guard := graph.NewGuard(store)

	computeOf, err := scenario.BuildGraph(store, fixture)
	if err != nil {
		return fmt.Errorf("build command graph: %w", err)
	}

	taskStore := collab.NewMemoryTaskStore()

	completed := make(map[ids.TaskID]bool, len(fixture.Tasks))
	for _, t := range fixture.Tasks {
		tid := ids.TaskID(t.ID)

		taskStore.RegisterCompute(tid, func(context.Context, command.Subrange) error {
			completed[tid] = true

			return nil
		})
	}

	net := collab.NewNetwork()
	engines := make(map[ids.NodeID]*engine.Engine)
	accountant := horizon.New(guard)

	for _, t := range fixture.Tasks {
		nid := ids.NodeID(t.Node)
		if _, ok := engines[nid]; ok {
			continue
		}

		strategy := engine.CompletionStrategyPoll
		if cfg.Engine.CompletionStrategy == config.CompletionStrategyFuture {
			strategy = engine.CompletionStrategyFuture
		}

		engines[nid] = engine.New(
			taskStore,
			collab.NewMemoryDeviceQueue(taskStore, cfg.Runtime.DeviceProfiling),
			collab.NewMemoryBufferTransferManager(net),
			engine.WithLogger(providers.Logger),
			engine.WithMetrics(metrics),
			engine.WithCompletionStrategy(strategy),
			engine.WithHorizonHandler(accountant.Prune),
		)
	}

	sink := &engineSink{engines: engines}
	ser := serializer.New(guard, sink)

	for _, t := range fixture.Tasks {
		if err := ser.Flush(ids.TaskID(t.ID)); err != nil {
			return fmt.Errorf("flush task %d: %w", t.ID, err)
		}
	}

	ctx := context.Background()

	// Poll nodes in a fixed order (by NodeID) rather than Go's randomized
	// map iteration, so two runs of the same fixture produce the same
	// interleaving of per-node progress in logs and traces.
	nodeOrder := mapx.SortedKeys(engines)

	for range 100000 {
		progressed := false

		for _, nid := range nodeOrder {
			p, err := engines[nid].PollOnce(ctx)
			if err != nil {
				return fmt.Errorf("engine poll: %w", err)
			}

			progressed = progressed || p
		}

		if allDone(completed, fixture) {
			break
		}

		if !progressed {
			time.Sleep(time.Microsecond)
		}
	}

	printCompletion(cmd, computeOf, completed, fixture)

	providers.Logger.Info("run complete", slog.Int("tasks", len(fixture.Tasks)))

	return nil
}

func allDone(completed map[ids.TaskID]bool, fixture *scenario.Fixture) bool {
	for _, t := range fixture.Tasks {
		if !completed[ids.TaskID(t.ID)] {
			return false
		}
	}

	return true
}

func printCompletion(cmd *cobra.Command, computeOf map[ids.TaskID]ids.CommandID, completed map[ids.TaskID]bool, fixture *scenario.Fixture) {
	w := table.NewWriter()
	w.SetOutputMirror(os.Stdout)
	w.AppendHeader(table.Row{"Task", "Node", "Command", "Status"})

	for _, t := range fixture.Tasks {
		tid := ids.TaskID(t.ID)

		status := "stuck"
		if completed[tid] {
			status = "done"
		}

		w.AppendRow(table.Row{tid.String(), ids.NodeID(t.Node).String(), computeOf[tid].String(), status})
	}

	w.Render()

	_ = cmd
}
