// Copyright 2025 Cortexa Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command ragsync runs the ingestion pipelines that keep the vector search
// index in sync with its upstream sources.
//
// Usage:
//
//	ragsync run                    # one ingestion pass over every source
//	ragsync run --source blob      # one source only
//	ragsync purge                  # reconcile the index against upstream
//	ragsync schedule               # run engines on their cron schedules
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/cortexa-labs/ragsync"
	"github.com/cortexa-labs/ragsync/pkg/logger"
	"github.com/cortexa-labs/ragsync/pkg/scheduler"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Run      RunCmd      `cmd:"" help:"Run one ingestion pass."`
	Purge    PurgeCmd    `cmd:"" help:"Remove index records whose upstream item is gone."`
	Schedule ScheduleCmd `cmd:"" help:"Run the engines on their cron schedules until interrupted."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (json, text)." default:"json"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(ragsync.GetVersion())
	return nil
}

// RunCmd executes one ingestion pass.
type RunCmd struct {
	Source string `help:"Restrict to one source (blob, sharepoint-list, nl2sql)." placeholder:"TAG"`
}

func (c *RunCmd) Run() error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	pipelines, err := a.selectPipelines(c.Source)
	if err != nil {
		return err
	}

	var failed bool
	for _, p := range pipelines {
		summary, err := p.engine.Run(ctx)
		if err != nil {
			slog.Error("ingestion run failed", "engine", p.name, "error", err)
			failed = true
			continue
		}
		slog.Info("ingestion run complete",
			"engine", p.name,
			"run_id", summary.RunID,
			"status", summary.Status,
			"indexed_items", summary.IndexedItems,
			"total_chunks_uploaded", summary.TotalChunksUploaded)
	}
	if failed {
		return fmt.Errorf("one or more ingestion runs failed")
	}
	return nil
}

// PurgeCmd reconciles the index against upstream truth.
type PurgeCmd struct {
	Source string `help:"Restrict to one source (blob, sharepoint-list, nl2sql)." placeholder:"TAG"`
}

func (c *PurgeCmd) Run() error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	pipelines, err := a.selectPipelines(c.Source)
	if err != nil {
		return err
	}

	for _, p := range pipelines {
		if _, err := p.purger.Run(ctx); err != nil {
			return err
		}
	}
	if a.figures != nil {
		if _, err := a.figures.Run(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ScheduleCmd runs the engines on cron until interrupted.
type ScheduleCmd struct {
	RunOnStart bool `name:"run-on-start" help:"Run every job once immediately at startup."`
}

func (c *ScheduleCmd) Run() error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	if a.settings.CronRunIndexer == "" && a.settings.CronRunPurger == "" {
		return fmt.Errorf("no cron expressions configured (CRON_RUN_INDEXER, CRON_RUN_PURGER)")
	}

	sched, err := scheduler.New(a.settings.Timezone)
	if err != nil {
		return err
	}

	for _, p := range a.pipelines {
		if a.settings.CronRunIndexer != "" {
			err := sched.AddJob(p.name, a.settings.CronRunIndexer, c.RunOnStart,
				func(ctx context.Context) error {
					_, err := p.engine.Run(ctx)
					return err
				})
			if err != nil {
				return err
			}
		}
		if a.settings.CronRunPurger != "" {
			err := sched.AddJob(p.name+"-purger", a.settings.CronRunPurger, false,
				func(ctx context.Context) error {
					_, err := p.purger.Run(ctx)
					return err
				})
			if err != nil {
				return err
			}
		}
	}

	sched.Start()
	<-ctx.Done()
	slog.Info("shutting down")
	return sched.Stop()
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("ragsync"),
		kong.Description("ragsync - multi-source vector index ingestion"),
		kong.UsageOnError(),
	)

	logger.Init(logger.ParseLevel(cli.LogLevel), os.Stderr, cli.LogFormat)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
