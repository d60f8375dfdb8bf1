package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/artbot/config"
	"github.com/timzifer/artbot/internal/envload"
	"github.com/timzifer/artbot/internal/logging"
	"github.com/timzifer/artbot/journal"
	"github.com/timzifer/artbot/protocol"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(rootConfig)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if rootLogLevel != "" {
		cfg.Logging.Level = rootLogLevel
	}
	return cfg, nil
}

func setupLogger(cfg *config.Config) (zerolog.Logger, func(), error) {
	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("setup logger: %w", err)
	}
	log.Logger = logger
	if path := envload.LoadedPath(); path != "" {
		logger.Debug().Str("path", path).Msg("loaded .env")
	}
	return logger, cleanup, nil
}

func journalPath(cfg *config.Config) string {
	return envload.Lookup(envload.JournalVar, cfg.Journal.PathOrDefault())
}

func printChecklist(w io.Writer, p *protocol.Protocol) {
	fmt.Fprintln(w, "CHECK BEFORE RUNNING - load the reagents into these palette wells:")
	for _, line := range p.Checklist() {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

func printSummary(w io.Writer, s protocol.Summary) {
	if s.RunID != "" {
		fmt.Fprintf(w, "Run %s\n", s.RunID)
	}
	for _, res := range s.Results {
		fmt.Fprintf(w, "  reagent %-8s %4d/%-4d pixels  %2d tips  %2d refills  %2d touch-tips  %8.2f uL aspirated  %6.2f uL discarded\n",
			res.Reagent, res.Dispensed, res.Targets, res.TipsUsed, res.Refills, res.TouchTips, res.Aspirated, res.Discarded)
	}
	fmt.Fprintf(w, "Total: %d/%d pixels, %d tips, %.2f uL aspirated, %.2f uL discarded\n",
		s.Dispensed, s.Targets, s.TipsUsed, s.Aspirated, s.Discarded)
}

func printRun(w io.Writer, run journal.Run) {
	finished := "-"
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.Local().Format("2006-01-02 15:04:05")
	}
	fmt.Fprintf(w, "%s  %-10s %-20s started %s  finished %s  %d pixels  %d tips\n",
		run.ID, run.Status, run.Name, run.StartedAt.Local().Format("2006-01-02 15:04:05"), finished, run.Dispensed, run.TipsUsed)
	if run.Error != "" {
		fmt.Fprintf(w, "    error: %s\n", run.Error)
	}
}

func describeModule(ref config.ModuleReference) string {
	name := strings.TrimSpace(ref.Name)
	file := strings.TrimSpace(ref.File)
	desc := strings.TrimSpace(ref.Description)

	label := ""
	if name != "" && file != "" {
		label = fmt.Sprintf("%s (%s)", name, file)
	} else if name != "" {
		label = name
	} else if file != "" {
		label = file
	}
	if desc != "" {
		if label != "" {
			label = fmt.Sprintf("%s - %s", label, desc)
		} else {
			label = desc
		}
	}
	return label
}
