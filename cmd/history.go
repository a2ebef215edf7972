package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/mesakiosk/internal/formatter"
	"github.com/desertthunder/mesakiosk/internal/repositories"
	"github.com/urfave/cli/v3"
)

// HistoryList prints recent visits, or writes them to --output.
func (r *Runner) HistoryList(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	db, err := r.database()
	if err != nil {
		return err
	}
	visits, err := repositories.NewHistoryRepository(db).Recent(cmd.Int("limit"))
	if err != nil {
		return err
	}

	if out := cmd.String("output"); out != "" {
		path, err := formatter.WriteVisits(visits, format, out)
		if err != nil {
			return err
		}
		r.logger.Info("history exported", "path", path, "visits", len(visits))
		r.writePlain("✓ Exported %d visit(s) to %s\n", len(visits), path)
		return nil
	}

	if len(visits) == 0 {
		r.writePlain("No visits recorded\n")
		return nil
	}

	data, err := formatter.RenderVisits(visits, format)
	if err != nil {
		return err
	}
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// HistoryClear deletes all visits.
func (r *Runner) HistoryClear(ctx context.Context, cmd *cli.Command) error {
	db, err := r.database()
	if err != nil {
		return err
	}
	n, err := repositories.NewHistoryRepository(db).Clear()
	if err != nil {
		return err
	}
	r.writePlain("✓ Deleted %d visit(s)\n", n)
	return nil
}
