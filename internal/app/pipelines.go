package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"bondkeeper/internal/service"
)

// Snapshot runs the snapshot pipeline once and writes the result as JSON to out.
func (a *App) Snapshot(ctx context.Context, out io.Writer) (service.SnapshotResult, error) {
	rt, err := a.newRuntime(ctx)
	if err != nil {
		return service.SnapshotResult{}, err
	}
	defer rt.Close()

	res := rt.svc.RecordSnapshot(ctx)
	if err := writeResult(out, res); err != nil {
		return res, err
	}
	return res, nil
}

// Monitor runs the health monitor once and writes the result as JSON to out.
func (a *App) Monitor(ctx context.Context, out io.Writer) (service.MonitorResult, error) {
	rt, err := a.newRuntime(ctx)
	if err != nil {
		return service.MonitorResult{}, err
	}
	defer rt.Close()

	res := rt.svc.Monitor(ctx)
	if err := writeResult(out, res); err != nil {
		return res, err
	}
	return res, nil
}

func writeResult(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
