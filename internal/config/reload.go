package config

import (
	"fmt"

	"go.uber.org/zap"
)

// ThresholdSetter holds the live human review threshold.
type ThresholdSetter interface {
	Threshold() float64
	SetThreshold(v float64) error
}

// ThresholdReloader returns a ChangeHandler that keeps setter in line with the
// config file at path. Each change is re-resolved through Load so INTERFLOW_*
// env overrides keep precedence over the file. The initial load is skipped
// because the caller already built setter from Load, and a deleted file keeps
// the current value.
func ThresholdReloader(path string, setter ThresholdSetter, logger *zap.Logger) ChangeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ev ChangeEvent) error {
		switch ev.Action {
		case "initial_load", "delete":
			return nil
		}
		cfg, err := Load(path)
		if err != nil {
			return fmt.Errorf("reload %s: %w", path, err)
		}
		prev := setter.Threshold()
		next := cfg.Decision.HumanThreshold
		if prev == next {
			return nil
		}
		if err := setter.SetThreshold(next); err != nil {
			return err
		}
		logger.Info("Human review threshold updated",
			zap.Float64("from", prev),
			zap.Float64("to", next),
			zap.String("action", ev.Action),
		)
		return nil
	}
}
