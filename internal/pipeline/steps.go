package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/autodev/internal/contextstore"
	"github.com/Iron-Ham/autodev/internal/errors"
)

// Built-in step kinds.
const (
	KindNoop      = "noop"
	KindSleep     = "sleep"
	KindFail      = "fail"
	KindFlaky     = "flaky"
	KindSet       = "set"
	KindIncrement = "increment"
	KindArtifact  = "artifact"
)

func registerBuiltins(r *Registry) {
	_ = r.Register(KindNoop, noopStep)
	_ = r.Register(KindSleep, sleepStep)
	_ = r.Register(KindFail, failStep)
	_ = r.Register(KindFlaky, flakyStep)
	_ = r.Register(KindSet, setStep)
	_ = r.Register(KindIncrement, incrementStep)
	_ = r.Register(KindArtifact, artifactStep)
}

func noopStep(ctx context.Context, env StepEnv) (any, error) {
	return nil, nil
}

// sleepStep waits params.duration (default 100ms) or until ctx is done.
func sleepStep(ctx context.Context, env StepEnv) (any, error) {
	d, err := env.Duration("duration", 100*time.Millisecond)
	if err != nil {
		return nil, errors.Fatal(err)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return d.String(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// failStep always fails with params.message. With params.fatal the failure
// is not retried.
func failStep(ctx context.Context, env StepEnv) (any, error) {
	err := errors.New(env.String("message", "step failed"))
	if env.Bool("fatal", false) {
		return nil, errors.Fatal(err)
	}
	return nil, err
}

// flakyStep fails its first params.failures attempts (default 1), then
// succeeds.
func flakyStep(ctx context.Context, env StepEnv) (any, error) {
	failures := env.Int("failures", 1)
	if env.Attempt <= failures {
		return nil, fmt.Errorf("transient failure %d of %d", env.Attempt, failures)
	}
	return env.Attempt, nil
}

// setStep writes params.value under params.key.
func setStep(ctx context.Context, env StepEnv) (any, error) {
	key := env.String("key", "")
	if key == "" {
		return nil, errors.Fatal(errors.NewValidationError("set step requires params.key").WithField("params.key"))
	}
	value := env.Params["value"]
	env.Store.Set(key, value)
	return value, nil
}

// incrementStep atomically adds params.by (default 1) to the number under
// params.key.
func incrementStep(ctx context.Context, env StepEnv) (any, error) {
	key := env.String("key", "")
	if key == "" {
		return nil, errors.Fatal(errors.NewValidationError("increment step requires params.key").WithField("params.key"))
	}
	by := float64(env.Int("by", 1))

	return env.Store.AtomicUpdate(func(tx *contextstore.Tx) (any, error) {
		var current float64
		switch v := tx.Get(key, 0.0).(type) {
		case float64:
			current = v
		case int:
			current = float64(v)
		default:
			return nil, errors.Fatal(errors.NewValidationError("value is not a number").WithField(key).WithValue(v))
		}
		next := current + by
		tx.Set(key, next)
		return next, nil
	})
}

// artifactStep records params.path as an artifact of the step's agent. When
// the plan has an output directory and params.content is set, the file is
// written there first.
func artifactStep(ctx context.Context, env StepEnv) (any, error) {
	path := env.String("path", "")
	if path == "" {
		return nil, errors.Fatal(errors.NewValidationError("artifact step requires params.path").WithField("params.path"))
	}

	if env.OutputDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(env.OutputDir, path)
	}
	if content, ok := env.Params["content"].(string); ok && env.OutputDir != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrap(err, "creating artifact directory")
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return nil, errors.Wrap(err, "writing artifact")
		}
	}

	env.Store.AddArtifact(env.Agent, path)
	env.Logger.Info("artifact recorded", "agent", env.Agent, "path", path)
	return path, nil
}
