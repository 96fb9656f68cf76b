// Package sign re-certifies a staged bundle with the codesign tool. Signing
// is attempted a bounded number of times; when every attempt fails the run
// degrades instead of failing, leaving the bundle unsigned and handing the
// operator the command to finish by hand.
package sign

import (
	"context"
	"fmt"
	"time"

	"github.com/breeze-rmm/reseed/internal/executor"
	"github.com/breeze-rmm/reseed/internal/logging"
	"github.com/breeze-rmm/reseed/internal/retry"
)

const codesignTool = "codesign"

var log = logging.L("sign")

// Engine drives codesign through an executor.Runner so tests can script
// tool behavior without a darwin host.
type Engine struct {
	runner   executor.Runner
	identity string
	attempts uint64
	delay    time.Duration
}

// NewEngine returns an engine signing with identity. The identity "-"
// requests an ad-hoc signature.
func NewEngine(runner executor.Runner, identity string, attempts int, delay time.Duration) *Engine {
	if attempts < 1 {
		attempts = 1
	}
	return &Engine{
		runner:   runner,
		identity: identity,
		attempts: uint64(attempts),
		delay:    delay,
	}
}

// Outcome reports how certification ended. A degraded outcome is not an
// error: the bundle stays usable, it just runs unsigned until the operator
// re-signs it with ManualCommand.
type Outcome struct {
	Signed        bool
	Attempts      int
	Identity      string
	ManualCommand string
	Cause         error
}

func (o Outcome) Degraded() bool { return !o.Signed }

// Strip removes the existing signature from the bundle or binary at path.
// Callers tolerate failures on nested helpers; a bundle that was never
// signed commonly makes codesign exit nonzero here.
func (e *Engine) Strip(ctx context.Context, path string) error {
	res, err := e.runner.Run(ctx, codesignTool, "--remove-signature", path)
	if err != nil {
		return err
	}
	if res.Failed() {
		return res.Err(codesignTool)
	}
	return nil
}

// Certify signs bundlePath and verifies the result, retrying the
// sign-then-verify pair up to the configured attempt count with a fixed
// pause between attempts.
func (e *Engine) Certify(ctx context.Context, bundlePath string) Outcome {
	if _, err := e.runner.LookPath(codesignTool); err != nil {
		log.Warn("codesign not found, leaving bundle unsigned",
			logging.KeyBundle, bundlePath, logging.KeyError, err)
		return e.degraded(bundlePath, 0, err)
	}

	attempt := 0
	err := retry.Do(ctx, e.attempts, e.delay, func() error {
		attempt++
		log.Info("signing bundle",
			logging.KeyBundle, bundlePath, logging.KeyAttempt, attempt)
		if err := e.sign(ctx, bundlePath); err != nil {
			log.Warn("sign attempt failed",
				logging.KeyAttempt, attempt, logging.KeyError, err)
			return err
		}
		if err := e.verify(ctx, bundlePath); err != nil {
			log.Warn("signature did not verify",
				logging.KeyAttempt, attempt, logging.KeyError, err)
			return err
		}
		return nil
	})
	if err != nil {
		log.Warn("all signing attempts failed, run continues unsigned",
			logging.KeyBundle, bundlePath, logging.KeyAttempt, attempt, logging.KeyError, err)
		return e.degraded(bundlePath, attempt, err)
	}

	log.Info("bundle signed and verified",
		logging.KeyBundle, bundlePath, logging.KeyAttempt, attempt)
	return Outcome{Signed: true, Attempts: attempt, Identity: e.identity}
}

func (e *Engine) sign(ctx context.Context, path string) error {
	res, err := e.runner.Run(ctx, codesignTool, "--force", "--deep", "--sign", e.identity, path)
	if err != nil {
		return err
	}
	if res.Failed() {
		return res.Err(codesignTool)
	}
	return nil
}

func (e *Engine) verify(ctx context.Context, path string) error {
	res, err := e.runner.Run(ctx, codesignTool, "--verify", "--deep", "--strict", path)
	if err != nil {
		return err
	}
	if res.Failed() {
		return res.Err(codesignTool)
	}
	return nil
}

func (e *Engine) degraded(bundlePath string, attempts int, cause error) Outcome {
	return Outcome{
		Attempts:      attempts,
		Identity:      e.identity,
		ManualCommand: ManualCommand(e.identity, bundlePath),
		Cause:         cause,
	}
}

// ManualCommand is the codesign invocation an operator runs by hand after
// a degraded run.
func ManualCommand(identity, bundlePath string) string {
	return fmt.Sprintf("codesign --force --deep --sign %s %q", identity, bundlePath)
}
