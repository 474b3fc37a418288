package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"curator/internal/archive"
	"curator/internal/classify"
	"curator/internal/config"
	"curator/internal/intake"
	"curator/internal/ledger"
	"curator/internal/logging"
	"curator/internal/naming"
	"curator/internal/notifications"
	"curator/internal/services"
)

// Orchestrator executes curator operations against the archive, the registry
// document, and the local run ledger. Operations run one at a time; the
// mutex models the single-writer session the registry assumes.
type Orchestrator struct {
	cfg      *config.Config
	store    *ledger.Store
	client   archive.Client
	notifier notifications.Service
	logger   *slog.Logger
	ruleset  intake.Ruleset
	resolver naming.Resolver

	clsOnce sync.Once
	cls     *classify.Classifier
	clsErr  error

	mu sync.Mutex
}

// New wires an orchestrator from its collaborators. A nil notifier falls
// back to the config-derived service; a nil logger logs nowhere.
func New(cfg *config.Config, store *ledger.Store, client archive.Client, notifier notifications.Service, logger *slog.Logger) (*Orchestrator, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "new", "config is required", nil)
	}
	if store == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "new", "ledger store is required", nil)
	}
	if client == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "new", "archive client is required", nil)
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	componentLogger := logging.NewComponentLogger(logger, "workflow")
	componentLogger = logging.WithComponentLevel(componentLogger, "workflow", cfg.Logging.ComponentLevels)
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		client:   client,
		notifier: notifier,
		logger:   componentLogger,
		ruleset:  intake.RulesetFromConfig(cfg),
		resolver: naming.Resolver{Client: client, Resource: cfg.Intake.ResourceLabel},
	}, nil
}

// classifier loads the template set once, on first use, so operations that
// never classify do not require a populated template directory.
func (o *Orchestrator) classifier() (*classify.Classifier, error) {
	o.clsOnce.Do(func() {
		templates, err := classify.LoadTemplates(o.cfg.Paths.TemplateDir)
		if err != nil {
			o.clsErr = err
			return
		}
		o.cls, o.clsErr = classify.New(templates, classify.PolicyFromConfig(o.cfg))
	})
	return o.cls, o.clsErr
}

func (o *Orchestrator) hashWorkers() int {
	if n := o.cfg.Workflow.HashWorkers; n > 0 {
		return n
	}
	return 1
}

// advance persists a lifecycle transition.
func (o *Orchestrator) advance(ctx context.Context, run *ledger.Run, status ledger.Status) error {
	if err := o.store.SetStatus(ctx, run, status); err != nil {
		return services.Wrap(services.ErrTransient, "workflow", "advance",
			fmt.Sprintf("persist %s transition", status), err)
	}
	logging.WithContext(ctx, o.logger).Debug("run advanced",
		logging.String("status", string(status)))
	return nil
}

// finishFailure records a failed run, notifies, and shapes the report.
func (o *Orchestrator) finishFailure(ctx context.Context, run *ledger.Run, report *Report, err error) (*Report, error) {
	if services.FailureStatus(err) == ledger.StatusReview {
		run.SetReview(err.Error())
	} else {
		run.SetFailed(err.Error())
	}
	if uerr := o.store.Update(ctx, run); uerr != nil {
		logging.WithContext(ctx, o.logger).Error("persist run failure", logging.Error(uerr))
	}
	o.notifyFailure(ctx, run, err)
	report.Success = false
	report.Diagnostic = err.Error()
	return report, err
}

func (o *Orchestrator) notifyFailure(ctx context.Context, run *ledger.Run, err error) {
	if run.Status == ledger.StatusReview {
		o.publish(ctx, notifications.EventReviewNeeded, notifications.Payload{
			"case":   run.CaseKey,
			"reason": err.Error(),
		})
		return
	}
	o.publish(ctx, notifications.EventError, notifications.Payload{
		"context": string(run.Op),
		"error":   err.Error(),
	})
}

// publish sends best-effort; notification failures never fail a run.
func (o *Orchestrator) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := o.notifier.Publish(ctx, event, payload); err != nil {
		o.logger.Warn("notification failed",
			logging.String("event", string(event)),
			logging.Error(err))
	}
}
