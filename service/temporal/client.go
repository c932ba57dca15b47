package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/brojonat/satsforward/service/blink"
	"github.com/brojonat/satsforward/service/donation"
)

// ErrSettlementNotFound is returned when no settlement workflow has the given id.
var ErrSettlementNotFound = errors.New("settlement not found")

// workflowGrace is added to the payment timeout to bound the whole workflow.
const workflowGrace = 15 * time.Minute

// Client starts and inspects settlement workflows.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartSettlement starts the settlement workflow for an issued invoice. It
// returns donation.ErrSettlementInProgress if the user already has one running.
func (c *Client) StartSettlement(ctx context.Context, req donation.Request, inv *blink.Invoice, paymentTimeout time.Duration) (string, error) {
	id := WorkflowID(req.UserID)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       id,
		TaskQueue:                                c.taskQueue,
		WorkflowExecutionTimeout:                 paymentTimeout + workflowGrace,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
		Memo: map[string]interface{}{
			"user_id":      req.UserID,
			"amount_sats":  req.AmountSats,
			"payment_hash": inv.PaymentHash,
		},
	}, SettleDonationWorkflow, SettleDonationInput{
		Request:        req,
		Invoice:        *inv,
		PaymentTimeout: paymentTimeout,
	})
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return "", fmt.Errorf("%w: workflow %s", donation.ErrSettlementInProgress, id)
		}
		c.logger.Error("failed to start settlement", "workflow_id", id, "error", err)
		return "", fmt.Errorf("failed to start settlement workflow: %w", err)
	}

	c.logger.Info("settlement workflow started",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
		"user_id", req.UserID,
		"amount_sats", req.AmountSats,
	)
	return run.GetID(), nil
}

// SettlementStatus returns the latest run of the settlement workflow id. A running
// settlement is queried for its stage; a closed one returns its final result.
func (c *Client) SettlementStatus(ctx context.Context, id string) (*SettleDonationResult, error) {
	desc, err := c.client.DescribeWorkflowExecution(ctx, id, "")
	if err != nil {
		return nil, c.translate(err, id)
	}

	var result SettleDonationResult
	if desc.WorkflowExecutionInfo.GetStatus() == enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING {
		val, err := c.client.QueryWorkflow(ctx, id, "", QueryStatus)
		if err != nil {
			return nil, fmt.Errorf("failed to query settlement %s: %w", id, err)
		}
		if err := val.Get(&result); err != nil {
			return nil, fmt.Errorf("failed to decode settlement status: %w", err)
		}
		return &result, nil
	}

	if err := c.client.GetWorkflow(ctx, id, "").Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("settlement %s did not complete: %w", id, err)
	}
	return &result, nil
}

// CancelSettlement requests cancellation of a settlement. It only takes effect
// while the workflow is waiting for payment.
func (c *Client) CancelSettlement(ctx context.Context, id string) error {
	if err := c.client.CancelWorkflow(ctx, id, ""); err != nil {
		return c.translate(err, id)
	}
	c.logger.Info("settlement cancellation requested", "workflow_id", id)
	return nil
}

func (c *Client) translate(err error, id string) error {
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", ErrSettlementNotFound, id)
	}
	return fmt.Errorf("workflow %s: %w", id, err)
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
