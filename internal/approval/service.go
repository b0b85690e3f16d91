package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nightmare634/voidstream/internal/action"
	"github.com/nightmare634/voidstream/internal/audit"
	"github.com/nightmare634/voidstream/internal/domain"
	"github.com/nightmare634/voidstream/internal/platform/metrics"
	"github.com/nightmare634/voidstream/internal/record"
	dErrors "github.com/nightmare634/voidstream/pkg/domain-errors"
	"github.com/nightmare634/voidstream/pkg/platform/sentinel"
	pstrings "github.com/nightmare634/voidstream/pkg/platform/strings"
)

// ActionExecutor is the gate's view of the stream state machine.
type ActionExecutor interface {
	Execute(ctx context.Context, req action.Request) (domain.Stream, error)
}

// Workflow manages owner contexts and the approval lifecycle. The quorum
// check-and-execute is serialized per approval id through the Locker plus a
// pending-only conditional status transition, so a racing second approver
// can never re-execute the action.
type Workflow struct {
	records  record.Store
	executor ActionExecutor
	ledger   *audit.Ledger
	locker   Locker
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// Option configures the Workflow.
type Option func(*Workflow)

// WithLocker overrides the default in-process locker.
func WithLocker(l Locker) Option {
	return func(w *Workflow) { w.locker = l }
}

// WithMetrics attaches resolution counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

// NewWorkflow creates an approval Workflow.
func NewWorkflow(records record.Store, executor ActionExecutor, ledger *audit.Ledger, logger *slog.Logger, opts ...Option) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Workflow{
		records:  records,
		executor: executor,
		ledger:   ledger,
		locker:   NewMutexLocker(),
		logger:   logger,
		tracer:   otel.Tracer("voidstream/approval"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Result is the outcome of an approval operation.
type Result struct {
	Approval domain.Approval
	Executed bool
	// Stream is set when the underlying action ran as part of this call.
	Stream *domain.Stream
}

// SubmitRequest is the produced request-action entry point: depending on the
// current context's mode the action either executes immediately or becomes a
// pending approval.
type SubmitRequest struct {
	Action      string
	StreamID    string
	Payload     map[string]any
	RequestedBy string
	Signature   string
	ContextID   string // empty resolves to the latest context
}

// Submit executes the action directly when the resolved context is not in
// consensus mode, and otherwise creates a pending approval.
func (w *Workflow) Submit(ctx context.Context, req SubmitRequest) (Result, error) {
	if req.Action == "" {
		return Result{}, dErrors.New(dErrors.CodeValidation, "missing action")
	}
	if req.RequestedBy == "" {
		return Result{}, dErrors.New(dErrors.CodeValidation, "missing requester")
	}

	approvalCtx, err := w.resolveContext(ctx, req.ContextID)
	if err != nil {
		// An explicit context id that cannot be resolved is a caller error,
		// but a deployment with no context at all runs consensus-off.
		if req.ContextID != "" || !dErrors.HasCode(err, dErrors.CodeNotFound) {
			return Result{}, err
		}
		approvalCtx = domain.ApprovalContext{}
	}

	if !approvalCtx.ConsensusEnabled() {
		stream, err := w.executor.Execute(ctx, action.Request{
			StreamID:  req.StreamID,
			Action:    req.Action,
			Actor:     req.RequestedBy,
			Payload:   req.Payload,
			Signature: req.Signature,
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Executed: true, Stream: &stream}, nil
	}

	// The settlement signature rides the parked payload so the executor
	// still receives it when quorum lands later.
	payload := req.Payload
	if req.Signature != "" {
		payload = make(map[string]any, len(req.Payload)+1)
		for k, v := range req.Payload {
			payload[k] = v
		}
		payload["signature"] = req.Signature
	}

	return w.RequestApproval(ctx, RequestInput{
		Action:      req.Action,
		StreamID:    req.StreamID,
		Payload:     payload,
		RequestedBy: req.RequestedBy,
		ContextID:   approvalCtx.ID,
	})
}

// RequestInput describes one gated-action request.
type RequestInput struct {
	Action      string
	StreamID    string
	Payload     map[string]any
	RequestedBy string
	ContextID   string // empty resolves to the latest context
}

// RequestApproval creates a pending approval under the resolved context.
func (w *Workflow) RequestApproval(ctx context.Context, in RequestInput) (Result, error) {
	if in.Action == "" {
		return Result{}, dErrors.New(dErrors.CodeValidation, "missing action")
	}
	approvalCtx, err := w.resolveContext(ctx, in.ContextID)
	if err != nil {
		return Result{}, err
	}

	requestedBy := in.RequestedBy
	if requestedBy == "" {
		requestedBy = "unknown"
	}
	fields := record.Fields{
		fieldContext:     approvalCtx.ID,
		fieldAction:      in.Action,
		fieldStatus:      string(domain.ApprovalPending),
		fieldRequestedBy: requestedBy,
		fieldApprovers:   []string{},
	}
	if in.StreamID != "" {
		fields[fieldStream] = in.StreamID
	}
	if in.Payload != nil {
		fields[fieldPayload] = in.Payload
	}

	rec, err := w.records.Create(ctx, record.CollectionApprovals, fields)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create approval")
	}
	return Result{Approval: approvalFromRecord(rec)}, nil
}

// Approve adds one owner sign-off and, on quorum, executes the stored action
// exactly once before marking the approval executed.
func (w *Workflow) Approve(ctx context.Context, approvalID, approver string) (Result, error) {
	if approvalID == "" {
		return Result{}, dErrors.New(dErrors.CodeValidation, "missing approvalId")
	}
	if approver == "" {
		return Result{}, dErrors.New(dErrors.CodeValidation, "missing approver")
	}

	ctx, span := w.tracer.Start(ctx, "approval.Approve",
		trace.WithAttributes(attribute.String("approval.id", approvalID)))
	defer span.End()

	unlock, err := w.locker.Acquire(ctx, approvalID)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to serialize approval")
	}
	defer unlock()

	approval, err := w.loadApproval(ctx, approvalID)
	if err != nil {
		return Result{}, err
	}
	if approval.Status != domain.ApprovalPending {
		return Result{}, dErrors.Newf(dErrors.CodeConflict, "approval is %s, not pending", approval.Status)
	}

	owners, err := w.ownersOf(ctx, approval.ContextID)
	if err != nil {
		return Result{}, err
	}
	if !contains(owners, approver) {
		return Result{}, dErrors.New(dErrors.CodeForbidden, "approver is not an owner")
	}

	// Idempotent membership: re-approving by the same owner contributes once.
	nextApprovers := approval.Approvers
	if !approval.HasApprover(approver) {
		nextApprovers = append(append([]string{}, approval.Approvers...), approver)
	}

	quorum := domain.QuorumForOwners(owners)
	if len(nextApprovers) < quorum {
		rec, err := w.records.Update(ctx, record.CollectionApprovals, approvalID,
			record.Fields{fieldApprovers: nextApprovers})
		if err != nil {
			return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record approval")
		}
		return Result{Approval: approvalFromRecord(rec)}, nil
	}

	// Quorum met: the pending->approved transition is the single-execution
	// gate. Whoever wins this conditional update runs the action; a racer
	// that lost the lock observes "not pending" above.
	rec, err := w.records.UpdateIf(ctx, record.CollectionApprovals, approvalID,
		record.Fields{fieldApprovers: nextApprovers, fieldStatus: string(domain.ApprovalApproved)},
		record.Fields{fieldStatus: string(domain.ApprovalPending)},
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return Result{}, dErrors.New(dErrors.CodeConflict, "approval is no longer pending")
		}
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to approve")
	}
	approved := approvalFromRecord(rec)
	w.metrics.IncApprovalResolved(string(domain.ApprovalApproved))

	result := Result{Approval: approved}
	if approved.StreamID != "" {
		signature, _ := approved.Payload["signature"].(string)
		stream, err := w.executor.Execute(ctx, action.Request{
			StreamID:  approved.StreamID,
			Action:    approved.Action,
			Actor:     approved.RequestedBy,
			Payload:   approved.Payload,
			Signature: signature,
			Meta: map[string]any{
				"approvalId": approvalID,
				"approvers":  nextApprovers,
				"approvedBy": approver,
			},
		})
		if err != nil {
			// The approval stays approved; executed is only recorded after
			// the action actually ran.
			return Result{}, err
		}
		result.Stream = &stream
	}

	executedRec, err := w.records.Update(ctx, record.CollectionApprovals, approvalID,
		record.Fields{fieldStatus: string(domain.ApprovalExecuted)})
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark approval executed")
	}
	result.Approval = approvalFromRecord(executedRec)
	result.Executed = true
	w.metrics.IncApprovalResolved(string(domain.ApprovalExecuted))
	return result, nil
}

// Reject moves a pending approval to the terminal rejected state.
func (w *Workflow) Reject(ctx context.Context, approvalID, approver string) (Result, error) {
	if approvalID == "" {
		return Result{}, dErrors.New(dErrors.CodeValidation, "missing approvalId")
	}
	if approver == "" {
		return Result{}, dErrors.New(dErrors.CodeValidation, "missing approver")
	}

	unlock, err := w.locker.Acquire(ctx, approvalID)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to serialize approval")
	}
	defer unlock()

	approval, err := w.loadApproval(ctx, approvalID)
	if err != nil {
		return Result{}, err
	}
	if approval.Status != domain.ApprovalPending {
		return Result{}, dErrors.Newf(dErrors.CodeConflict, "approval is %s, not pending", approval.Status)
	}

	owners, err := w.ownersOf(ctx, approval.ContextID)
	if err != nil {
		return Result{}, err
	}
	if !contains(owners, approver) {
		return Result{}, dErrors.New(dErrors.CodeForbidden, "approver is not an owner")
	}

	rec, err := w.records.UpdateIf(ctx, record.CollectionApprovals, approvalID,
		record.Fields{fieldStatus: string(domain.ApprovalRejected)},
		record.Fields{fieldStatus: string(domain.ApprovalPending)},
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return Result{}, dErrors.New(dErrors.CodeConflict, "approval is no longer pending")
		}
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reject")
	}
	w.metrics.IncApprovalResolved(string(domain.ApprovalRejected))

	w.ledger.TryAppend(ctx, domain.AuditEntry{
		StreamID: approval.StreamID,
		Type:     "reject",
		Message:  fmt.Sprintf("Approval rejected: %s", approval.Action),
		Actor:    approver,
		Meta: map[string]any{
			"approvalId": approvalID,
			"action":     approval.Action,
		},
	})
	return Result{Approval: approvalFromRecord(rec)}, nil
}

// ListPending returns pending approvals for a context, newest-first.
func (w *Workflow) ListPending(ctx context.Context, contextID string) ([]domain.Approval, error) {
	if contextID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "missing contextId")
	}
	recs, err := w.records.List(ctx, record.CollectionApprovals,
		fmt.Sprintf("context = %q && status = %q", contextID, domain.ApprovalPending))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list approvals")
	}
	out := make([]domain.Approval, 0, len(recs))
	for _, rec := range recs {
		out = append(out, approvalFromRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out, nil
}

// LatestContext returns the current owner-set configuration: the context most
// recently created.
func (w *Workflow) LatestContext(ctx context.Context) (domain.ApprovalContext, error) {
	recs, err := w.records.List(ctx, record.CollectionContexts, "")
	if err != nil {
		return domain.ApprovalContext{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list contexts")
	}
	if len(recs) == 0 {
		return domain.ApprovalContext{}, dErrors.New(dErrors.CodeNotFound, "no approval context configured")
	}
	latest := recs[0]
	for _, rec := range recs[1:] {
		if rec.Created.After(latest.Created) {
			latest = rec
		}
	}
	return contextFromRecord(latest), nil
}

// CreateContext installs a new owner-set configuration, superseding prior
// contexts by recency without deleting them.
func (w *Workflow) CreateContext(ctx context.Context, mode domain.ContextMode, owners []string) (domain.ApprovalContext, error) {
	switch mode {
	case domain.ModeOperator, domain.ModeConsensus:
	default:
		return domain.ApprovalContext{}, dErrors.Newf(dErrors.CodeValidation, "unknown context mode %q", mode)
	}
	unique := pstrings.DedupeAndTrim(owners)
	if mode == domain.ModeConsensus && len(unique) == 0 {
		return domain.ApprovalContext{}, dErrors.New(dErrors.CodeValidation, "consensus mode requires at least one owner")
	}

	rec, err := w.records.Create(ctx, record.CollectionContexts, record.Fields{
		fieldMode:   string(mode),
		fieldOwners: unique,
	})
	if err != nil {
		return domain.ApprovalContext{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create context")
	}
	return contextFromRecord(rec), nil
}

func (w *Workflow) resolveContext(ctx context.Context, contextID string) (domain.ApprovalContext, error) {
	if contextID == "" {
		return w.LatestContext(ctx)
	}
	rec, err := w.records.Get(ctx, record.CollectionContexts, contextID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domain.ApprovalContext{}, dErrors.New(dErrors.CodeNotFound, "context not found")
		}
		return domain.ApprovalContext{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load context")
	}
	return contextFromRecord(rec), nil
}

func (w *Workflow) loadApproval(ctx context.Context, id string) (domain.Approval, error) {
	rec, err := w.records.Get(ctx, record.CollectionApprovals, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domain.Approval{}, dErrors.New(dErrors.CodeNotFound, "approval not found")
		}
		return domain.Approval{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval")
	}
	return approvalFromRecord(rec), nil
}

func (w *Workflow) ownersOf(ctx context.Context, contextID string) ([]string, error) {
	approvalCtx, err := w.resolveContext(ctx, contextID)
	if err != nil {
		return nil, err
	}
	return approvalCtx.Owners, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
