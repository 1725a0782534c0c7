package graph

import (
	"fmt"
	"time"
)

// ErrorKind classifies a WorkflowError along the retry/propagation axis.
type ErrorKind string

// Error kinds, fixed per the taxonomy: Transient errors may be retried;
// Permanent, User and Business errors never are; System errors are retried
// only when explicitly reclassified as transient by the caller.
const (
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
	KindUser      ErrorKind = "user"
	KindSystem    ErrorKind = "system"
	KindBusiness  ErrorKind = "business"
)

// Severity grades a WorkflowError for alerting and log routing.
type Severity string

// Severities, low to high.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Stable error codes. These match the categorize_error() taxonomy in the
// Rust implementation this module's specification was distilled from, and
// must not be renamed — callers match on them.
const (
	CodeNodeNotFound      = "NODE_404"
	CodeInvalidRouter      = "WF_ROUTER_001"
	CodeCycleDetected      = "WF_CYCLE_001"
	CodeUnreachableNodes   = "WF_UNREACH_001"
	CodeValidationFailed   = "VAL_001"
	CodeSerialization      = "SER_001"
	CodeTransportDisconnect = "MCP_CONN_001"
	CodeProtocolError      = "MCP_PROTO_001"
	CodeIncompatibleVersion = "MCP_VERS_001"
	CodeTransportTimeout   = "MCP_TRANS_001"
	CodeCircuitOpen        = "CB_OPEN_001"
	CodeParallelBranchFailed = "WF_PARALLEL_001"
	CodeBufferOverflow     = "WF_BUFFER_001"
	CodeProcessingError    = "WF_PROC_001"
)

// RecoveryStrategy names the resilience mechanism, if any, that rescued a
// failing call — surfaced for observability and the recovery_attempts
// metric. Grounded on the Rust source's RecoveryStrategy enum.
type RecoveryStrategy string

// Recovery strategies.
const (
	RecoveryNone           RecoveryStrategy = ""
	RecoveryRetry          RecoveryStrategy = "retry"
	RecoveryFallback       RecoveryStrategy = "fallback"
	RecoveryCircuitBreaker RecoveryStrategy = "circuit_breaker"
	RecoveryIgnore         RecoveryStrategy = "ignore"
)

// WorkflowError is the single error envelope surfaced by this package. It
// implements the standard error interface and supports errors.Is/errors.As
// via Unwrap, rather than inventing a parallel exception mechanism.
type WorkflowError struct {
	Kind          ErrorKind
	Severity      Severity
	Code          string
	Message       string
	Context       map[string]any
	CorrelationID string
	CauseChain    []error
	Timestamp     time.Time
	RetryCount    int

	// NodeKey identifies the node that produced the error, when applicable.
	NodeKey string

	// Recovery names the resilience mechanism that was attempted around the
	// call that produced this error, if any. RecoveryNone (the zero value)
	// means no retry/fallback layer was in play.
	Recovery RecoveryStrategy
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	if e.NodeKey != "" {
		return fmt.Sprintf("%s: node %q: %s", e.Code, e.NodeKey, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the immediate cause, the last entry of the cause chain, so
// that errors.Is/errors.As can walk through wrapped WorkflowErrors.
func (e *WorkflowError) Unwrap() error {
	if len(e.CauseChain) == 0 {
		return nil
	}
	return e.CauseChain[len(e.CauseChain)-1]
}

// WithCause appends cause to the error's cause chain verbatim and returns e
// for chaining.
func (e *WorkflowError) WithCause(cause error) *WorkflowError {
	if cause != nil {
		e.CauseChain = append(e.CauseChain, cause)
	}
	return e
}

// NewWorkflowError constructs a WorkflowError with the given kind, code and
// message, stamping the current time. CorrelationID is left empty for the
// caller to fill in (usually via WithCorrelationID) since only the caller
// knows whether a correlation id is already in flight for this request.
func NewWorkflowError(kind ErrorKind, severity Severity, code, message string) *WorkflowError {
	return &WorkflowError{
		Kind:      kind,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Context:   make(map[string]any),
		Timestamp: time.Now(),
	}
}

// WithCorrelationID sets the correlation id and returns e for chaining.
func (e *WorkflowError) WithCorrelationID(id string) *WorkflowError {
	e.CorrelationID = id
	return e
}

// WithContext stores a key/value pair in the error's safe-to-log context map.
func (e *WorkflowError) WithContext(key string, value any) *WorkflowError {
	e.Context[key] = value
	return e
}

// WithNodeKey sets the failed node key and returns e for chaining.
func (e *WorkflowError) WithNodeKey(key string) *WorkflowError {
	e.NodeKey = key
	return e
}

// WithRecovery records which resilience mechanism was attempted around the
// call and returns e for chaining.
func (e *WorkflowError) WithRecovery(strategy RecoveryStrategy) *WorkflowError {
	e.Recovery = strategy
	return e
}

// IsRetryable reports whether the error's kind is one the retry policy
// should ever consider: Transient errors always, System errors only when
// reclassified (callers set Kind = KindTransient explicitly when a System
// error is known to be transient in practice).
func (e *WorkflowError) IsRetryable() bool {
	return e.Kind == KindTransient
}

// Convenience constructors for the fixed taxonomy entries named in this
// package's specification (§4.11).

// ErrNodeNotFound reports that key has no registered node.
func ErrNodeNotFound(key string) *WorkflowError {
	return NewWorkflowError(KindPermanent, SeverityError, CodeNodeNotFound, fmt.Sprintf("node %q not found", key)).
		WithNodeKey(key)
}

// ErrCycleDetected reports a cycle found during compilation, with the path
// of node keys that forms the back-edge.
func ErrCycleDetected(path []string) *WorkflowError {
	return NewWorkflowError(KindPermanent, SeverityCritical, CodeCycleDetected, "cycle detected in workflow graph").
		WithContext("path", path)
}

// ErrInvalidRouter reports that a router returned a key outside its
// declared successor set.
func ErrInvalidRouter(nodeKey, returned string, declared []string) *WorkflowError {
	return NewWorkflowError(KindPermanent, SeverityError, CodeInvalidRouter,
		fmt.Sprintf("router %q returned undeclared successor %q", nodeKey, returned)).
		WithNodeKey(nodeKey).
		WithContext("returned", returned).
		WithContext("declared", declared)
}

// ErrUnreachableNodes reports node keys unreachable from the schema's start
// node under strict-mode validation.
func ErrUnreachableNodes(keys []string) *WorkflowError {
	return NewWorkflowError(KindPermanent, SeverityError, CodeUnreachableNodes, "unreachable nodes in workflow graph").
		WithContext("keys", keys)
}

// ErrValidationFailed reports a schema-level validation failure.
func ErrValidationFailed(message string) *WorkflowError {
	return NewWorkflowError(KindUser, SeverityWarning, CodeValidationFailed, message)
}

// ErrCircuitOpen reports a short-circuited call: the breaker did not invoke
// the protected operation.
func ErrCircuitOpen(service string) *WorkflowError {
	return NewWorkflowError(KindTransient, SeverityWarning, CodeCircuitOpen,
		fmt.Sprintf("circuit breaker open for %q", service)).
		WithContext("service", service)
}

// ErrParallelBranchFailed reports that branch failed permanently, causing
// its siblings to be canceled.
func ErrParallelBranchFailed(branch string, cause error) *WorkflowError {
	return NewWorkflowError(KindPermanent, SeverityError, CodeParallelBranchFailed,
		fmt.Sprintf("parallel branch %q failed", branch)).
		WithContext("branch", branch).
		WithCause(cause)
}

// ErrBufferOverflow reports a full streaming backpressure buffer rejecting
// an enqueue.
func ErrBufferOverflow() *WorkflowError {
	return NewWorkflowError(KindPermanent, SeverityError, CodeBufferOverflow, "stream buffer overflow")
}
