// Package audit provides security and workflow audit logging for SIEM consumption.
// Events are logged in structured JSON format under the "security_audit" logger name.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ekaya-inc/signportal/pkg/logging"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSearchInjectionAttempt is logged when libinjection flags a search filter.
	EventSearchInjectionAttempt SecurityEventType = "search_injection_attempt"
	// EventAccessDenied is logged when a user is refused an action on a document or stage.
	EventAccessDenied SecurityEventType = "access_denied"
	EventLoginFailure SecurityEventType = "login_failure"
	EventLoginSuccess SecurityEventType = "login_success"
	EventUserCreated  SecurityEventType = "user_created"
	// EventStageAssigned and EventStageCompleted trace workflow progression.
	EventStageAssigned  SecurityEventType = "stage_assigned"
	EventStageCompleted SecurityEventType = "stage_completed"
)

// SecurityEvent represents an auditable event with all relevant context.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// InjectionDetails contains specifics of a detected injection attempt.
type InjectionDetails struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// AccessDeniedDetails names what was refused.
type AccessDeniedDetails struct {
	Action     string    `json:"action"`
	Resource   string    `json:"resource"`
	ResourceID uuid.UUID `json:"resource_id"`
	Reason     string    `json:"reason,omitempty"`
}

// StageDetails identifies a workflow stage transition.
type StageDetails struct {
	DocumentID uuid.UUID  `json:"document_id"`
	StageID    uuid.UUID  `json:"stage_id"`
	AssigneeID *uuid.UUID `json:"assignee_id,omitempty"`
	VersionID  *uuid.UUID `json:"version_id,omitempty"`
}

type clientIPKey struct{}

// WithClientIP records the caller's address for events logged further down the request.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the address stored by WithClientIP.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

func (a *SecurityAuditor) log(ctx context.Context, level zapcore.Level, msg string, eventType SecurityEventType, userID uuid.UUID, severity string, details any, fields ...zap.Field) {
	uid := ""
	if userID != uuid.Nil {
		uid = userID.String()
	}
	clientIP := ClientIPFromContext(ctx)

	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    uid,
		ClientIP:  clientIP,
		Details:   details,
		Severity:  severity,
	}

	// Ignoring error as marshaling known types should never fail
	eventJSON, _ := json.Marshal(event)

	fields = append(fields,
		zap.String("event_json", string(eventJSON)),
		zap.String("event_type", string(eventType)),
		zap.String("user_id", uid),
		zap.String("client_ip", clientIP),
		zap.String("severity", severity),
	)
	if ce := a.logger.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

// LogInjectionAttempt records a search filter rejected by libinjection.
// Logged at ERROR level with "critical" severity for immediate alerting.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, userID uuid.UUID, details InjectionDetails) {
	details.ParamValue = logging.SanitizeUserInput(details.ParamValue)
	a.log(ctx, zapcore.ErrorLevel, "SQL injection attempt detected", EventSearchInjectionAttempt, userID, "critical", details,
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
	)
}

// LogAccessDenied records a refused action. Logged at WARN level.
func (a *SecurityAuditor) LogAccessDenied(ctx context.Context, userID uuid.UUID, details AccessDeniedDetails) {
	a.log(ctx, zapcore.WarnLevel, "Access denied", EventAccessDenied, userID, "warning", details,
		zap.String("action", details.Action),
		zap.String("resource", details.Resource),
		zap.String("resource_id", details.ResourceID.String()),
	)
}

// LogLoginFailure records a failed sign-in. The password is never logged.
func (a *SecurityAuditor) LogLoginFailure(ctx context.Context, email string) {
	email = logging.SanitizeUserInput(email)
	a.log(ctx, zapcore.WarnLevel, "Login failed", EventLoginFailure, uuid.Nil, "warning",
		map[string]string{"email": email}, zap.String("email", email))
}

// LogLoginSuccess records a successful sign-in.
func (a *SecurityAuditor) LogLoginSuccess(ctx context.Context, userID uuid.UUID) {
	a.log(ctx, zapcore.InfoLevel, "Login succeeded", EventLoginSuccess, userID, "info", nil)
}

// LogUserCreated records an account created by an administrator.
func (a *SecurityAuditor) LogUserCreated(ctx context.Context, actorID, createdID uuid.UUID, role string) {
	a.log(ctx, zapcore.InfoLevel, "User created", EventUserCreated, actorID, "info",
		map[string]string{"created_user_id": createdID.String(), "role": role},
		zap.String("created_user_id", createdID.String()),
		zap.String("role", role),
	)
}

// LogStageAssigned records an assignment made by actorID.
func (a *SecurityAuditor) LogStageAssigned(ctx context.Context, actorID uuid.UUID, details StageDetails) {
	a.log(ctx, zapcore.InfoLevel, "Workflow stage assigned", EventStageAssigned, actorID, "info", details,
		zap.String("document_id", details.DocumentID.String()),
		zap.String("stage_id", details.StageID.String()),
	)
}

// LogStageCompleted records a stage completed by uploaderID's signed version.
func (a *SecurityAuditor) LogStageCompleted(ctx context.Context, uploaderID uuid.UUID, details StageDetails) {
	a.log(ctx, zapcore.InfoLevel, "Workflow stage completed", EventStageCompleted, uploaderID, "info", details,
		zap.String("document_id", details.DocumentID.String()),
		zap.String("stage_id", details.StageID.String()),
	)
}
