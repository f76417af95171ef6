package enums

// AuditAction names an entry in the order audit trail.
type AuditAction string

const (
	AuditActionOrderCreated            AuditAction = "order_created"
	AuditActionManualReferenceRecorded AuditAction = "manual_reference_recorded"
	AuditActionCheckoutSessionCreated  AuditAction = "checkout_session_created"
	AuditActionPaymentOutcomeApplied   AuditAction = "payment_outcome_applied"
	AuditActionPaymentOutcomeRefused   AuditAction = "payment_outcome_refused"
	AuditActionPaymentStatusSet        AuditAction = "payment_status_set"
	AuditActionOrderStatusSet          AuditAction = "order_status_set"
	AuditActionForceRelease            AuditAction = "force_release"
	AuditActionCancelRefund            AuditAction = "cancel_refund"
	AuditActionCommissionRateSet       AuditAction = "commission_rate_set"
)

// ActorSource identifies which trigger produced a change.
type ActorSource string

const (
	ActorSourceBuyer   ActorSource = "buyer"
	ActorSourceAdmin   ActorSource = "admin"
	ActorSourceGateway ActorSource = "gateway"
	ActorSourceSystem  ActorSource = "system"
)
