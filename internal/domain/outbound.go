package domain

// TaskKind identifies why an outbound email is being sent.
type TaskKind string

const (
	TaskAutoResponse     TaskKind = "auto_response"
	TaskReminder         TaskKind = "reminder"
	TaskCloseNotice      TaskKind = "close_notice"
	TaskEscalationNotice TaskKind = "escalation_notice"
	TaskReply            TaskKind = "reply"
	TaskAssignmentNotice TaskKind = "assignment_notice"
)

// OutboundTask is a durable intent to send an email, written alongside the
// state change that produced it.
type OutboundTask struct {
	Kind           TaskKind
	ShopID         int64
	ConversationID *int64
	StaffID        *int64
	Envelope       Envelope
	// RecordMessage stores the delivered email as an outbound Message on the conversation.
	RecordMessage bool
}
