package dispatch

import (
	"time"

	"github.com/smallbiznis/reminder/internal/consolidation/domain"
)

// SendMessage is the JSON body published for the mail worker.
type SendMessage struct {
	DispatchID   string            `json:"dispatch_id"`
	ReminderID   string            `json:"reminder_id"`
	CompanyID    string            `json:"company_id"`
	CustomerID   string            `json:"customer_id"`
	To           string            `json:"to"`
	Subject      string            `json:"subject"`
	HTMLBody     string            `json:"html_body"`
	Language     string            `json:"language"`
	ScheduledFor *time.Time        `json:"scheduled_for,omitempty"`
	Attachments  []AttachmentBody  `json:"attachments,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type AttachmentBody struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// StatusMessage is what the mail worker reports back on the status queue.
type StatusMessage struct {
	ReminderID string     `json:"reminder_id"`
	DispatchID string     `json:"dispatch_id"`
	Status     string     `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

func newSendMessage(dispatchID string, req domain.SendRequest) SendMessage {
	attachments := make([]AttachmentBody, 0, len(req.Attachments))
	for _, att := range req.Attachments {
		attachments = append(attachments, AttachmentBody{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Content:     att.Content,
		})
	}
	return SendMessage{
		DispatchID:   dispatchID,
		ReminderID:   req.ReminderID.String(),
		CompanyID:    req.CompanyID.String(),
		CustomerID:   req.CustomerID.String(),
		To:           req.To,
		Subject:      req.Subject,
		HTMLBody:     req.Body,
		Language:     req.Language,
		ScheduledFor: req.ScheduledFor,
		Attachments:  attachments,
		Metadata:     req.Metadata,
	}
}
