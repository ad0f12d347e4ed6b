package model

import (
	"net/url"
	"path"
	"strings"
	"time"
)

type Direction string

const (
	Outbound Direction = "out"
	Inbound  Direction = "in"
)

// Status is the lifecycle state of a message. Pending, Sent, Failed and
// Received are set by this service; anything else is an acknowledgment
// reported by the gateway and stored verbatim.
type Status string

const (
	Pending  Status = "Pending"
	Sent     Status = "Sent"
	Failed   Status = "Failed"
	Received Status = "Received"
)

type Message struct {
	ID               int64      `json:"id"`
	Direction        Direction  `json:"direction"`
	Phone            string     `json:"phone"`
	Body             string     `json:"body,omitempty"`
	AttachmentRef    string     `json:"attachmentRef,omitempty"`
	GatewayMessageID *string    `json:"gatewayMessageId,omitempty"`
	Status           Status     `json:"status"`
	Note             *string    `json:"note,omitempty"`
	LinkedDocType    string     `json:"linkedDocType,omitempty"`
	LinkedDocID      string     `json:"linkedDocId,omitempty"`
	SubmittedAt      *time.Time `json:"submittedAt,omitempty"`
	SentAt           *time.Time `json:"sentAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// OutboundRequest is what a producer hands over to create an outbound message.
type OutboundRequest struct {
	Phone         string
	Body          string
	AttachmentRef string
	LinkedDocType string
	LinkedDocID   string
}

const invalidPhoneNote = "WhatsApp message not sent: phone number is missing, not valid, " +
	"or does not include country code (e.g. +14155552671)"

// NewOutbound builds an outbound record from a producer request. The phone
// check runs here and only here: an invalid number yields a Failed record
// carrying the reason in Note, a valid one yields Pending.
func NewOutbound(req OutboundRequest) Message {
	m := Message{
		Direction:     Outbound,
		Phone:         req.Phone,
		Body:          req.Body,
		AttachmentRef: req.AttachmentRef,
		LinkedDocType: req.LinkedDocType,
		LinkedDocID:   req.LinkedDocID,
		Status:        Pending,
	}

	if err := ValidatePhone(req.Phone); err != nil {
		note := invalidPhoneNote + ": " + err.Error()
		m.Status = Failed
		m.Note = &note
	}
	return m
}

// HasGatewayID reports whether the gateway already accepted this message.
func (m Message) HasGatewayID() bool {
	return m.GatewayMessageID != nil && *m.GatewayMessageID != ""
}

// AttachmentName returns the file name an attachment ref points at: the last
// path segment, ignoring any query string or fragment.
func AttachmentName(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	p := ref
	if u, err := url.Parse(ref); err == nil {
		p = u.Path
	}
	name := path.Base(p)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// IsDocumentAttachment reports whether name is a file the gateway accepts as
// an attachment. Only PDF documents qualify.
func IsDocumentAttachment(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".pdf")
}
