// Package model holds the wire and domain types shared across the pipeline.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ProcessorType identifies which upstream processor handled (or should
// handle) a payment.
type ProcessorType string

const (
	ProcessorDefault  ProcessorType = "default"
	ProcessorFallback ProcessorType = "fallback"
)

// PaymentRequest is the client-supplied payload accepted at ingress.
// Immutable once constructed.
type PaymentRequest struct {
	CorrelationID uuid.UUID
	Amount        Decimal
}

// ProcessorRequest is built immediately before a processor POST.
type ProcessorRequest struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	Amount        Decimal   `json:"amount"`
	RequestedAt   time.Time `json:"requestedAt"`
}

// ProcessedPayment is the ledger record written after a successful POST.
type ProcessedPayment struct {
	CorrelationID uuid.UUID     `json:"correlationId"`
	Amount        Decimal       `json:"amount"`
	ProcessedAt   time.Time     `json:"processedAt"`
	ProcessorUsed ProcessorType `json:"processorUsed"`
}

// QueueItem is what the ingress adapter hands to the bounded queue.
type QueueItem struct {
	Payment  PaymentRequest
	Deadline time.Time
}
