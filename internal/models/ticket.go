package models

import (
	"strings"
	"time"
)

// TicketStatus represents the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusClosed     TicketStatus = "closed"
)

// TicketStatuses lists the recognized statuses in display order.
var TicketStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusInProgress,
	TicketStatusClosed,
}

// Valid reports whether s is one of the recognized statuses.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusClosed:
		return true
	}
	return false
}

// ParseTicketStatus normalizes user input ("In Progress", "in-progress") to a TicketStatus.
// The second return value is false for anything outside the recognized set.
func ParseTicketStatus(s string) (TicketStatus, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	status := TicketStatus(norm)
	return status, status.Valid()
}

// DefaultPriority is applied when a ticket is created without a priority.
const DefaultPriority = "medium"

// Ticket is a single support request.
type Ticket struct {
	ID        int64        `json:"id"`
	Username  string       `json:"username"`
	Message   string       `json:"message"`
	ImageURL  *string      `json:"image_url"`
	Priority  string       `json:"priority"`
	Status    TicketStatus `json:"status"`
	Version   int64        `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// TicketStats holds per-status counts over a set of tickets.
type TicketStats struct {
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Closed     int `json:"closed"`
	Total      int `json:"total"`
}

// CountByStatus tallies tickets by status. Rows with an unrecognized
// status only count toward Total.
func CountByStatus(tickets []*Ticket) TicketStats {
	var st TicketStats
	for _, t := range tickets {
		st.Total++
		switch t.Status {
		case TicketStatusOpen:
			st.Open++
		case TicketStatusInProgress:
			st.InProgress++
		case TicketStatusClosed:
			st.Closed++
		}
	}
	return st
}
