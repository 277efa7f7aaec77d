package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/joescharf/ticketdesk/internal/models"
)

type styles struct {
	title      lipgloss.Style
	stats      lipgloss.Style
	header     lipgloss.Style
	selected   lipgloss.Style
	dim        lipgloss.Style
	err        lipgloss.Style
	prompt     lipgloss.Style
	open       lipgloss.Style
	inProgress lipgloss.Style
	closed     lipgloss.Style
	unknown    lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		stats:      lipgloss.NewStyle().Foreground(lipgloss.Color("7")),
		header:     lipgloss.NewStyle().Bold(true).Underline(true),
		selected:   lipgloss.NewStyle().Bold(true).Background(lipgloss.Color("237")),
		dim:        lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		err:        lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		prompt:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		open:       lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		inProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		closed:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		unknown:    lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
	}
}

func (s styles) status(st models.TicketStatus) lipgloss.Style {
	switch st {
	case models.TicketStatusOpen:
		return s.open
	case models.TicketStatusInProgress:
		return s.inProgress
	case models.TicketStatusClosed:
		return s.closed
	}
	return s.unknown
}
