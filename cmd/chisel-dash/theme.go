package main

import "github.com/charmbracelet/lipgloss"

// Theme holds the color palette for the chisel dashboard.
type Theme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
}

// DefaultTheme returns the standard ANSI palette.
func DefaultTheme() Theme {
	return Theme{
		Primary: lipgloss.Color("12"),  // blue
		Success: lipgloss.Color("10"),  // green
		Warning: lipgloss.Color("11"),  // yellow
		Error:   lipgloss.Color("9"),   // red
		Muted:   lipgloss.Color("240"), // gray
	}
}
