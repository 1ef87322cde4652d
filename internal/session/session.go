// Package session keeps per-user view preferences for the positions list
// and pages positions according to them.
package session

import (
	"sort"
	"strings"

	"github.com/kjannette/trahn-swapbot/internal/models"
)

const PageSize = 9

type Preferences struct {
	HideZeroBalances bool   `json:"hideZeroBalances"`
	CurrentPage      int    `json:"currentPage"`
	SelectedToken    string `json:"selectedToken,omitempty"`
}

type Page struct {
	Positions     []models.Position `json:"positions"`
	Page          int               `json:"page"`
	TotalPages    int               `json:"totalPages"`
	Shown         int               `json:"shown"`
	Total         int               `json:"total"`
	SelectedToken string            `json:"selectedToken,omitempty"`
	Selected      *models.Position  `json:"selected,omitempty"`
}

// Paginate filters, sorts by symbol and slices positions. It returns the
// preferences as resolved: page clamped into range and, when nothing is
// selected, the first listed token selected.
func Paginate(positions []models.Position, prefs Preferences) (Page, Preferences) {
	visible := make([]models.Position, 0, len(positions))
	for _, p := range positions {
		if prefs.HideZeroBalances && p.TotalTokens <= 0 {
			continue
		}
		visible = append(visible, p)
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return strings.ToLower(visible[i].TokenSymbol) < strings.ToLower(visible[j].TokenSymbol)
	})

	totalPages := (len(visible) + PageSize - 1) / PageSize
	if prefs.CurrentPage >= totalPages {
		prefs.CurrentPage = totalPages - 1
	}
	if prefs.CurrentPage < 0 {
		prefs.CurrentPage = 0
	}
	if prefs.SelectedToken == "" && len(visible) > 0 {
		prefs.SelectedToken = visible[0].TokenAddress
	}

	start := prefs.CurrentPage * PageSize
	end := min(start+PageSize, len(visible))
	page := Page{
		Positions:     visible[start:end],
		Page:          prefs.CurrentPage,
		TotalPages:    totalPages,
		Shown:         len(visible),
		Total:         len(positions),
		SelectedToken: prefs.SelectedToken,
	}
	for i := range positions {
		if strings.EqualFold(positions[i].TokenAddress, prefs.SelectedToken) {
			sel := positions[i]
			page.Selected = &sel
			break
		}
	}
	return page, prefs
}
