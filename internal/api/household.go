package api

import (
	"net/http"

	"github.com/nerrad567/powersensor-core/internal/discovery"
)

// HouseholdResponse is the current set of household figures.
type HouseholdResponse struct {
	Solar   bool               `json:"solar"`
	Figures map[string]float64 `json:"figures"`
}

// handleHousehold returns the latest household figures. Figures appear only
// after the readings they depend on have arrived.
func (s *Server) handleHousehold(w http.ResponseWriter, _ *http.Request) {
	if s.household == nil {
		writeUnavailable(w, "household aggregation is disabled")
		return
	}
	writeJSON(w, http.StatusOK, HouseholdResponse{
		Solar:   s.household.SolarEnabled(),
		Figures: s.household.Figures(),
	})
}

// handleDispatcher returns the dispatcher's connection and queue state.
func (s *Server) handleDispatcher(w http.ResponseWriter, _ *http.Request) {
	if s.dispatcher == nil {
		writeUnavailable(w, "dispatcher is not running")
		return
	}
	writeJSON(w, http.StatusOK, s.dispatcher.Status())
}

// DiscoveryResponse lists the plugs currently advertised over mDNS.
type DiscoveryResponse struct {
	Services        []discovery.Record `json:"services"`
	PendingRemovals int                `json:"pending_removals"`
	BrowseRestarts  uint64             `json:"browse_restarts"`
}

// handleDiscovery returns the resolved mDNS services and removals still
// waiting out their debounce.
func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	if s.discovery == nil {
		writeUnavailable(w, "discovery is disabled")
		return
	}
	resp := DiscoveryResponse{
		Services:        s.discovery.Records(),
		PendingRemovals: s.discovery.PendingRemovals(),
	}
	if s.browser != nil {
		resp.BrowseRestarts = s.browser.Restarts()
	}
	writeJSON(w, http.StatusOK, resp)
}
