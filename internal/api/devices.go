package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/powersensor-core/internal/device"
)

// DeviceView is a materialized device decorated with live state.
type DeviceView struct {
	device.Device

	// Connected is true while the dispatcher holds a live plug connection.
	// Always false for sensors.
	Connected bool `json:"connected"`

	// PersistedRole is the role the role store holds, which may be newer
	// than the role last materialized.
	PersistedRole string `json:"persisted_role,omitempty"`
}

// handleListDevices returns all materialized devices sorted by MAC.
//
// Query parameters:
//   - kind: filter by kind (plug, sensor)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var devices []device.Device
	if kindStr := r.URL.Query().Get("kind"); kindStr != "" {
		kind := device.Kind(kindStr)
		if err := device.ValidateKind(kind); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		devices = s.registry.ListByKind(ctx, kind)
	} else {
		devices = s.registry.ListDevices(ctx)
	}

	roles := s.persistedRoles()
	views := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, s.decorate(d, roles))
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

// handleGetDevice returns one device by MAC.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")
	if err := device.ValidateMAC(mac); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	d, err := s.registry.GetByMAC(r.Context(), mac)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("failed to get device", "mac", mac, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, s.decorate(*d, s.persistedRoles()))
}

// handleDeviceStats returns registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStats())
}

func (s *Server) persistedRoles() map[string]string {
	if s.roles == nil {
		return nil
	}
	return s.roles.Roles()
}

func (s *Server) decorate(d device.Device, roles map[string]string) DeviceView {
	v := DeviceView{Device: d, PersistedRole: roles[d.MAC]}
	if d.Kind == device.KindPlug && s.dispatcher != nil {
		v.Connected = s.dispatcher.IsLive(d.MAC)
	}
	return v
}
