package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prudhvinik1/moonbattery/internal/models"
	"github.com/prudhvinik1/moonbattery/internal/services"
	"go.uber.org/zap"
)

type DeviceHandler struct {
	devices *services.DeviceService
	logger  *zap.Logger
}

func NewDeviceHandler(devices *services.DeviceService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{devices: devices, logger: logger.Named("device_handler")}
}

type registerRequest struct {
	MacAddress string `json:"macAddress"`
}

type registerResponse struct {
	SerialNumber string `json:"serialNumber"`
	Token        string `json:"token"`
}

type pingResponse struct {
	Status      string    `json:"status"`
	LastContact time.Time `json:"lastContact"`
}

type setConfigurationsRequest struct {
	Configurations models.ConfigurationSet `json:"configurations"`
}

type setConfigurationsResponse struct {
	Status      string   `json:"status"`
	UpdatedKeys []string `json:"updatedKeys"`
}

type configurationsResponse struct {
	SerialNumber   string            `json:"serialNumber"`
	Configurations map[string]string `json:"configurations"`
}

type presenceResponse struct {
	SerialNumber string     `json:"serialNumber"`
	Status       string     `json:"status"`
	LastSeen     *time.Time `json:"lastSeen,omitempty"`
}

func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid request body")
		return
	}

	result, err := h.devices.Register(r.Context(), req.MacAddress)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{
		SerialNumber: result.SerialNumber,
		Token:        result.Token,
	})
}

func (h *DeviceHandler) Ping(w http.ResponseWriter, r *http.Request) {
	device, ok := DeviceFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "Authentication required")
		return
	}

	result, err := h.devices.Ping(r.Context(), device.SerialNumber, device.DeviceID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, pingResponse{
		Status:      result.Status,
		LastContact: result.LastContact,
	})
}

func (h *DeviceHandler) SetConfigurations(w http.ResponseWriter, r *http.Request) {
	device, ok := DeviceFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "Authentication required")
		return
	}

	var req setConfigurationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid request body: "+err.Error())
		return
	}

	result, err := h.devices.SetConfigurations(r.Context(), device.SerialNumber, req.Configurations)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, setConfigurationsResponse{
		Status:      result.Status,
		UpdatedKeys: result.UpdatedKeys,
	})
}

func (h *DeviceHandler) GetConfigurations(w http.ResponseWriter, r *http.Request) {
	device, ok := DeviceFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "Authentication required")
		return
	}

	configurations, err := h.devices.GetConfigurations(r.Context(), device.SerialNumber)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, configurationsResponse{
		SerialNumber:   device.SerialNumber,
		Configurations: configurations,
	})
}

func (h *DeviceHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	device, ok := DeviceFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "Authentication required")
		return
	}

	presence, err := h.devices.GetPresence(r.Context(), device.SerialNumber)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	resp := presenceResponse{SerialNumber: presence.SerialNumber, Status: presence.Status}
	if !presence.LastSeen.IsZero() {
		resp.LastSeen = &presence.LastSeen
	}
	writeJSON(w, http.StatusOK, resp)
}
