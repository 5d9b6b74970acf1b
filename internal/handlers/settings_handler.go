package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/offline-wallet/internal/models"
	"github.com/ruralpay/offline-wallet/internal/services"
)

type NetworkStatusSource interface {
	Status() models.NetworkStatus
}

type PreferencesRepository interface {
	Get(ctx context.Context) (models.NotificationPreferences, error)
	Save(ctx context.Context, prefs models.NotificationPreferences) error
}

// KeyVault is the lock control of the credential store
type KeyVault interface {
	Clear()
	Reload() error
	Locked() bool
}

// SettingsHandler serves connectivity, notification preferences and the
// keystore lock.
type SettingsHandler struct {
	network   NetworkStatusSource
	prefs     PreferencesRepository
	vault     KeyVault
	validator *services.ValidationHelper
}

func NewSettingsHandler(network NetworkStatusSource, prefs PreferencesRepository, vault KeyVault) *SettingsHandler {
	return &SettingsHandler{
		network:   network,
		prefs:     prefs,
		vault:     vault,
		validator: services.NewValidationHelper(),
	}
}

func (h *SettingsHandler) Routes(r chi.Router) {
	r.Get("/network/status", h.NetworkStatus)
	r.Get("/preferences/notifications", h.GetPreferences)
	r.Put("/preferences/notifications", h.UpdatePreferences)
	r.Get("/keystore/status", h.KeystoreStatus)
	r.Post("/keystore/lock", h.LockKeystore)
	r.Post("/keystore/unlock", h.UnlockKeystore)
}

// NetworkStatus
// @Summary Connectivity
// @Tags Network
// @Produce json
// @Success 200 {object} models.NetworkStatus
// @Router /network/status [get]
func (h *SettingsHandler) NetworkStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.network.Status())
}

// GetPreferences
// @Summary Notification preferences
// @Tags Preferences
// @Produce json
// @Success 200 {object} models.NotificationPreferences
// @Router /preferences/notifications [get]
func (h *SettingsHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.prefs.Get(r.Context())
	if err != nil {
		// defaults are still meaningful
		log.WithError(err).Warn("serving default notification preferences")
	}
	writeJSON(w, http.StatusOK, prefs)
}

// UpdatePreferences
// @Summary Update notification preferences
// @Tags Preferences
// @Accept json
// @Produce json
// @Param request body models.NotificationPreferences true "Preferences"
// @Success 200 {object} models.NotificationPreferences
// @Failure 400 {object} services.ErrorResponse
// @Router /preferences/notifications [put]
func (h *SettingsHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var prefs models.NotificationPreferences
	if !decodeBody(w, r, h.validator, &prefs) {
		return
	}

	if err := h.prefs.Save(r.Context(), prefs); err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// KeystoreStatus
// @Summary Keystore lock state
// @Tags Keystore
// @Produce json
// @Success 200 {object} object{locked=bool}
// @Router /keystore/status [get]
func (h *SettingsHandler) KeystoreStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"locked": h.vault.Locked()})
}

// LockKeystore wipes decrypted credentials from memory
// @Summary Lock keystore
// @Tags Keystore
// @Produce json
// @Success 200 {object} object{locked=bool}
// @Router /keystore/lock [post]
func (h *SettingsHandler) LockKeystore(w http.ResponseWriter, r *http.Request) {
	h.vault.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"locked": true})
}

// UnlockKeystore reloads credentials from disk
// @Summary Unlock keystore
// @Tags Keystore
// @Produce json
// @Success 200 {object} object{locked=bool}
// @Failure 500 {object} services.ErrorResponse
// @Router /keystore/unlock [post]
func (h *SettingsHandler) UnlockKeystore(w http.ResponseWriter, r *http.Request) {
	if err := h.vault.Reload(); err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locked": false})
}
