package handlers

import (
	"net/http"

	"github.com/gluk-w/claworc/tunneling/internal/database"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	regStatus := "disconnected"
	regBackend := "none"
	if Tunnels != nil {
		if reg := Tunnels.Registrar(); reg != nil {
			regStatus = "connected"
			regBackend = reg.BackendName()
		}
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":            status,
		"registrar":         regStatus,
		"registrar_backend": regBackend,
		"database":          dbStatus,
	})
}
