// Package echo exposes the small HTTP surface external callers use: initiate
// auth, handle the provider callback, run scans and query their status.
// Everything behind it is presentation concern and out of scope here.
package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/cloudguard/domain"
	"go.pilab.hu/cloudguard/internal/authflow"
	"go.pilab.hu/cloudguard/internal/lifecycle"
	"go.pilab.hu/cloudguard/internal/orchestrator"
	"go.pilab.hu/cloudguard/internal/scanner"
)

// CloudGuardAPI holds the handler dependencies.
type CloudGuardAPI struct {
	flows *authflow.Service
	conns *lifecycle.Manager
	scans *orchestrator.Orchestrator
}

// NewCloudGuardAPI initializes the API.
func NewCloudGuardAPI(flows *authflow.Service, conns *lifecycle.Manager, scans *orchestrator.Orchestrator) *CloudGuardAPI {
	return &CloudGuardAPI{flows: flows, conns: conns, scans: scans}
}

// RegisterRoutes registers the auth and scan routes.
func (a *CloudGuardAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/auth/initiate/:provider", a.InitiateHandler)
	e.GET("/auth/callback/:provider", a.CallbackHandler)

	e.GET("/connections", a.ListConnectionsHandler)
	e.DELETE("/connections/:provider", a.DisconnectHandler)

	e.POST("/scans/:provider/:type", a.RunScanHandler)
	e.GET("/scans/:id", a.ScanStatusHandler)
	e.GET("/scans", a.ListScansHandler)
	e.DELETE("/scans/:id", a.CancelScanHandler)
}

type initiateRequest struct {
	Scopes   []string `json:"scopes"`
	TenantID string   `json:"tenant_id,omitempty"`
}

// InitiateHandler starts an authorization flow and returns the URL the
// caller should send the user to.
func (a *CloudGuardAPI) InitiateHandler(c echo.Context) error {
	providerID := c.Param("provider")

	var req initiateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	flow, err := a.flows.InitiateFlow(c.Request().Context(), providerID, req.Scopes, req.TenantID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownProvider) {
			return c.JSON(http.StatusNotFound, errorBody(err.Error()))
		}
		log.Error().Err(err).Str("provider", providerID).Msg("failed to initiate flow")
		return c.JSON(http.StatusInternalServerError, errorBody("failed to initiate flow"))
	}
	return c.JSON(http.StatusOK, flow)
}

// CallbackHandler consumes the provider redirect carrying code and state.
func (a *CloudGuardAPI) CallbackHandler(c echo.Context) error {
	providerID := c.Param("provider")
	code := c.QueryParam("code")
	state := c.QueryParam("state")
	if code == "" || state == "" {
		return c.JSON(http.StatusBadRequest, errorBody("code and state are required"))
	}

	cred, err := a.flows.HandleCallback(c.Request().Context(), providerID, code, state)
	if err != nil {
		var uiErr *domain.UserInfoError
		switch {
		case errors.As(err, &uiErr) && cred != nil:
			// Identity fetch is best-effort; the connection stands.
			log.Warn().Err(err).Str("provider", providerID).Msg("connected without identity")
		case errors.Is(err, domain.ErrInvalidOrExpiredState):
			return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		case errors.Is(err, domain.ErrUnknownProvider):
			return c.JSON(http.StatusNotFound, errorBody(err.Error()))
		default:
			var exErr *domain.TokenExchangeError
			if errors.As(err, &exErr) {
				return c.JSON(http.StatusBadGateway, errorBody(exErr.Error()))
			}
			log.Error().Err(err).Str("provider", providerID).Msg("callback handling failed")
			return c.JSON(http.StatusInternalServerError, errorBody("callback handling failed"))
		}
	}

	return c.JSON(http.StatusOK, cred)
}

// ListConnectionsHandler reports the live connections.
func (a *CloudGuardAPI) ListConnectionsHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, a.conns.ListConnections())
}

// DisconnectHandler tears down a provider connection.
func (a *CloudGuardAPI) DisconnectHandler(c echo.Context) error {
	providerID := c.Param("provider")
	if !a.conns.Disconnect(providerID) {
		return c.JSON(http.StatusNotFound, errorBody("no connection for provider "+providerID))
	}
	return c.NoContent(http.StatusNoContent)
}

// RunScanHandler starts a scan and returns its id.
func (a *CloudGuardAPI) RunScanHandler(c echo.Context) error {
	providerID := c.Param("provider")
	scanType := c.Param("type")

	opts := scanner.Options{}
	if filter := c.QueryParam("filter"); filter != "" {
		opts.Params = map[string]string{"filter": filter}
	}

	scanID, err := a.scans.RunScan(providerID, scanType, opts)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveConnection) {
			return c.JSON(http.StatusConflict, errorBody(err.Error()))
		}
		log.Error().Err(err).Str("provider", providerID).Msg("failed to start scan")
		return c.JSON(http.StatusInternalServerError, errorBody("failed to start scan"))
	}
	return c.JSON(http.StatusAccepted, map[string]string{"scan_id": scanID})
}

// ScanStatusHandler returns one scan record.
func (a *CloudGuardAPI) ScanStatusHandler(c echo.Context) error {
	rec, ok := a.scans.GetStatus(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody("scan not found"))
	}
	return c.JSON(http.StatusOK, rec)
}

// ListScansHandler lists running scans, optionally filtered by provider.
func (a *CloudGuardAPI) ListScansHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, a.scans.ListActive(c.QueryParam("provider")))
}

// CancelScanHandler aborts an in-flight scan.
func (a *CloudGuardAPI) CancelScanHandler(c echo.Context) error {
	if !a.scans.Cancel(c.Param("id")) {
		return c.JSON(http.StatusNotFound, errorBody("scan not found or already finished"))
	}
	return c.NoContent(http.StatusNoContent)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
