package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"sajda/internal/errors"
	"sajda/internal/location"
)

// The desktop host keeps /api/host/commands open, answers each command on
// /api/host/fix and pushes OS permission changes to /api/host/authorization.
func (s *Server) hostRoutes(g *echo.Group) {
	g.GET("/host/commands", s.hostCommands)
	g.POST("/host/authorization", s.hostAuthorization)
	g.POST("/host/fix", s.hostFix)
}

func (s *Server) hostCommands(c echo.Context) error {
	platform := c.QueryParam("platform")
	if platform == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "platform is required")
	}
	commands, detach, err := s.host.Attach(platform)
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	defer detach()

	log := s.log.With().Str("platform", platform).Logger()
	log.Info().Msg("host attached")

	res := c.Response()
	openStream(res)

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	ctx := c.Request().Context()
	for {
		var err error
		select {
		case <-ctx.Done():
			log.Info().Msg("host detached")
			return nil
		case cmd, ok := <-commands:
			if !ok {
				return nil
			}
			err = writeEvent(res, "command", cmd)
		case <-keepAlive.C:
			_, err = fmt.Fprint(res, ": ping\n\n")
			res.Flush()
		}
		if err != nil {
			log.Info().Err(err).Msg("host detached")
			return nil
		}
	}
}

type authorizationRequest struct {
	Code *int `json:"code"`
}

func (s *Server) hostAuthorization(c echo.Context) error {
	var req authorizationRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Code == nil || *req.Code < 0 || *req.Code > 4 {
		return echo.NewHTTPError(http.StatusBadRequest, "code must be 0-4")
	}
	s.host.SetAuthorization(*req.Code)
	return c.NoContent(http.StatusNoContent)
}

type fixRequest struct {
	ID           string  `json:"id"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Accuracy     float64 `json:"accuracy"`
	ErrorCode    int     `json:"error_code"`
	ErrorMessage string  `json:"error_message"`
}

func (s *Server) hostFix(c echo.Context) error {
	var req fixRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id is required")
	}
	err := s.host.DeliverFix(req.ID, location.NativeResult{
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		Accuracy:     req.Accuracy,
		ErrorCode:    req.ErrorCode,
		ErrorMessage: req.ErrorMessage,
	})
	if errors.Is(err, location.ErrUnknownRequest) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
