package main

import (
	"fmt"
	"net/http"

	"github.com/gravitalia/signaly/sanction"

	"github.com/labstack/echo/v4"
)

type ReportBody struct {
	Vanity   string `json:"vanity"`
	Platform string `json:"platform"`
	Reason   int    `json:"reason"`
}

type SuspendBody struct {
	Vanity   string `json:"vanity"`
	Platform string `json:"platform"`
}

// Body of every API response.
type Response struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

func respond(c echo.Context, res *sanction.Result) error {
	handlerResults.WithLabelValues(c.Path(), res.Status.String()).Inc()
	return c.JSON(res.Status.HTTPStatus(), Response{
		Error:   res.IsError(),
		Message: res.Message,
	})
}

func (srv *Server) HandleReport(c echo.Context) error {
	var body ReportBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid body")
	}
	res := srv.engine.HandleReport(c.Request().Context(), sanction.ReportRequest{
		Token:    c.Request().Header.Get("Authorization"),
		Subject:  body.Vanity,
		Platform: body.Platform,
		Reason:   body.Reason,
	})
	return respond(c, res)
}

func (srv *Server) HandleSuspend(c echo.Context) error {
	var body SuspendBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid body")
	}
	res := srv.engine.HandleModeratorSuspend(c.Request().Context(), sanction.ModeratorRequest{
		Token:    c.Request().Header.Get("Authorization"),
		Subject:  body.Vanity,
		Platform: body.Platform,
	})
	return respond(c, res)
}

func (srv *Server) HandleUnsuspend(c echo.Context) error {
	var body SuspendBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid body")
	}
	res := srv.engine.HandleModeratorUnsuspend(c.Request().Context(), sanction.ModeratorRequest{
		Token:    c.Request().Header.Get("Authorization"),
		Subject:  body.Vanity,
		Platform: body.Platform,
	})
	return respond(c, res)
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	// the access log middleware already ran the handler for this error
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	errorMessage := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("signaly-http-internal-error", "err", err)
	}
	c.JSON(code, Response{Error: true, Message: errorMessage})
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, Response{Error: false, Message: "OK"})
}
