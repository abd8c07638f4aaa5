package api

import (
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskhub/domain"
	"taskhub/realtime"
)

const (
	defaultKeepAlive   = 25 * time.Second
	connectedEventName = "connected"
)

var newConnectionID = uuid.NewString

type connectedFrame struct {
	ConnectionID string `json:"connectionId"`
}

func writeEvent(w io.Writer, name string, payload any) error {
	data, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(name)+len(data)+16)
	buf = append(buf, "event: "...)
	buf = append(buf, name...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	_, err = w.Write(buf)
	return err
}

// streamEvents registers the caller as a live connection and forwards every
// event routed to it until the client goes away.
func streamEvents(hub *realtime.Hub, keepAlive time.Duration, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return &Problem{Status: http.StatusInternalServerError, Title: "stream unsupported"}
		}
		id := identityFrom(c)
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		connID := newConnectionID()
		events := hub.Connect(connID, id.UserID)
		defer hub.Disconnect(connID)
		l := logger.WithFields(log.Fields{"connection": connID, "user": id.UserID})
		l.Info("stream connected")
		defer l.Info("stream disconnected")

		if err := writeEvent(c.Response(), connectedEventName, connectedFrame{ConnectionID: connID}); err != nil {
			l.WithError(err).Debug("write connected frame")
			return nil
		}
		flusher.Flush()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				if err := writeEvent(c.Response(), ev.Name(), ev); err != nil {
					l.WithError(err).Debug("write event")
					return nil
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := io.WriteString(c.Response(), ": keepalive\n\n"); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

// ownConnection checks that connID is live and belongs to userID.
func ownConnection(registry *realtime.Registry, connID, userID string) error {
	owner, ok := registry.UserOf(connID)
	if !ok {
		return &domain.NotFoundError{Entity: "connection", ID: connID}
	}
	if owner != userID {
		return domain.ErrForbidden
	}
	return nil
}

func joinProject(hub *realtime.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		connID := c.Param("connectionId")
		if err := ownConnection(hub.Registry(), connID, identityFrom(c).UserID); err != nil {
			return err
		}
		hub.Registry().JoinProjectGroup(connID, c.Param("projectId"))
		return c.NoContent(http.StatusNoContent)
	}
}

func leaveProject(hub *realtime.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		connID := c.Param("connectionId")
		err := ownConnection(hub.Registry(), connID, identityFrom(c).UserID)
		if domain.IsNotFound(err) {
			// the stream already closed and took its memberships with it
			return c.NoContent(http.StatusNoContent)
		}
		if err != nil {
			return err
		}
		hub.Registry().LeaveProjectGroup(connID, c.Param("projectId"))
		return c.NoContent(http.StatusNoContent)
	}
}
