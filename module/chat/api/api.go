// Package api is the HTTP read surface of the chat core: the chat list
// and room history, for clients loading a conversation before (or beside)
// the realtime channel.
package api

import (
	"net/http"

	midsec "medishare/middleware/security"
	"medishare/module/chat/model"
	"medishare/module/chat/store"
	"medishare/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

type API struct {
	store store.RoomStore
}

func New(st store.RoomStore) *API {
	return &API{store: st}
}

// Register mounts the read endpoints behind the auth middleware.
func (a *API) Register(r gin.IRoutes, opts *midsec.Options) {
	auth := midsec.Middleware(opts)
	r.GET("/api/chats", auth, a.listChats)
	r.GET("/api/chats/:listingId/messages", auth, a.history)
}

// listChats returns one entry per room the caller participates in.
func (a *API) listChats(c *gin.Context) {
	userID, _ := midsec.Identity(c)
	chats, err := a.store.ListForUser(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	if chats == nil {
		chats = []model.ChatSummary{}
	}
	c.JSON(http.StatusOK, chats)
}

// history returns the room's ordered message log. 404 when no room exists
// for the listing; 403 when the caller is not a participant.
func (a *API) history(c *gin.Context) {
	userID, _ := midsec.Identity(c)
	listingID := c.Param("listingId")

	room, err := a.store.GetRoom(c.Request.Context(), listingID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !room.IsParticipant(userID) {
		c.JSON(http.StatusForbidden, errs.ErrAccessDenied)
		return
	}
	c.JSON(http.StatusOK, room.Messages)
}

func writeError(c *gin.Context, err error) {
	var codeErr *errs.CodeError
	if !errors.As(err, &codeErr) {
		c.JSON(http.StatusInternalServerError, errs.ErrInternalServer)
		return
	}
	status := http.StatusInternalServerError
	switch codeErr.Code {
	case errs.RoomNotFoundCode:
		status = http.StatusNotFound
	case errs.AccessDeniedCode:
		status = http.StatusForbidden
	case errs.ValidationCode:
		status = http.StatusBadRequest
	}
	c.JSON(status, codeErr)
}
