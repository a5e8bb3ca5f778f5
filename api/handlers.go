package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"retro-api/domain"
)

const postItemMaxSize = 64 * 1024 // 64 KiB

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, repo Repository, auth Authenticator, sender *EventSender, logger *log.Logger) {
	boards := e.Group("/api/boards/:boardID")
	boards.POST("/items", createItem(repo, auth, sender))
	boards.GET("/items", listItems(repo, auth, logger))
	boards.GET("/items/:itemID", getItem(repo, auth))
	boards.DELETE("/items/:itemID", deleteItem(repo, auth, sender))
	boards.POST("/items/:itemID/upvote", upvoteItem(repo, auth, sender))
	boards.PUT("/items/:itemID/title", updateTitle(repo, auth, sender))
	boards.POST("/items/:parentID/children/:childID", adoptChild(repo, auth, sender))
	boards.POST("/items/:itemID/move", moveItem(repo, auth, sender))
	boards.GET("/items/:itemID/action-items", getActionItemIDs(repo, auth))
	boards.PUT("/items/:itemID/action-items/:workItemID", addActionItem(repo, auth))
	boards.DELETE("/items/:itemID/action-items/:workItemID", removeActionItem(repo, auth))
	boards.POST("/items/:itemID/action-items/:workItemID/reconcile", reconcileActionItem(repo, auth))
	boards.GET("/stream", streamBoard(repo, auth))

	e.GET("/healthz", healthz())
}

type createItemRequest struct {
	Title     string `json:"title"`
	ColumnID  string `json:"columnId"`
	Anonymous bool   `json:"anonymous"`
}

type updateTitleRequest struct {
	Title string `json:"title"`
}

type moveItemRequest struct {
	ColumnID string `json:"columnId"`
}

type actionItemIDsResponse struct {
	ActionItemIDs []int `json:"associatedActionItemIds"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func authenticate(c echo.Context, auth Authenticator) (domain.Identity, error) {
	return auth.IdentityFromAuthHeader(c.Request().Header.Get("Authorization"))
}

func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, postItemMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// respondItem maps the repository's item contract onto HTTP: a nil item is
// the swallowed-miss no-op and renders as 404, typed not-found errors do
// too, anything else is a 500.
func respondItem(c echo.Context, item *domain.FeedbackItem, err error) error {
	if err != nil {
		return respondError(c, err)
	}
	if item == nil {
		return c.String(http.StatusNotFound, "item not found")
	}
	return c.JSON(http.StatusOK, item)
}

func respondError(c echo.Context, err error) error {
	var notFound ItemNotFoundError
	if errors.As(err, &notFound) {
		return c.String(http.StatusNotFound, "item not found")
	}
	c.Logger().Error(err)
	return c.String(http.StatusInternalServerError, err.Error())
}

func createItem(repo Repository, auth Authenticator, sender *EventSender) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req createItemRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Title == "" || req.ColumnID == "" {
			return c.String(http.StatusBadRequest, "title and columnId are required")
		}

		boardID := c.Param("boardID")
		ctx := WithIdentity(c.Request().Context(), identity)
		item, err := repo.Create(ctx, boardID, req.Title, req.ColumnID, req.Anonymous)
		if err != nil {
			return respondError(c, err)
		}

		sender.Publish(boardEvent(boardID, item.ID, domain.EventItemCreated))
		return c.JSON(http.StatusCreated, item)
	}
}

func listItems(repo Repository, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newItemsRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := authenticate(c, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		boardID := c.Param("boardID")
		var ids []string
		if raw := strings.TrimSpace(c.QueryParam("ids")); raw != "" {
			ids = strings.Split(raw, ",")
			metrics.SetIDsRequested(len(ids))
		}

		fetchStart := time.Now()
		var items []domain.FeedbackItem
		var fetchErr error
		if len(ids) > 0 {
			items, fetchErr = repo.ListByIDs(ctx, boardID, ids)
		} else {
			items, fetchErr = repo.ListForBoard(ctx, boardID)
		}
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}
		metrics.SetItemsReturned(len(items))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, items)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func getItem(repo Repository, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		item, err := repo.Get(c.Request().Context(), c.Param("boardID"), c.Param("itemID"))
		return respondItem(c, item, err)
	}
}

func deleteItem(repo Repository, auth Authenticator, sender *EventSender) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		boardID := c.Param("boardID")
		itemID := c.Param("itemID")
		res, err := repo.Delete(c.Request().Context(), boardID, itemID)
		if err != nil {
			return respondError(c, err)
		}

		sender.Publish(boardEvent(boardID, itemID, domain.EventItemDeleted))
		return c.JSON(http.StatusOK, res)
	}
}

func upvoteItem(repo Repository, auth Authenticator, sender *EventSender) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		boardID := c.Param("boardID")
		item, err := repo.IncrementUpvote(c.Request().Context(), boardID, c.Param("itemID"))
		if err == nil && item != nil {
			sender.Publish(boardEvent(boardID, item.ID, domain.EventItemUpdated))
		}
		return respondItem(c, item, err)
	}
}

func updateTitle(repo Repository, auth Authenticator, sender *EventSender) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req updateTitleRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Title == "" {
			return c.String(http.StatusBadRequest, "title is required")
		}

		boardID := c.Param("boardID")
		item, err := repo.UpdateTitle(c.Request().Context(), boardID, c.Param("itemID"), req.Title)
		if err == nil && item != nil {
			sender.Publish(boardEvent(boardID, item.ID, domain.EventItemUpdated))
		}
		return respondItem(c, item, err)
	}
}

func adoptChild(repo Repository, auth Authenticator, sender *EventSender) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		boardID := c.Param("boardID")
		res, err := repo.AdoptAsChild(c.Request().Context(), boardID, c.Param("parentID"), c.Param("childID"))
		if err != nil {
			return respondError(c, err)
		}
		if res == nil {
			return c.String(http.StatusNotFound, "grouping rejected")
		}

		sender.Publish(boardEvent(boardID, res.Child.ID, domain.EventItemGrouped))
		return c.JSON(http.StatusOK, res)
	}
}

func moveItem(repo Repository, auth Authenticator, sender *EventSender) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req moveItemRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.ColumnID == "" {
			return c.String(http.StatusBadRequest, "columnId is required")
		}

		boardID := c.Param("boardID")
		res, err := repo.DetachToColumn(c.Request().Context(), boardID, c.Param("itemID"), req.ColumnID)
		if err != nil {
			return respondError(c, err)
		}
		if res == nil {
			return c.String(http.StatusNotFound, "item not found")
		}

		sender.Publish(boardEvent(boardID, res.Item.ID, domain.EventItemMoved))
		return c.JSON(http.StatusOK, res)
	}
}

func getActionItemIDs(repo Repository, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		ids, err := repo.GetAssociatedActionItemIDs(c.Request().Context(), c.Param("boardID"), c.Param("itemID"))
		if err != nil {
			return respondError(c, err)
		}
		if ids == nil {
			ids = []int{}
		}
		return c.JSON(http.StatusOK, actionItemIDsResponse{ActionItemIDs: ids})
	}
}

func addActionItem(repo Repository, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		workItemID, err := workItemIDParam(c)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid work item id")
		}

		item, err := repo.AddAssociatedActionItem(c.Request().Context(), c.Param("boardID"), c.Param("itemID"), workItemID)
		return respondItem(c, item, err)
	}
}

func removeActionItem(repo Repository, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		workItemID, err := workItemIDParam(c)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid work item id")
		}

		item, err := repo.RemoveAssociatedActionItem(c.Request().Context(), c.Param("boardID"), c.Param("itemID"), workItemID)
		return respondItem(c, item, err)
	}
}

func reconcileActionItem(repo Repository, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		workItemID, err := workItemIDParam(c)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid work item id")
		}

		item, err := repo.ReconcileWorkItem(c.Request().Context(), c.Param("boardID"), c.Param("itemID"), workItemID)
		return respondItem(c, item, err)
	}
}

func workItemIDParam(c echo.Context) (int, error) {
	return strconv.Atoi(c.Param("workItemID"))
}

func boardEvent(boardID, itemID, eventType string) domain.BoardEvent {
	return domain.BoardEvent{
		BoardID: boardID,
		ItemID:  itemID,
		Type:    eventType,
		Time:    time.Now().UnixMilli(),
	}
}
